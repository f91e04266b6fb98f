package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/storage"
)

// MessageReconciler owns the visible transcript for the selected chat. Sends
// are optimistic: the user's message appears immediately under a local id
// and is replaced wholesale by the server's copy (or rolled back) when the
// response arrives. The last confirmed transcript is mirrored into the
// durable cache as a fallback display layer, overwritten on every fetch.
type MessageReconciler struct {
	notifier

	mu          sync.Mutex
	kv          storage.KV
	backend     api.Backend
	session     *SessionStore
	logger      zerolog.Logger
	selectedIDs func() []string

	chatID   int64
	messages []models.Message
	typing   bool
	sending  bool
}

func NewMessageReconciler(kv storage.KV, session *SessionStore, selectedIDs func() []string, logger zerolog.Logger) *MessageReconciler {
	return &MessageReconciler{
		kv:          kv,
		session:     session,
		selectedIDs: selectedIDs,
		logger:      logger.With().Str("component", "messages").Logger(),
	}
}

func transcriptKey(chatID int64) string {
	return fmt.Sprintf("chat/%d/transcript", chatID)
}

// Messages returns a snapshot of the visible transcript.
func (m *MessageReconciler) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages...)
}

// Typing reports whether the typing indicator is showing. The indicator is
// transient and never persisted.
func (m *MessageReconciler) Typing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// Sending reports whether a send is outstanding. The send affordance stays
// disabled while it is, which keeps at most one optimistic message per chat.
func (m *MessageReconciler) Sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sending
}

// LoadHistory scopes the transcript to chatID, showing the cached copy
// until the server list lands. Server state wins entirely; nothing is
// merged. A response for a chat that is no longer selected is discarded.
func (m *MessageReconciler) LoadHistory(ctx context.Context, chatID int64) {
	m.mu.Lock()
	m.chatID = chatID
	m.typing = false
	m.sending = false
	var cached []models.Message
	if m.kv.Get(transcriptKey(chatID), &cached) {
		m.messages = cached
	} else {
		m.messages = nil
	}
	m.mu.Unlock()
	m.notify()

	serverMessages, err := m.backend.ListMessages(ctx, chatID)
	if err != nil {
		m.session.Invalidate(err)
		m.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("History fetch failed, keeping cached transcript")
		return
	}

	m.mu.Lock()
	if m.chatID != chatID {
		// The user has moved on; this response is stale.
		m.mu.Unlock()
		return
	}
	for i := range serverMessages {
		serverMessages[i].State = models.MessageConfirmed
	}
	m.messages = serverMessages
	m.persistLocked(chatID)
	m.mu.Unlock()
	m.notify()
}

// Send posts text to the chat. The message is visible immediately as an
// optimistic entry alongside the typing indicator; on success both are
// replaced by the server-confirmed user and assistant messages in server
// order, on failure both are removed and a SendError is returned. The
// current document selection rides along as the retrieval filter; an empty
// selection means "search all".
func (m *MessageReconciler) Send(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.NewValidationError("message", "must not be empty")
	}

	m.mu.Lock()
	if m.sending {
		m.mu.Unlock()
		return models.NewValidationError("message", "a send is already in progress")
	}
	localID := uuid.New().String()
	m.messages = append(m.messages, models.Message{
		LocalID:   localID,
		ChatID:    chatID,
		Sender:    models.SenderUser,
		Content:   text,
		State:     models.MessageOptimistic,
		CreatedAt: time.Now(),
	})
	m.typing = true
	m.sending = true
	m.mu.Unlock()
	m.notify()

	resp, err := m.backend.SendMessage(ctx, chatID, text, m.selectedIDs())

	m.mu.Lock()
	if m.chatID != chatID {
		// Selection changed mid-flight; the transcript was already
		// replaced and the optimistic entry is gone with it.
		m.mu.Unlock()
		if err != nil {
			m.session.Invalidate(err)
			return &models.SendError{ChatID: chatID, Err: err}
		}
		return nil
	}
	m.removeLocalLocked(localID)
	m.typing = false
	m.sending = false
	if err == nil {
		user := resp.UserMessage
		ai := resp.AIMessage
		user.State = models.MessageConfirmed
		ai.State = models.MessageConfirmed
		m.messages = append(m.messages, user, ai)
		m.persistLocked(chatID)
	}
	m.mu.Unlock()
	m.notify()

	if err != nil {
		m.session.Invalidate(err)
		return &models.SendError{ChatID: chatID, Err: err}
	}
	return nil
}

func (m *MessageReconciler) removeLocalLocked(localID string) {
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.LocalID != localID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
}

// Hydrate is a no-op: transcripts load on chat selection, not on login.
func (m *MessageReconciler) Hydrate(ctx context.Context) {}

// Reset drops the transcript, indicator, and scope.
func (m *MessageReconciler) Reset() {
	m.mu.Lock()
	m.chatID = 0
	m.messages = nil
	m.typing = false
	m.sending = false
	m.mu.Unlock()
	m.notify()
}

// persistLocked mirrors the confirmed transcript into the cache. Optimistic
// entries never hit disk.
func (m *MessageReconciler) persistLocked(chatID int64) {
	confirmed := make([]models.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if msg.State == models.MessageConfirmed {
			confirmed = append(confirmed, msg)
		}
	}
	if err := m.kv.Set(transcriptKey(chatID), confirmed); err != nil {
		m.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to persist transcript")
	}
}

func (m *MessageReconciler) setBackend(b api.Backend) {
	m.backend = b
}
