package state

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/storage"
)

// ChatRegistry owns the chat list and the current selection. Ordering is
// whatever the backend returns; the client never re-sorts.
type ChatRegistry struct {
	notifier

	mu       sync.Mutex
	kv       storage.KV
	backend  api.Backend
	session  *SessionStore
	logger   zerolog.Logger
	chats    []models.Chat
	selected int64 // 0 means no selection

	// onSelect is invoked with the newly selected chat id so the
	// transcript and document ledger can load their scoped state.
	onSelect []func(context.Context, int64)
	// onDeselect resets chat-scoped dependents after selection is lost.
	onDeselect []func()
}

func NewChatRegistry(kv storage.KV, session *SessionStore, logger zerolog.Logger) *ChatRegistry {
	return &ChatRegistry{
		kv:      kv,
		session: session,
		logger:  logger.With().Str("component", "chats").Logger(),
	}
}

// Chats returns a snapshot of the current list.
func (r *ChatRegistry) Chats() []models.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Chat(nil), r.chats...)
}

// Selected returns the selected chat id, 0 when none.
func (r *ChatRegistry) Selected() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// List refreshes the chat list from the backend. A failed refresh logs and
// leaves the last-known list unchanged; chats are not cached beyond that.
func (r *ChatRegistry) List(ctx context.Context) []models.Chat {
	chats, err := r.backend.ListChats(ctx)
	if err != nil {
		r.session.Invalidate(err)
		r.logger.Warn().Err(err).Msg("Chat list refresh failed, keeping last-known list")
		return r.Chats()
	}

	r.mu.Lock()
	r.chats = chats
	r.mu.Unlock()
	r.notify()
	return append([]models.Chat(nil), chats...)
}

// Create creates a chat, appends the server-assigned record, and selects it.
func (r *ChatRegistry) Create(ctx context.Context, title string) (*models.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.NewValidationError("title", "must not be empty")
	}

	chat, err := r.backend.CreateChat(ctx, title)
	if err != nil {
		r.session.Invalidate(err)
		return nil, err
	}

	r.mu.Lock()
	r.chats = append(r.chats, *chat)
	r.mu.Unlock()
	r.notify()

	r.Select(ctx, chat.ID)
	return chat, nil
}

// Select switches the current chat. Re-selecting the current chat touches
// no network and loads nothing, but still notifies so the view re-renders.
func (r *ChatRegistry) Select(ctx context.Context, chatID int64) {
	r.mu.Lock()
	same := r.selected == chatID
	r.selected = chatID
	if !same {
		if err := r.kv.Set(keySelectedChat, chatID); err != nil {
			r.logger.Error().Err(err).Msg("Failed to persist chat selection")
		}
	}
	callbacks := make([]func(context.Context, int64), len(r.onSelect))
	copy(callbacks, r.onSelect)
	r.mu.Unlock()

	if !same {
		for _, fn := range callbacks {
			fn(ctx, chatID)
		}
	}
	r.notify()
}

// Delete removes a chat server-side, clears a matching selection, and
// re-fetches the list rather than splicing it locally, so concurrent
// server-side changes cannot drift the client copy. Confirmation is the
// caller's concern.
func (r *ChatRegistry) Delete(ctx context.Context, chatID int64) error {
	if err := r.backend.DeleteChat(ctx, chatID); err != nil {
		r.session.Invalidate(err)
		return err
	}

	// The chat's messages and documents go with it.
	if err := r.kv.Remove(transcriptKey(chatID)); err != nil {
		r.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to remove cached transcript")
	}
	if err := r.kv.Remove(docsKey(chatID)); err != nil {
		r.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to remove cached documents")
	}

	r.mu.Lock()
	wasSelected := r.selected == chatID
	if wasSelected {
		r.selected = 0
		if err := r.kv.Remove(keySelectedChat); err != nil {
			r.logger.Error().Err(err).Msg("Failed to clear persisted chat selection")
		}
	}
	resets := make([]func(), len(r.onDeselect))
	copy(resets, r.onDeselect)
	r.mu.Unlock()

	if wasSelected {
		for _, fn := range resets {
			fn()
		}
	}

	r.List(ctx)
	return nil
}

// Hydrate restores the persisted selection and fetches the chat list. A
// persisted selection that no longer exists server-side is dropped.
func (r *ChatRegistry) Hydrate(ctx context.Context) {
	var selected int64
	restored := r.kv.Get(keySelectedChat, &selected)

	chats := r.List(ctx)

	if !restored {
		return
	}
	for _, chat := range chats {
		if chat.ID == selected {
			r.Select(ctx, selected)
			return
		}
	}
	r.mu.Lock()
	r.selected = 0
	if err := r.kv.Remove(keySelectedChat); err != nil {
		r.logger.Error().Err(err).Msg("Failed to clear stale chat selection")
	}
	r.mu.Unlock()
	r.notify()
}

// Reset drops all chat state. Persisted selection is cleared by the session
// store during logout.
func (r *ChatRegistry) Reset() {
	r.mu.Lock()
	r.chats = nil
	r.selected = 0
	r.mu.Unlock()
	r.notify()
}

func (r *ChatRegistry) setBackend(b api.Backend) {
	r.backend = b
}
