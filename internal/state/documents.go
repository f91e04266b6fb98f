package state

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/storage"
)

// Upload constraints enforced before any network call.
const MaxUploadBytes = 10 << 20 // 10 MiB

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
}

// UploadFile is one file handed to Upload: a name and its raw content.
type UploadFile struct {
	Name string
	Data []byte
}

// DocumentLedger owns the per-chat document set: ingestion status and the
// retrieval-inclusion flag. It is the sole writer of Selected, which only
// shapes outgoing queries and never touches the server-side document. The
// set is mirrored into the durable cache so selection survives restarts.
type DocumentLedger struct {
	notifier

	mu      sync.Mutex
	kv      storage.KV
	backend api.Backend
	session *SessionStore
	logger  zerolog.Logger
	chatID  int64 // current scope, 0 when no chat is selected
	docs    []models.Document
}

func NewDocumentLedger(kv storage.KV, session *SessionStore, logger zerolog.Logger) *DocumentLedger {
	return &DocumentLedger{
		kv:      kv,
		session: session,
		logger:  logger.With().Str("component", "documents").Logger(),
	}
}

func docsKey(chatID int64) string {
	return fmt.Sprintf("chat/%d/documents", chatID)
}

// Documents returns a snapshot of the ledger for the current chat.
func (l *DocumentLedger) Documents() []models.Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Document(nil), l.docs...)
}

// LoadForChat scopes the ledger to chatID: cached entries (with their
// selection flags) appear immediately, then the server list reconciles
// existence and status. Selection flags are client-local and survive the
// reconcile. A response that arrives after the user moved to another chat
// is discarded.
func (l *DocumentLedger) LoadForChat(ctx context.Context, chatID int64) {
	l.mu.Lock()
	l.chatID = chatID
	var cached []models.Document
	if l.kv.Get(docsKey(chatID), &cached) {
		l.docs = cached
	} else {
		l.docs = nil
	}
	l.mu.Unlock()
	l.notify()

	serverDocs, err := l.backend.ListDocuments(ctx, chatID)
	if err != nil {
		l.session.Invalidate(err)
		l.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Document list fetch failed, keeping cached entries")
		return
	}

	l.mu.Lock()
	if l.chatID != chatID {
		l.mu.Unlock()
		return
	}
	selected := make(map[string]bool, len(l.docs))
	for _, doc := range l.docs {
		if doc.ID != "" {
			selected[doc.ID] = doc.Selected
		}
	}
	merged := make([]models.Document, 0, len(serverDocs))
	for _, doc := range serverDocs {
		if doc.LocalKey == "" {
			doc.LocalKey = uuid.New().String()
		}
		if doc.Status == "" {
			doc.Status = models.DocumentIngested
		}
		doc.Selected = selected[doc.ID]
		merged = append(merged, doc)
	}
	l.docs = merged
	l.persistLocked()
	l.mu.Unlock()
	l.notify()
}

// Upload validates each file locally, registers the valid ones in the
// uploading state under a provisional client-local key, and uploads them
// concurrently. One file's failure never blocks or rolls back its siblings;
// outcomes are reported per file in input order. Files that fail validation
// never reach the network and never enter the ledger.
func (l *DocumentLedger) Upload(ctx context.Context, chatID int64, files []UploadFile) []models.UploadOutcome {
	l.mu.Lock()
	if l.chatID != chatID {
		// Uploading into a chat the ledger is not scoped to re-scopes it,
		// picking up that chat's cached entries first.
		l.chatID = chatID
		l.docs = nil
		var cached []models.Document
		if l.kv.Get(docsKey(chatID), &cached) {
			l.docs = cached
		}
	}
	l.mu.Unlock()

	outcomes := make([]models.UploadOutcome, len(files))

	var wg sync.WaitGroup
	for i, file := range files {
		outcomes[i].Filename = file.Name

		if err := validateUpload(file); err != nil {
			outcomes[i].Err = err
			continue
		}

		localKey := uuid.New().String()
		outcomes[i].LocalKey = localKey

		l.mu.Lock()
		l.docs = append(l.docs, models.Document{
			LocalKey: localKey,
			Filename: file.Name,
			FileSize: int64(len(file.Data)),
			Status:   models.DocumentUploading,
		})
		l.persistLocked()
		l.mu.Unlock()
		l.notify()

		wg.Add(1)
		go func(i int, file UploadFile, localKey string) {
			defer wg.Done()
			outcomes[i].Err = l.uploadOne(ctx, chatID, file, localKey)
		}(i, file, localKey)
	}
	wg.Wait()

	return outcomes
}

func (l *DocumentLedger) uploadOne(ctx context.Context, chatID int64, file UploadFile, localKey string) error {
	result, err := l.backend.UploadDocument(ctx, chatID, file.Name, file.Data)
	if err != nil {
		l.session.Invalidate(err)
		l.transition(localKey, "", models.DocumentFailed, err.Error())
		return err
	}

	status, errMsg := statusFromIngest(result)
	l.transition(localKey, result.DocID, status, errMsg)
	if status == models.DocumentFailed {
		return &models.ServerError{Detail: errMsg}
	}
	return nil
}

// transition moves one document through its status machine and adopts the
// server-assigned id once known.
func (l *DocumentLedger) transition(localKey, docID string, status models.DocumentStatus, errMsg string) {
	l.mu.Lock()
	for i := range l.docs {
		if l.docs[i].LocalKey != localKey {
			continue
		}
		if docID != "" {
			l.docs[i].ID = docID
		}
		l.docs[i].Status = status
		l.docs[i].Error = errMsg
		break
	}
	l.persistLocked()
	l.mu.Unlock()
	l.notify()
}

// ToggleSelection flips the retrieval-inclusion flag for one document and
// persists immediately. It is a pure local mutation with no network effect.
// The key may be either the server id or the provisional local key.
func (l *DocumentLedger) ToggleSelection(key string, selected bool) {
	l.mu.Lock()
	for i := range l.docs {
		if l.docs[i].ID == key || l.docs[i].LocalKey == key {
			l.docs[i].Selected = selected
			break
		}
	}
	l.persistLocked()
	l.mu.Unlock()
	l.notify()
}

// SelectedIDs returns the server ids of documents flagged for retrieval. An
// empty result means "no filter": the query searches all documents.
func (l *DocumentLedger) SelectedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for _, doc := range l.docs {
		if doc.Selected && doc.ID != "" {
			ids = append(ids, doc.ID)
		}
	}
	return ids
}

// Remove deletes a document server-side, then drops the local entry and its
// persisted selection flag. Confirmation is the caller's concern.
func (l *DocumentLedger) Remove(ctx context.Context, chatID int64, docID string) error {
	if err := l.backend.DeleteDocument(ctx, chatID, docID); err != nil {
		l.session.Invalidate(err)
		return err
	}

	l.mu.Lock()
	kept := l.docs[:0]
	for _, doc := range l.docs {
		if doc.ID != docID {
			kept = append(kept, doc)
		}
	}
	l.docs = kept
	l.persistLocked()
	l.mu.Unlock()
	l.notify()
	return nil
}

// Hydrate is a no-op: ledger state is scoped to a chat and loads on
// selection, not on login.
func (l *DocumentLedger) Hydrate(ctx context.Context) {}

// Reset drops all document state and scope.
func (l *DocumentLedger) Reset() {
	l.mu.Lock()
	l.chatID = 0
	l.docs = nil
	l.mu.Unlock()
	l.notify()
}

func (l *DocumentLedger) persistLocked() {
	if l.chatID == 0 {
		return
	}
	if err := l.kv.Set(docsKey(l.chatID), l.docs); err != nil {
		l.logger.Error().Err(err).Int64("chat_id", l.chatID).Msg("Failed to persist document ledger")
	}
}

func (l *DocumentLedger) setBackend(b api.Backend) {
	l.backend = b
}

func validateUpload(file UploadFile) error {
	ext := strings.ToLower(filepath.Ext(file.Name))
	if !allowedExtensions[ext] {
		return models.NewValidationError(file.Name, fmt.Sprintf("unsupported file type %q, allowed: .pdf, .docx", ext))
	}
	if int64(len(file.Data)) > MaxUploadBytes {
		return models.NewValidationError(file.Name, "file exceeds the 10 MiB upload limit")
	}
	return nil
}

func statusFromIngest(result *models.IngestResult) (models.DocumentStatus, string) {
	switch strings.ToLower(result.Status) {
	case "processing":
		return models.DocumentProcessing, ""
	case "ingested", "indexed", "completed":
		return models.DocumentIngested, ""
	default:
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "ingestion failed"
		}
		return models.DocumentFailed, errMsg
	}
}
