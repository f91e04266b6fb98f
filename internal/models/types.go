package models

import "time"

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name"`
	Password string `json:"password" binding:"required"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type Chat struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateChatRequest struct {
	Title string `json:"title" binding:"required"`
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageState tracks where a transcript entry stands relative to the
// backend. Optimistic entries are never mutated into confirmed ones; they
// are removed and replaced by the server's copy.
type MessageState string

const (
	MessageOptimistic MessageState = "optimistic"
	MessageConfirmed  MessageState = "confirmed"
)

type Message struct {
	// ID is the server-assigned identifier, zero until confirmed.
	ID int64 `json:"id,omitempty"`
	// LocalID is a client-generated identifier carried only by
	// optimistic entries.
	LocalID   string       `json:"local_id,omitempty"`
	ChatID    int64        `json:"chat_id,omitempty"`
	Sender    Sender       `json:"sender"`
	Content   string       `json:"content"`
	State     MessageState `json:"state,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

type SendMessageRequest struct {
	Content string   `json:"content" binding:"required"`
	DocIDs  []string `json:"doc_ids,omitempty"`
}

// SendMessageResponse carries the server's echo of the user message and the
// assistant reply, in that order.
type SendMessageResponse struct {
	UserMessage Message `json:"user_message"`
	AIMessage   Message `json:"ai_message"`
}

type DocumentStatus string

const (
	DocumentUploading  DocumentStatus = "uploading"
	DocumentProcessing DocumentStatus = "processing"
	DocumentIngested   DocumentStatus = "ingested"
	DocumentFailed     DocumentStatus = "failed"
)

type Document struct {
	// LocalKey identifies the document on this client before (and after)
	// the server assigns an ID. It is independent of the filename so two
	// files with the same name in one batch stay distinguishable.
	LocalKey string         `json:"local_key"`
	ID       string         `json:"id,omitempty"`
	Filename string         `json:"filename"`
	FileSize int64          `json:"file_size,omitempty"`
	Status   DocumentStatus `json:"status"`
	Selected bool           `json:"selected"`
	Error    string         `json:"error,omitempty"`
}

// IngestResult is the backend's acknowledgement for one uploaded file.
type IngestResult struct {
	Filename string `json:"filename"`
	DocID    string `json:"doc_id,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type IngestResponse struct {
	Message string         `json:"message"`
	Files   []IngestResult `json:"files"`
}

// UploadOutcome reports the per-file result of a batch upload. Err is a
// ValidationError for files rejected before any network call, or the
// network/server error for files whose upload failed.
type UploadOutcome struct {
	Filename string
	LocalKey string
	Err      error
}

type QueryRequest struct {
	Query  string   `json:"query" binding:"required"`
	DocIDs []string `json:"doc_ids,omitempty"`
}

type QueryResponse struct {
	Response string `json:"response"`
	Source   string `json:"source,omitempty"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
