package api

import (
	"context"

	"kb-assistant-client/internal/models"
)

// Backend defines the request/response capability the state layer depends
// on. *Client is the real implementation; tests substitute a mock.
type Backend interface {
	// Register creates an account. It does not log in.
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)

	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, creds models.Credentials) (string, error)

	// ListChats fetches the chat list in backend order.
	ListChats(ctx context.Context) ([]models.Chat, error)

	// CreateChat creates a chat and returns the server-assigned record.
	CreateChat(ctx context.Context, title string) (*models.Chat, error)

	// DeleteChat deletes a chat and everything scoped to it.
	DeleteChat(ctx context.Context, chatID int64) error

	// ListMessages fetches the full transcript for a chat.
	ListMessages(ctx context.Context, chatID int64) ([]models.Message, error)

	// SendMessage posts a user message and returns the confirmed user
	// message plus the assistant reply.
	SendMessage(ctx context.Context, chatID int64, content string, docIDs []string) (*models.SendMessageResponse, error)

	// ListDocuments fetches the documents uploaded into a chat.
	ListDocuments(ctx context.Context, chatID int64) ([]models.Document, error)

	// UploadDocument uploads one file into a chat.
	UploadDocument(ctx context.Context, chatID int64, filename string, data []byte) (*models.IngestResult, error)

	// DeleteDocument removes a document from a chat.
	DeleteDocument(ctx context.Context, chatID int64, docID string) error

	// Query runs a one-off retrieval-augmented query, optionally
	// restricted to the given document ids.
	Query(ctx context.Context, query string, docIDs []string) (string, error)

	// Health probes the backend.
	Health(ctx context.Context) error
}

var _ Backend = (*Client)(nil)
