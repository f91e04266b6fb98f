package state

import (
	"context"

	"github.com/rs/zerolog"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/storage"
)

// Client bundles the reconciliation components, wired together: login
// hydrates the registry, selecting a chat loads its transcript and ledger,
// deleting the selected chat resets both, logout resets everything.
type Client struct {
	Session   *SessionStore
	Chats     *ChatRegistry
	Documents *DocumentLedger
	Messages  *MessageReconciler

	backend api.Backend
}

// Ask runs a one-off retrieval query with the current document selection as
// the filter. It does not touch any chat transcript.
func (c *Client) Ask(ctx context.Context, query string) (string, error) {
	answer, err := c.backend.Query(ctx, query, c.Documents.SelectedIDs())
	if err != nil {
		c.Session.Invalidate(err)
		return "", err
	}
	return answer, nil
}

// New builds the component graph. newBackend receives the session's token
// source so authenticated requests always read the token at call time.
func New(kv storage.KV, newBackend func(api.TokenFunc) api.Backend, logger zerolog.Logger) *Client {
	session := NewSessionStore(kv, logger)
	backend := newBackend(session.Token)
	session.setBackend(backend)

	chats := NewChatRegistry(kv, session, logger)
	chats.setBackend(backend)

	documents := NewDocumentLedger(kv, session, logger)
	documents.setBackend(backend)

	messages := NewMessageReconciler(kv, session, documents.SelectedIDs, logger)
	messages.setBackend(backend)

	chats.onSelect = append(chats.onSelect, documents.LoadForChat, messages.LoadHistory)
	chats.onDeselect = append(chats.onDeselect, documents.Reset, messages.Reset)

	session.AddDependent(chats)
	session.AddDependent(documents)
	session.AddDependent(messages)

	return &Client{
		Session:   session,
		Chats:     chats,
		Documents: documents,
		Messages:  messages,
		backend:   backend,
	}
}
