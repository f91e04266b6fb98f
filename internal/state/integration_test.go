package state_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/mockbackend"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/state"
	"kb-assistant-client/internal/storage"
)

// newIntegrationClient wires the full client stack against an in-process
// backend, the same composition the binaries use.
func newIntegrationClient(t *testing.T) (*state.Client, *storage.SQLiteKV) {
	t.Helper()
	srv := httptest.NewServer(mockbackend.NewServer(zerolog.Nop()).Router())
	t.Cleanup(srv.Close)

	kv := newTestKV(t)
	client := state.New(kv, func(token api.TokenFunc) api.Backend {
		return api.NewClient(srv.URL, 5*time.Second, token, zerolog.Nop())
	}, zerolog.Nop())
	return client, kv
}

func TestFirstConversationFlow(t *testing.T) {
	client, _ := newIntegrationClient(t)
	ctx := context.Background()

	require.NoError(t, client.Session.Register(ctx, models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "pw",
	}))
	assert.True(t, client.Session.IsAuthenticated())
	assert.Empty(t, client.Chats.Chats())
	assert.Zero(t, client.Chats.Selected())

	chat, err := client.Chats.Create(ctx, "Notes")
	require.NoError(t, err)
	assert.Equal(t, "Notes", chat.Title)
	assert.Equal(t, chat.ID, client.Chats.Selected())

	titles := 0
	for _, c := range client.Chats.Chats() {
		if c.Title == "Notes" {
			titles++
		}
	}
	assert.Equal(t, 1, titles)

	require.NoError(t, client.Messages.Send(ctx, chat.ID, "hi"))

	msgs := client.Messages.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, models.MessageConfirmed, msgs[0].State)
	assert.Equal(t, models.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, models.MessageConfirmed, msgs[1].State)
	assert.False(t, client.Messages.Typing())
}

func TestUploadBatchFlow(t *testing.T) {
	client, _ := newIntegrationClient(t)
	ctx := context.Background()

	require.NoError(t, client.Session.Register(ctx, models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "pw",
	}))
	chat, err := client.Chats.Create(ctx, "Research")
	require.NoError(t, err)

	outcomes := client.Documents.Upload(ctx, chat.ID, []state.UploadFile{
		{Name: "report.pdf", Data: bytes.Repeat([]byte("a"), 3<<20)},
		{Name: "notes.exe", Data: []byte("MZ")},
	})

	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	var valErr *models.ValidationError
	require.ErrorAs(t, outcomes[1].Err, &valErr)

	docs := client.Documents.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "report.pdf", docs[0].Filename)
	assert.Equal(t, models.DocumentIngested, docs[0].Status)
	assert.NotEmpty(t, docs[0].ID)

	// Flag the document and confirm the filter reaches the assistant.
	client.Documents.ToggleSelection(docs[0].ID, true)
	require.NoError(t, client.Messages.Send(ctx, chat.ID, "what does the report cover?"))

	msgs := client.Messages.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "1 selected document(s)")
}

func TestRestartRestoresSessionAndSelection(t *testing.T) {
	srv := httptest.NewServer(mockbackend.NewServer(zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	kv := newTestKV(t)
	newBackend := func(token api.TokenFunc) api.Backend {
		return api.NewClient(srv.URL, 5*time.Second, token, zerolog.Nop())
	}
	ctx := context.Background()

	first := state.New(kv, newBackend, zerolog.Nop())
	require.NoError(t, first.Session.Register(ctx, models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "pw",
	}))
	chat, err := first.Chats.Create(ctx, "Notes")
	require.NoError(t, err)
	require.NoError(t, first.Messages.Send(ctx, chat.ID, "hi"))

	// A fresh composition over the same cache is the restart.
	second := state.New(kv, newBackend, zerolog.Nop())
	require.True(t, second.Session.IsAuthenticated())

	second.Chats.Hydrate(ctx)

	assert.Equal(t, chat.ID, second.Chats.Selected())
	msgs := second.Messages.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestLogoutLeavesNoUsableSession(t *testing.T) {
	client, kv := newIntegrationClient(t)
	ctx := context.Background()

	require.NoError(t, client.Session.Register(ctx, models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "pw",
	}))
	chat, err := client.Chats.Create(ctx, "Notes")
	require.NoError(t, err)
	require.NoError(t, client.Messages.Send(ctx, chat.ID, "hi"))

	client.Session.Logout()

	var token string
	assert.False(t, kv.Get("session/token", &token))

	_, err = client.Chats.Create(ctx, "After logout")
	var authErr *models.AuthError
	assert.ErrorAs(t, err, &authErr)
}
