package state_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kb-assistant-client/internal/api/mocks"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/state"
)

// selectEmptyChat scopes the transcript and ledger to chatID with nothing in
// it server-side.
func selectEmptyChat(t *testing.T, client *state.Client, backend *mocks.MockBackend, chatID int64) {
	t.Helper()
	backend.On("ListMessages", mock.Anything, chatID).Return([]models.Message{}, nil).Once()
	backend.On("ListDocuments", mock.Anything, chatID).Return([]models.Document{}, nil).Once()
	client.Chats.Select(context.Background(), chatID)
}

func TestSend(t *testing.T) {
	t.Run("Send_EmptyText_FailsWithoutNetworkCall", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)

		err := client.Messages.Send(context.Background(), 1, "  \n ")

		var valErr *models.ValidationError
		require.ErrorAs(t, err, &valErr)
		backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Send_ShowsOptimisticEntryAndTypingWhileInFlight", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)
		selectEmptyChat(t, client, backend, 1)

		backend.On("SendMessage", mock.Anything, int64(1), "hi", mock.Anything).
			Run(func(mock.Arguments) {
				msgs := client.Messages.Messages()
				require.Len(t, msgs, 1)
				assert.Equal(t, models.MessageOptimistic, msgs[0].State)
				assert.Equal(t, models.SenderUser, msgs[0].Sender)
				assert.NotEmpty(t, msgs[0].LocalID)
				assert.True(t, client.Messages.Typing())
				assert.True(t, client.Messages.Sending())
			}).
			Return(&models.SendMessageResponse{
				UserMessage: models.Message{ID: 1, ChatID: 1, Sender: models.SenderUser, Content: "hi"},
				AIMessage:   models.Message{ID: 2, ChatID: 1, Sender: models.SenderAssistant, Content: "hello"},
			}, nil)

		require.NoError(t, client.Messages.Send(context.Background(), 1, "hi"))

		msgs := client.Messages.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, models.SenderUser, msgs[0].Sender)
		assert.Equal(t, models.MessageConfirmed, msgs[0].State)
		assert.Equal(t, models.SenderAssistant, msgs[1].Sender)
		assert.Equal(t, models.MessageConfirmed, msgs[1].State)
		assert.False(t, client.Messages.Typing())
		assert.False(t, client.Messages.Sending())
	})

	t.Run("Send_CarriesCurrentDocumentSelection", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)
		backend.On("ListDocuments", mock.Anything, int64(1)).Return([]models.Document{
			{ID: "doc-1", Filename: "report.pdf", Status: models.DocumentIngested},
			{ID: "doc-2", Filename: "minutes.docx", Status: models.DocumentIngested},
		}, nil)
		backend.On("ListMessages", mock.Anything, int64(1)).Return([]models.Message{}, nil)
		client.Chats.Select(context.Background(), 1)
		client.Documents.ToggleSelection("doc-2", true)

		backend.On("SendMessage", mock.Anything, int64(1), "hi", []string{"doc-2"}).
			Return(&models.SendMessageResponse{
				UserMessage: models.Message{ID: 1, Sender: models.SenderUser, Content: "hi"},
				AIMessage:   models.Message{ID: 2, Sender: models.SenderAssistant, Content: "hello"},
			}, nil)

		require.NoError(t, client.Messages.Send(context.Background(), 1, "hi"))
		backend.AssertExpectations(t)
	})

	t.Run("Send_Failure_RemovesOptimisticEntryAndIndicator", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)
		selectEmptyChat(t, client, backend, 1)
		backend.On("SendMessage", mock.Anything, int64(1), "hi", mock.Anything).
			Return(nil, &models.NetworkError{Op: "send", Err: context.DeadlineExceeded})

		err := client.Messages.Send(context.Background(), 1, "hi")

		var sendErr *models.SendError
		require.ErrorAs(t, err, &sendErr)
		assert.Equal(t, int64(1), sendErr.ChatID)
		assert.Empty(t, client.Messages.Messages())
		assert.False(t, client.Messages.Typing())
		assert.False(t, client.Messages.Sending())
	})

	t.Run("Send_WhileInFlight_IsRejected", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)
		selectEmptyChat(t, client, backend, 1)

		release := make(chan struct{})
		backend.On("SendMessage", mock.Anything, int64(1), "first", mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(&models.SendMessageResponse{
				UserMessage: models.Message{ID: 1, Sender: models.SenderUser, Content: "first"},
				AIMessage:   models.Message{ID: 2, Sender: models.SenderAssistant, Content: "reply"},
			}, nil)

		done := make(chan error, 1)
		go func() {
			done <- client.Messages.Send(context.Background(), 1, "first")
		}()

		require.Eventually(t, client.Messages.Sending, waitFor, tick)

		err := client.Messages.Send(context.Background(), 1, "second")
		var valErr *models.ValidationError
		require.ErrorAs(t, err, &valErr)

		close(release)
		require.NoError(t, <-done)
		assert.Len(t, client.Messages.Messages(), 2)
	})

	t.Run("SendResponse_AfterSwitchingChats_IsDiscarded", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)
		backend.On("ListMessages", mock.Anything, int64(1)).Return([]models.Message{}, nil)
		backend.On("ListDocuments", mock.Anything, int64(1)).Return([]models.Document{}, nil)
		client.Chats.Select(context.Background(), 1)

		release := make(chan struct{})
		backend.On("SendMessage", mock.Anything, int64(1), "hi", mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(&models.SendMessageResponse{
				UserMessage: models.Message{ID: 1, ChatID: 1, Sender: models.SenderUser, Content: "hi"},
				AIMessage:   models.Message{ID: 2, ChatID: 1, Sender: models.SenderAssistant, Content: "hello"},
			}, nil)

		done := make(chan error, 1)
		go func() {
			done <- client.Messages.Send(context.Background(), 1, "hi")
		}()
		require.Eventually(t, client.Messages.Sending, waitFor, tick)

		backend.On("ListMessages", mock.Anything, int64(2)).Return([]models.Message{
			{ID: 9, ChatID: 2, Sender: models.SenderUser, Content: "elsewhere"},
		}, nil)
		backend.On("ListDocuments", mock.Anything, int64(2)).Return([]models.Document{}, nil)
		client.Chats.Select(context.Background(), 2)

		close(release)
		require.NoError(t, <-done)

		msgs := client.Messages.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "elsewhere", msgs[0].Content)
	})
}

func TestLoadHistory(t *testing.T) {
	t.Run("ServerTranscript_ReplacesCachedCopy", func(t *testing.T) {
		client, backend, kv := newTestState(t)
		loginAs(t, client, backend)
		require.NoError(t, kv.Set("chat/1/transcript", []models.Message{
			{ID: 1, ChatID: 1, Sender: models.SenderUser, Content: "old cached", State: models.MessageConfirmed},
		}))

		backend.On("ListMessages", mock.Anything, int64(1)).Return([]models.Message{
			{ID: 1, ChatID: 1, Sender: models.SenderUser, Content: "hi"},
			{ID: 2, ChatID: 1, Sender: models.SenderAssistant, Content: "hello"},
		}, nil)

		client.Messages.LoadHistory(context.Background(), 1)

		msgs := client.Messages.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "hi", msgs[0].Content)
		assert.Equal(t, models.MessageConfirmed, msgs[0].State)
	})

	t.Run("FetchFailure_KeepsCachedTranscript", func(t *testing.T) {
		client, backend, kv := newTestState(t)
		loginAs(t, client, backend)
		require.NoError(t, kv.Set("chat/1/transcript", []models.Message{
			{ID: 1, ChatID: 1, Sender: models.SenderUser, Content: "cached", State: models.MessageConfirmed},
		}))

		backend.On("ListMessages", mock.Anything, int64(1)).
			Return(nil, &models.NetworkError{Op: "list", Err: context.DeadlineExceeded})

		client.Messages.LoadHistory(context.Background(), 1)

		msgs := client.Messages.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "cached", msgs[0].Content)
	})

	t.Run("StaleHistoryResponse_IsDiscarded", func(t *testing.T) {
		client, backend, _ := newTestState(t)
		loginAs(t, client, backend)

		release := make(chan struct{})
		backend.On("ListMessages", mock.Anything, int64(1)).
			Run(func(mock.Arguments) { <-release }).
			Return([]models.Message{{ID: 1, ChatID: 1, Content: "stale"}}, nil)
		backend.On("ListMessages", mock.Anything, int64(2)).
			Return([]models.Message{{ID: 2, ChatID: 2, Content: "fresh"}}, nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			client.Messages.LoadHistory(context.Background(), 1)
		}()

		client.Messages.LoadHistory(context.Background(), 2)
		close(release)
		<-done

		msgs := client.Messages.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "fresh", msgs[0].Content)
	})

	t.Run("OnlyConfirmedMessages_ArePersisted", func(t *testing.T) {
		client, backend, kv := newTestState(t)
		loginAs(t, client, backend)
		selectEmptyChat(t, client, backend, 1)

		backend.On("SendMessage", mock.Anything, int64(1), "hi", mock.Anything).
			Run(func(mock.Arguments) {
				var cached []models.Message
				if kv.Get("chat/1/transcript", &cached) {
					for _, msg := range cached {
						assert.Equal(t, models.MessageConfirmed, msg.State)
					}
				}
			}).
			Return(&models.SendMessageResponse{
				UserMessage: models.Message{ID: 1, ChatID: 1, Sender: models.SenderUser, Content: "hi"},
				AIMessage:   models.Message{ID: 2, ChatID: 1, Sender: models.SenderAssistant, Content: "hello"},
			}, nil)

		require.NoError(t, client.Messages.Send(context.Background(), 1, "hi"))

		var cached []models.Message
		require.True(t, kv.Get("chat/1/transcript", &cached))
		require.Len(t, cached, 2)
		for _, msg := range cached {
			assert.Equal(t, models.MessageConfirmed, msg.State)
		}
	})
}
