package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"kb-assistant-client/internal/models"
)

// MockBackend is a mock implementation of api.Backend.
type MockBackend struct {
	mock.Mock
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockBackend) Login(ctx context.Context, creds models.Credentials) (string, error) {
	args := m.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) ListChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Chat), args.Error(1)
}

func (m *MockBackend) CreateChat(ctx context.Context, title string) (*models.Chat, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockBackend) DeleteChat(ctx context.Context, chatID int64) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *MockBackend) ListMessages(ctx context.Context, chatID int64) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockBackend) SendMessage(ctx context.Context, chatID int64, content string, docIDs []string) (*models.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, content, docIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SendMessageResponse), args.Error(1)
}

func (m *MockBackend) ListDocuments(ctx context.Context, chatID int64) ([]models.Document, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Document), args.Error(1)
}

func (m *MockBackend) UploadDocument(ctx context.Context, chatID int64, filename string, data []byte) (*models.IngestResult, error) {
	args := m.Called(ctx, chatID, filename, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IngestResult), args.Error(1)
}

func (m *MockBackend) DeleteDocument(ctx context.Context, chatID int64, docID string) error {
	args := m.Called(ctx, chatID, docID)
	return args.Error(0)
}

func (m *MockBackend) Query(ctx context.Context, query string, docIDs []string) (string, error) {
	args := m.Called(ctx, query, docIDs)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
