package mockbackend_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-client/internal/mockbackend"
	"kb-assistant-client/internal/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mockbackend.NewServer(zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func registerAndLogin(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	body, _ := json.Marshal(models.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "pw",
	})
	resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.PostForm(srv.URL+"/token", url.Values{"username": {username}, "password": {"pw"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok models.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	require.NotEmpty(t, tok.AccessToken)
	return tok.AccessToken
}

func doJSON(t *testing.T, method, rawURL, token string, payload interface{}) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, rawURL, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createChat(t *testing.T, srv *httptest.Server, token, title string) models.Chat {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/chats", token, models.CreateChatRequest{Title: title})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var chat models.Chat
	decodeInto(t, resp, &chat)
	return chat
}

func uploadFile(t *testing.T, srv *httptest.Server, token string, chatID int64, filename, content string) models.IngestResponse {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/chats/%d/documents", srv.URL, chatID), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ingest models.IngestResponse
	decodeInto(t, resp, &ingest)
	return ingest
}

func TestAuth(t *testing.T) {
	t.Run("Register_DuplicateUsername_Returns400", func(t *testing.T) {
		srv := newTestServer(t)
		registerAndLogin(t, srv, "alice")

		body, _ := json.Marshal(models.RegisterRequest{Username: "alice", Email: "other@example.com", Password: "pw"})
		resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(body))
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var detail models.ErrorResponse
		decodeInto(t, resp, &detail)
		assert.Equal(t, "Username already registered", detail.Detail)
	})

	t.Run("Register_DuplicateEmail_Returns400", func(t *testing.T) {
		srv := newTestServer(t)
		registerAndLogin(t, srv, "alice")

		body, _ := json.Marshal(models.RegisterRequest{Username: "bob", Email: "alice@example.com", Password: "pw"})
		resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(body))
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var detail models.ErrorResponse
		decodeInto(t, resp, &detail)
		assert.Equal(t, "Email already registered", detail.Detail)
	})

	t.Run("Token_BadCredentials_Returns401", func(t *testing.T) {
		srv := newTestServer(t)
		registerAndLogin(t, srv, "alice")

		resp, err := http.PostForm(srv.URL+"/token", url.Values{"username": {"alice"}, "password": {"wrong"}})
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var detail models.ErrorResponse
		decodeInto(t, resp, &detail)
		assert.Equal(t, "Incorrect username or password", detail.Detail)
	})

	t.Run("ProtectedRoute_WithoutToken_Returns401", func(t *testing.T) {
		srv := newTestServer(t)

		resp, err := http.Get(srv.URL + "/chats")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ProtectedRoute_WithUnknownToken_Returns401", func(t *testing.T) {
		srv := newTestServer(t)

		resp := doJSON(t, http.MethodGet, srv.URL+"/chats", "bogus", nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestChats(t *testing.T) {
	t.Run("Create_List_Delete_RoundTrip", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")

		chat := createChat(t, srv, token, "Notes")
		assert.Equal(t, "Notes", chat.Title)
		assert.NotZero(t, chat.ID)

		resp := doJSON(t, http.MethodGet, srv.URL+"/chats", token, nil)
		var chats []models.Chat
		decodeInto(t, resp, &chats)
		require.Len(t, chats, 1)
		assert.Equal(t, chat.ID, chats[0].ID)

		resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/chats/%d", srv.URL, chat.ID), token, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/chats", token, nil)
		decodeInto(t, resp, &chats)
		assert.Empty(t, chats)
	})

	t.Run("Create_BlankTitle_Returns400", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")

		resp := doJSON(t, http.MethodPost, srv.URL+"/chats", token, models.CreateChatRequest{Title: "   "})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestMessages(t *testing.T) {
	t.Run("Send_ReturnsUserAndAssistantPair", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")
		chat := createChat(t, srv, token, "Notes")
		uploadFile(t, srv, token, chat.ID, "report.pdf", "%PDF-1.4 content")

		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/chats/%d/messages", srv.URL, chat.ID), token,
			models.SendMessageRequest{Content: "what does the report say?"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var pair models.SendMessageResponse
		decodeInto(t, resp, &pair)
		assert.Equal(t, models.SenderUser, pair.UserMessage.Sender)
		assert.Equal(t, "what does the report say?", pair.UserMessage.Content)
		assert.Equal(t, models.SenderAssistant, pair.AIMessage.Sender)
		assert.NotEmpty(t, pair.AIMessage.Content)
		assert.Greater(t, pair.AIMessage.ID, pair.UserMessage.ID)

		resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/chats/%d/messages", srv.URL, chat.ID), token, nil)
		var history []models.Message
		decodeInto(t, resp, &history)
		require.Len(t, history, 2)
	})

	t.Run("Send_WithoutDocuments_AnswersCannotHelp", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")
		chat := createChat(t, srv, token, "Empty")

		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/chats/%d/messages", srv.URL, chat.ID), token,
			models.SendMessageRequest{Content: "anything?"})
		var pair models.SendMessageResponse
		decodeInto(t, resp, &pair)

		assert.Contains(t, pair.AIMessage.Content, "don't have enough information")
	})

	t.Run("Send_WithFilter_MentionsSelectionScope", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")
		chat := createChat(t, srv, token, "Notes")
		ingest := uploadFile(t, srv, token, chat.ID, "report.pdf", "%PDF-1.4 content")
		require.Len(t, ingest.Files, 1)

		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/chats/%d/messages", srv.URL, chat.ID), token,
			models.SendMessageRequest{Content: "scoped?", DocIDs: []string{ingest.Files[0].DocID}})
		var pair models.SendMessageResponse
		decodeInto(t, resp, &pair)

		assert.Contains(t, pair.AIMessage.Content, "1 selected document(s)")
	})

	t.Run("Send_ToMissingChat_Returns404", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")

		resp := doJSON(t, http.MethodPost, srv.URL+"/chats/999/messages", token,
			models.SendMessageRequest{Content: "hello?"})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDocuments(t *testing.T) {
	t.Run("Upload_List_Delete_RoundTrip", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")
		chat := createChat(t, srv, token, "Notes")

		ingest := uploadFile(t, srv, token, chat.ID, "report.pdf", "%PDF-1.4 content")
		require.Len(t, ingest.Files, 1)
		assert.Equal(t, "ingested", ingest.Files[0].Status)
		assert.NotEmpty(t, ingest.Files[0].DocID)

		resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/chats/%d/documents", srv.URL, chat.ID), token, nil)
		var docs []models.Document
		decodeInto(t, resp, &docs)
		require.Len(t, docs, 1)
		assert.Equal(t, "report.pdf", docs[0].Filename)

		resp = doJSON(t, http.MethodDelete,
			fmt.Sprintf("%s/chats/%d/documents/%s", srv.URL, chat.ID, ingest.Files[0].DocID), token, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/chats/%d/documents", srv.URL, chat.ID), token, nil)
		decodeInto(t, resp, &docs)
		assert.Empty(t, docs)
	})

	t.Run("Upload_EmptyFile_ReportsFailedIngest", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")
		chat := createChat(t, srv, token, "Notes")

		ingest := uploadFile(t, srv, token, chat.ID, "blank.pdf", "")
		require.Len(t, ingest.Files, 1)
		assert.Equal(t, "failed", ingest.Files[0].Status)
		assert.Contains(t, ingest.Files[0].Error, "No text content")
	})

	t.Run("Upload_NoFileField_Returns400", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")
		chat := createChat(t, srv, token, "Notes")

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.Close())

		req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/chats/%d/documents", srv.URL, chat.ID), &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestQuery(t *testing.T) {
	t.Run("Query_ReturnsMockAnswer", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")

		resp := doJSON(t, http.MethodPost, srv.URL+"/query", token, models.QueryRequest{Query: "what is this?"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var answer models.QueryResponse
		decodeInto(t, resp, &answer)
		assert.NotEmpty(t, answer.Response)
		assert.Equal(t, "mock", answer.Source)
	})

	t.Run("Query_Blank_Returns400", func(t *testing.T) {
		srv := newTestServer(t)
		token := registerAndLogin(t, srv, "alice")

		resp := doJSON(t, http.MethodPost, srv.URL+"/query", token, models.QueryRequest{Query: " "})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealth(t *testing.T) {
	t.Run("Health_IsPublic", func(t *testing.T) {
		srv := newTestServer(t)

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var health models.HealthResponse
		decodeInto(t, resp, &health)
		assert.Equal(t, "healthy", health.Status)
	})
}
