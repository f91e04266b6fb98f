// Package api implements the HTTP client for the knowledge-assistant
// backend. The backend is opaque: this package knows the endpoint table and
// the error taxonomy, nothing about what happens server-side.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kb-assistant-client/internal/models"
)

// TokenFunc returns the current bearer token, or "" when the session is not
// authenticated. It is consulted on every authenticated call rather than
// captured once, because logout can happen between calls.
type TokenFunc func() string

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
	logger     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, token TokenFunc, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		token:  token,
		logger: logger,
	}
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodPost, "/register", req, &user, false); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for a bearer token. The endpoint takes
// form-encoded credentials, not JSON.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (string, error) {
	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &models.NetworkError{Op: "login", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &models.NetworkError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", models.NewAuthError(readDetail(resp.Body, "incorrect username or password"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &models.ServerError{StatusCode: resp.StatusCode, Detail: readDetail(resp.Body, "")}
	}

	var token models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", &models.NetworkError{Op: "login", Err: err}
	}
	if token.AccessToken == "" {
		return "", models.NewAuthError("empty token in response")
	}
	return token.AccessToken, nil
}

func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.doJSON(ctx, http.MethodGet, "/chats", nil, &chats, true); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) CreateChat(ctx context.Context, title string) (*models.Chat, error) {
	var chat models.Chat
	req := models.CreateChatRequest{Title: title}
	if err := c.doJSON(ctx, http.MethodPost, "/chats", req, &chat, true); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d", chatID), nil, nil, true)
}

func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]models.Message, error) {
	var messages []models.Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), nil, &messages, true); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, content string, docIDs []string) (*models.SendMessageResponse, error) {
	req := models.SendMessageRequest{Content: content, DocIDs: docIDs}
	var resp models.SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/messages", chatID), req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListDocuments(ctx context.Context, chatID int64) ([]models.Document, error) {
	var docs []models.Document
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/documents", chatID), nil, &docs, true); err != nil {
		return nil, err
	}
	return docs, nil
}

// UploadDocument sends one file as multipart form data and returns the
// backend's ingestion acknowledgement for it.
func (c *Client) UploadDocument(ctx context.Context, chatID int64, filename string, data []byte) (*models.IngestResult, error) {
	if c.token() == "" {
		return nil, models.NewAuthError("")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, &models.NetworkError{Op: "upload", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &models.NetworkError{Op: "upload", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &models.NetworkError{Op: "upload", Err: err}
	}

	path := fmt.Sprintf("/chats/%d/documents", chatID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, &models.NetworkError{Op: "upload", Err: err}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.token())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.NetworkError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var ingest models.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ingest); err != nil {
		return nil, &models.NetworkError{Op: "upload", Err: err}
	}
	for i := range ingest.Files {
		if ingest.Files[i].Filename == filename {
			return &ingest.Files[i], nil
		}
	}
	if len(ingest.Files) > 0 {
		return &ingest.Files[0], nil
	}
	return nil, &models.ServerError{StatusCode: resp.StatusCode, Detail: "empty ingestion result"}
}

func (c *Client) DeleteDocument(ctx context.Context, chatID int64, docID string) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d/documents/%s", chatID, docID), nil, nil, true)
}

func (c *Client) Query(ctx context.Context, query string, docIDs []string) (string, error) {
	req := models.QueryRequest{Query: query, DocIDs: docIDs}
	var resp models.QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/query", req, &resp, true); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil, false)
}

// doJSON issues one JSON request. Authenticated calls fail immediately with
// an AuthError when no token is held; no request goes out in that case.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	var token string
	if authed {
		token = c.token()
		if token == "" {
			return models.NewAuthError("")
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &models.NetworkError{Op: method + " " + path, Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &models.NetworkError{Op: method + " " + path, Err: err}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authed {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &models.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.NetworkError{Op: method + " " + path, Err: err}
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	detail := readDetail(resp.Body, "")
	if resp.StatusCode == http.StatusUnauthorized {
		if detail == "" {
			detail = "session expired"
		}
		return models.NewAuthError(detail)
	}
	return &models.ServerError{StatusCode: resp.StatusCode, Detail: detail}
}

func readDetail(body io.Reader, fallback string) string {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil {
		return fallback
	}
	var errResp models.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Detail != "" {
		return errResp.Detail
	}
	return fallback
}
