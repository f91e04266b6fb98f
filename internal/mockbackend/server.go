// Package mockbackend is an in-memory stand-in for the knowledge-assistant
// backend, used for development and end-to-end exercising of the client. It
// implements the same endpoint table with canned retrieval responses; no
// real ingestion or retrieval happens.
package mockbackend

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kb-assistant-client/internal/models"
)

type account struct {
	user     models.User
	password string
}

type Server struct {
	logger zerolog.Logger

	mu        sync.Mutex
	accounts  map[string]*account          // by username
	tokens    map[string]string            // token -> username
	chats     map[int64]*models.Chat       // by chat id
	chatOrder []int64
	messages  map[int64][]models.Message   // by chat id
	documents map[int64][]models.Document  // by chat id
	nextID    int64
}

func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		logger:    logger.With().Str("component", "mockbackend").Logger(),
		accounts:  make(map[string]*account),
		tokens:    make(map[string]string),
		chats:     make(map[int64]*models.Chat),
		messages:  make(map[int64][]models.Message),
		documents: make(map[int64][]models.Document),
	}
}

// Router builds the gin engine with the full endpoint table.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.health)
	router.POST("/register", s.register)
	router.POST("/token", s.token)

	authed := router.Group("/")
	authed.Use(s.authMiddleware())
	{
		authed.GET("/chats", s.listChats)
		authed.POST("/chats", s.createChat)
		authed.DELETE("/chats/:id", s.deleteChat)
		authed.GET("/chats/:id/messages", s.listMessages)
		authed.POST("/chats/:id/messages", s.sendMessage)
		authed.GET("/chats/:id/documents", s.listDocuments)
		authed.POST("/chats/:id/documents", s.uploadDocuments)
		authed.DELETE("/chats/:id/documents/:docID", s.deleteDocument)
		authed.POST("/query", s.query)
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request processed")
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Detail: "Not authenticated"})
			return
		}

		s.mu.Lock()
		username, ok := s.tokens[parts[1]]
		s.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Detail: "Invalid or expired token"})
			return
		}

		c.Set("username", username)
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Server) register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid registration payload"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[req.Username]; exists {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Username already registered"})
		return
	}
	for _, acct := range s.accounts {
		if acct.user.Email == req.Email {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Email already registered"})
			return
		}
	}

	s.nextID++
	acct := &account{
		user: models.User{
			ID:       s.nextID,
			Username: req.Username,
			Email:    req.Email,
			FullName: req.FullName,
		},
		password: req.Password,
	}
	s.accounts[req.Username] = acct

	c.JSON(http.StatusCreated, acct.user)
}

func (s *Server) token(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok || acct.password != password {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Detail: "Incorrect username or password"})
		return
	}

	token := uuid.New().String()
	s.tokens[token] = username

	c.JSON(http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) listChats(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := make([]models.Chat, 0, len(s.chatOrder))
	for _, id := range s.chatOrder {
		chats = append(chats, *s.chats[id])
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) createChat(c *gin.Context) {
	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Chat title is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	chat := &models.Chat{
		ID:        s.nextID,
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: time.Now(),
	}
	s.chats[chat.ID] = chat
	s.chatOrder = append(s.chatOrder, chat.ID)

	c.JSON(http.StatusCreated, chat)
}

func (s *Server) deleteChat(c *gin.Context) {
	chatID, ok := s.chatParam(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chats, chatID)
	delete(s.messages, chatID)
	delete(s.documents, chatID)
	kept := s.chatOrder[:0]
	for _, id := range s.chatOrder {
		if id != chatID {
			kept = append(kept, id)
		}
	}
	s.chatOrder = kept

	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	chatID, ok := s.chatParam(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.messages[chatID]
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) sendMessage(c *gin.Context) {
	chatID, ok := s.chatParam(c)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Message content is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chats[chatID]; !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Detail: "Chat not found"})
		return
	}

	now := time.Now()
	s.nextID++
	userMsg := models.Message{
		ID:        s.nextID,
		ChatID:    chatID,
		Sender:    models.SenderUser,
		Content:   req.Content,
		CreatedAt: now,
	}
	s.nextID++
	aiMsg := models.Message{
		ID:        s.nextID,
		ChatID:    chatID,
		Sender:    models.SenderAssistant,
		Content:   s.cannedReply(chatID, req.Content, req.DocIDs),
		CreatedAt: now,
	}
	s.messages[chatID] = append(s.messages[chatID], userMsg, aiMsg)

	c.JSON(http.StatusOK, models.SendMessageResponse{UserMessage: userMsg, AIMessage: aiMsg})
}

func (s *Server) listDocuments(c *gin.Context) {
	chatID, ok := s.chatParam(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.documents[chatID]
	if docs == nil {
		docs = []models.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) uploadDocuments(c *gin.Context) {
	chatID, ok := s.chatParam(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["file"]) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "No file provided"})
		return
	}

	results := make([]models.IngestResult, 0, len(form.File["file"]))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fh := range form.File["file"] {
		if fh.Size == 0 {
			results = append(results, models.IngestResult{
				Filename: fh.Filename,
				Status:   "failed",
				Error:    fmt.Sprintf("No text content found in %s", fh.Filename),
			})
			continue
		}

		docID := uuid.New().String()
		s.documents[chatID] = append(s.documents[chatID], models.Document{
			ID:       docID,
			Filename: fh.Filename,
			FileSize: fh.Size,
			Status:   models.DocumentIngested,
		})
		results = append(results, models.IngestResult{
			Filename: fh.Filename,
			DocID:    docID,
			Status:   "ingested",
		})
	}

	c.JSON(http.StatusOK, models.IngestResponse{
		Message: "Files uploaded and processing started",
		Files:   results,
	})
}

func (s *Server) deleteDocument(c *gin.Context) {
	chatID, ok := s.chatParam(c)
	if !ok {
		return
	}
	docID := c.Param("docID")

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.documents[chatID][:0]
	for _, doc := range s.documents[chatID] {
		if doc.ID != docID {
			kept = append(kept, doc)
		}
	}
	s.documents[chatID] = kept

	c.Status(http.StatusNoContent)
}

func (s *Server) query(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Query is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c.JSON(http.StatusOK, models.QueryResponse{
		Response: s.cannedAnswer(req.Query, req.DocIDs),
		Source:   "mock",
	})
}

func (s *Server) chatParam(c *gin.Context) (int64, bool) {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid chat id"})
		return 0, false
	}
	return chatID, true
}

// cannedReply fabricates an assistant answer. Callers hold s.mu.
func (s *Server) cannedReply(chatID int64, content string, docIDs []string) string {
	scope := "all uploaded documents"
	if len(docIDs) > 0 {
		scope = fmt.Sprintf("%d selected document(s)", len(docIDs))
	}
	if len(s.documents[chatID]) == 0 {
		return "I don't have enough information to answer that question. Please upload relevant documents first."
	}
	return fmt.Sprintf("Based on %s: here is what I found about %q.", scope, truncate(content, 80))
}

func (s *Server) cannedAnswer(query string, docIDs []string) string {
	scope := "all uploaded documents"
	if len(docIDs) > 0 {
		scope = fmt.Sprintf("%d selected document(s)", len(docIDs))
	}
	return fmt.Sprintf("Searching %s: %q is covered by the mock knowledge base.", scope, truncate(query, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
