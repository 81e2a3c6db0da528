// Package mock is an in-memory implementation of the Veyra HTTP API. It backs
// the client tests and the `veyra mock-backend` command.
package mock

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/conversation"
)

const DefaultMaxUploadSize = 10 * 1024 * 1024

// Responder produces the assistant reply for a completion request.
type Responder func(req *backend.CompletionRequest) (string, error)

// EchoResponder answers with the content of the last user message.
func EchoResponder(req *backend.CompletionRequest) (string, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == string(conversation.RoleUser) {
			m := req.Messages[i]
			if len(m.Attachments) > 0 {
				names := make([]string, 0, len(m.Attachments))
				for _, a := range m.Attachments {
					names = append(names, a.Name)
				}
				return fmt.Sprintf("You said: %s (files: %s)", m.Content, strings.Join(names, ", ")), nil
			}
			return "You said: " + m.Content, nil
		}
	}
	return "Hello! How can I help you today?", nil
}

type storedFile struct {
	attachment conversation.Attachment
	data       []byte
}

type failure struct {
	status  int
	message string
}

type Server struct {
	e *echo.Echo

	mu            sync.Mutex
	tokens        map[string]bool
	revoked       map[string]bool
	conversations map[string]*conversation.Conversation
	messages      map[string][]*conversation.Message
	memories      []backend.Memory
	files         map[string]*storedFile
	failures      map[string]failure
	requests      map[string]int

	responder     Responder
	maxUploadSize int64
	latency       time.Duration
}

type Option func(*Server)

// WithTokens restricts the accepted bearer tokens. Without it any non-empty
// token is accepted.
func WithTokens(tokens ...string) Option {
	return func(s *Server) {
		for _, t := range tokens {
			s.tokens[t] = true
		}
	}
}

func WithResponder(r Responder) Option {
	return func(s *Server) {
		s.responder = r
	}
}

func WithMemories(memories ...backend.Memory) Option {
	return func(s *Server) {
		s.memories = append(s.memories, memories...)
	}
}

func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

func WithRequestLogging() Option {
	return func(s *Server) {
		s.e.Use(middleware.Logger())
	}
}

func NewServer(options ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		e:             e,
		tokens:        make(map[string]bool),
		revoked:       make(map[string]bool),
		conversations: make(map[string]*conversation.Conversation),
		messages:      make(map[string][]*conversation.Message),
		files:         make(map[string]*storedFile),
		failures:      make(map[string]failure),
		requests:      make(map[string]int),
		responder:     EchoResponder,
		maxUploadSize: DefaultMaxUploadSize,
	}
	for _, o := range options {
		o(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.e.Group("/api", s.authenticate)

	api.POST("/chat/completions", s.Complete)
	api.POST("/files", s.UploadFile)
	api.GET("/files/:id", s.GetFile)
	api.GET("/memories", s.ListMemories)
	api.DELETE("/memories", s.DeleteMemories)
	api.POST("/auth/logout", s.Logout)
	api.GET("/conversations", s.ListConversations)
	api.POST("/conversations", s.CreateConversation)
	api.GET("/conversations/:id/messages", s.ListMessages)
	api.DELETE("/conversations/:id", s.DeleteConversation)

	s.e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
}

// Handler exposes the server for httptest.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	log.Info().Str("addr", addr).Msg("starting mock backend")
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// FailNext makes the next request to method+path fail with status.
func (s *Server) FailNext(method string, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, message: message}
}

// Requests returns how many requests reached the handler for method+path.
func (s *Server) Requests(method string, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

func (s *Server) Memories() []backend.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Memory(nil), s.memories...)
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token == "" || token == auth {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		}

		s.mu.Lock()
		rejected := s.revoked[token] || (len(s.tokens) > 0 && !s.tokens[token])
		key := c.Request().Method + " " + c.Path()
		s.requests[key]++
		f, failing := s.failures[key]
		if failing {
			delete(s.failures, key)
		}
		latency := s.latency
		s.mu.Unlock()

		if rejected {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
		}
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if failing {
			return c.JSON(f.status, map[string]string{"error": f.message})
		}
		return next(c)
	}
}

func (s *Server) Complete(c echo.Context) error {
	var req backend.CompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Model == "" || len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "model and messages are required"})
	}

	content, err := s.responder(&req)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	resp := backend.CompletionResponse{Content: content, Model: req.Model}
	if req.ConversationID != "" {
		reply := s.recordTurn(&req, content)
		resp.MessageID = reply.ID
		resp.CreatedAt = reply.Timestamp
	}

	return c.JSON(http.StatusOK, resp)
}

// recordTurn persists the history the client sent plus the reply, keeping
// the ids, timestamps and flags of the client's messages.
func (s *Server) recordTurn(req *backend.CompletionRequest, content string) *conversation.Message {
	now := time.Now()
	msgs := make([]*conversation.Message, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		msgs = append(msgs, m.Message())
	}
	reply := conversation.NewAssistantMessage(content, req.Model,
		conversation.WithID("msg_"+shortuuid.New()),
		conversation.WithTimestamp(now),
	)
	msgs = append(msgs, reply)

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[req.ConversationID]
	if !ok {
		conv = &conversation.Conversation{ID: req.ConversationID, CreatedAt: now}
		s.conversations[req.ConversationID] = conv
	}
	conv.Model = req.Model
	conv.LastMessageAt = now
	if conv.Title == "" {
		for _, m := range req.Messages {
			if m.Role == string(conversation.RoleUser) {
				conv.Title = conversation.DeriveTitle(m.Content)
				break
			}
		}
	}
	s.messages[req.ConversationID] = msgs
	return reply
}

func (s *Server) UploadFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing file"})
	}
	if fh.Size > s.maxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "File size must be less than 10MB"})
	}

	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(f, s.maxUploadSize+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > s.maxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "File size must be less than 10MB"})
	}

	mimeType := fh.Header.Get(echo.HeaderContentType)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	id := "file_" + shortuuid.New()
	att := conversation.Attachment{
		ID:       id,
		Name:     fh.Filename,
		MimeType: mimeType,
		Size:     int64(len(data)),
		URL:      "/api/files/" + id,
	}

	s.mu.Lock()
	s.files[id] = &storedFile{attachment: att, data: data}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, att)
}

func (s *Server) GetFile(c echo.Context) error {
	s.mu.Lock()
	f, ok := s.files[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "file not found"})
	}
	return c.Blob(http.StatusOK, f.attachment.MimeType, f.data)
}

func (s *Server) ListMemories(c echo.Context) error {
	s.mu.Lock()
	memories := append([]backend.Memory{}, s.memories...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]interface{}{"memories": memories})
}

func (s *Server) DeleteMemories(c echo.Context) error {
	s.mu.Lock()
	s.memories = nil
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) Logout(c echo.Context) error {
	token := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) ListConversations(c echo.Context) error {
	s.mu.Lock()
	list := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		cc := *conv
		list = append(list, &cc)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": list})
}

func (s *Server) CreateConversation(c echo.Context) error {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	now := time.Now()
	conv := &conversation.Conversation{
		ID:            "conv_" + shortuuid.New(),
		Model:         req.Model,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = nil
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) ListMessages(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.conversations[id]
	msgs := append([]*conversation.Message{}, s.messages[id]...)
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) DeleteConversation(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.conversations[id]
	delete(s.conversations, id)
	delete(s.messages, id)
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	return c.NoContent(http.StatusNoContent)
}
