package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3

	// MaxResponseSize bounds every response body read by the client.
	MaxResponseSize = 10 * 1024 * 1024

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Client talks to the Veyra HTTP API. It implements every collaborator
// interface of this package.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	userAgent  string

	// limiter, when set, paces every attempt including retries
	limiter *rate.Limiter
}

var (
	_ ModelInvoker        = (*Client)(nil)
	_ FileStore           = (*Client)(nil)
	_ MemoryStore         = (*Client)(nil)
	_ SessionInvalidator  = (*Client)(nil)
	_ ConversationBackend = (*Client)(nil)
)

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		userAgent:  "veyra-cli",
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit caps the client at limit requests per second with the given
// burst.
func (c *Client) WithRateLimit(limit float64, burst int) *Client {
	if limit <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type memoriesResponse struct {
	Memories []Memory `json:"memories"`
}

type conversationsResponse struct {
	Conversations []*conversation.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []*conversation.Message `json:"messages"`
}

type createConversationRequest struct {
	Model string `json:"model"`
}

func (c *Client) Complete(ctx context.Context, token string, req *CompletionRequest) (*CompletionResponse, error) {
	const op = "backend.Complete"
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal completion request")
	}

	var resp CompletionResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/chat/completions", token, "application/json", body, &resp); err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

func (c *Client) Upload(ctx context.Context, token string, file *File) (*conversation.Attachment, error) {
	const op = "backend.Upload"
	if file == nil || file.Open == nil {
		return nil, chaterrors.New(chaterrors.KindInvalidState, op, "no file to upload")
	}

	rc, err := file.Open()
	if err != nil {
		return nil, chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, errors.Wrapf(err, "could not open %s", file.Name))
	}
	defer func() {
		_ = rc.Close()
	}()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(err, "could not create multipart body")
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, errors.Wrapf(err, "could not read %s", file.Name))
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "could not close multipart body")
	}

	var att conversation.Attachment
	if err := c.do(ctx, op, http.MethodPost, "/api/files", token, mw.FormDataContentType(), buf.Bytes(), &att); err != nil {
		return nil, err
	}
	return &att, nil
}

func (c *Client) ListMemories(ctx context.Context, token string) ([]Memory, error) {
	var resp memoriesResponse
	if err := c.do(ctx, "backend.ListMemories", http.MethodGet, "/api/memories", token, "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Memories == nil {
		return []Memory{}, nil
	}
	return resp.Memories, nil
}

func (c *Client) DeleteAllMemories(ctx context.Context, token string) error {
	return c.do(ctx, "backend.DeleteAllMemories", http.MethodDelete, "/api/memories", token, "", nil, nil)
}

func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, "backend.Logout", http.MethodPost, "/api/auth/logout", token, "", nil, nil)
}

func (c *Client) ListConversations(ctx context.Context, token string) ([]*conversation.Conversation, error) {
	var resp conversationsResponse
	if err := c.do(ctx, "backend.ListConversations", http.MethodGet, "/api/conversations", token, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, token string, model string) (*conversation.Conversation, error) {
	const op = "backend.CreateConversation"
	body, err := json.Marshal(createConversationRequest{Model: model})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal conversation request")
	}
	var conv conversation.Conversation
	if err := c.do(ctx, op, http.MethodPost, "/api/conversations", token, "application/json", body, &conv); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, chaterrors.New(chaterrors.KindUpstreamFailure, op, "backend returned a conversation without id")
	}
	return &conv, nil
}

func (c *Client) ListMessages(ctx context.Context, token string, conversationID string) ([]*conversation.Message, error) {
	var resp messagesResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "backend.ListMessages", http.MethodGet, path, token, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) DeleteConversation(ctx context.Context, token string, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, "backend.DeleteConversation", http.MethodDelete, path, token, "", nil, nil)
}

// do performs one API call. GET requests are retried with exponential
// backoff on 5xx responses and transport errors.
func (c *Client) do(
	ctx context.Context,
	op string,
	method string,
	path string,
	token string,
	contentType string,
	body []byte,
	out interface{},
) error {
	if token == "" {
		return chaterrors.New(chaterrors.KindUnauthenticated, op, "no credential available")
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, ctx.Err())
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err)
			}
		}

		status, respBody, err := c.roundTrip(ctx, method, path, token, contentType, body)
		if err != nil {
			lastErr = chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err)
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}
		if status >= 500 {
			lastErr = statusError(op, status, respBody)
			continue
		}
		if status < 200 || status > 299 {
			return statusError(op, status, respBody)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, errors.Wrap(err, "failed to parse response"))
			}
		}
		return nil
	}

	return lastErr
}

func (c *Client) roundTrip(
	ctx context.Context,
	method string,
	path string,
	token string,
	contentType string,
	body []byte,
) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api response")

	respBody, err := readResponse(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, errors.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// statusError maps a non-2xx response onto the error taxonomy, keeping the
// server's message when it sent one.
func statusError(op string, status int, body []byte) error {
	msg := ""
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		msg = er.Error
		if msg == "" {
			msg = er.Detail
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := chaterrors.KindUpstreamFailure
	switch status {
	case http.StatusUnauthorized:
		kind = chaterrors.KindUnauthenticated
	case http.StatusRequestEntityTooLarge:
		kind = chaterrors.KindPayloadTooLarge
	case http.StatusUnsupportedMediaType:
		kind = chaterrors.KindUnsupportedMediaType
	case http.StatusNotFound:
		kind = chaterrors.KindNotFound
	}
	return &chaterrors.Error{
		Kind:    kind,
		Op:      op,
		Message: msg,
		Err:     &StatusError{Status: status},
	}
}

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
