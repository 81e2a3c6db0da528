// Package openai implements backend.ModelInvoker against an OpenAI compatible
// chat completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
)

type Invoker struct {
	apiKey  string
	baseURL string
	client  *go_openai.Client
}

var _ backend.ModelInvoker = (*Invoker)(nil)

// NewInvoker builds an invoker. With an empty apiKey the per-call
// credential is used as the API key.
func NewInvoker(apiKey string, baseURL string) *Invoker {
	ret := &Invoker{apiKey: apiKey, baseURL: baseURL}
	if apiKey != "" {
		ret.client = makeClient(apiKey, baseURL)
	}
	return ret
}

func makeClient(apiKey string, baseURL string) *go_openai.Client {
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return go_openai.NewClientWithConfig(config)
}

func (i *Invoker) Complete(ctx context.Context, token string, req *backend.CompletionRequest) (*backend.CompletionResponse, error) {
	const op = "openai.Complete"

	client := i.client
	if client == nil {
		if token == "" {
			return nil, chaterrors.New(chaterrors.KindUnauthenticated, op, "no API key available")
		}
		client = makeClient(token, i.baseURL)
	}

	chatReq := go_openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: ToChatMessages(req.Messages),
	}

	log.Debug().
		Str("model", req.Model).
		Str("conversation_id", req.ConversationID).
		Int("messages", len(chatReq.Messages)).
		Msg("sending chat completion")

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *go_openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 401 {
			return nil, &chaterrors.Error{Kind: chaterrors.KindUnauthenticated, Op: op, Message: apiErr.Message, Err: err}
		}
		return nil, chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, chaterrors.New(chaterrors.KindUpstreamFailure, op, "completion returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &backend.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
	}, nil
}

// ToChatMessages converts a history into go-openai messages. Image
// attachments become image parts; other files are referenced in text.
func ToChatMessages(msgs []backend.CompletionMessage) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := go_openai.ChatMessageRoleUser
		if m.Role == string(conversation.RoleAssistant) {
			role = go_openai.ChatMessageRoleAssistant
		}

		if len(m.Attachments) == 0 {
			ret = append(ret, go_openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}

		text := m.Content
		var images []go_openai.ChatMessagePart
		var refs []string
		for _, a := range m.Attachments {
			if a.IsImage() && a.URL != "" {
				images = append(images, go_openai.ChatMessagePart{
					Type: go_openai.ChatMessagePartTypeImageURL,
					ImageURL: &go_openai.ChatMessageImageURL{
						URL:    a.URL,
						Detail: go_openai.ImageURLDetailAuto,
					},
				})
				continue
			}
			refs = append(refs, fmt.Sprintf("- %s (%s): %s", a.Name, a.MimeType, a.URL))
		}
		if len(refs) > 0 {
			text = text + "\n" + strings.Join(refs, "\n")
		}

		if len(images) == 0 {
			ret = append(ret, go_openai.ChatCompletionMessage{Role: role, Content: text})
			continue
		}
		parts := append([]go_openai.ChatMessagePart{{Type: go_openai.ChatMessagePartTypeText, Text: text}}, images...)
		ret = append(ret, go_openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return ret
}
