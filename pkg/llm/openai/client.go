// Package openai adapts the official OpenAI Go SDK's Responses API to the
// llm.Provider contract.
package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

// Client wraps the official OpenAI SDK client.
type Client struct {
	llm.StaticContextProvider
	sdk openai.Client
}

// New creates an OpenAI adapter bound to model (e.g. "gpt-5").
func New(apiKey, model string) *Client {
	return &Client{
		StaticContextProvider: llm.StaticContextProvider{ModelName: model},
		sdk:                   openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
	}
}

// Chat flattens messages into the Responses API's single input string,
// matching the teacher's role-prefixed concatenation for models that don't
// expose a separate messages array on this endpoint.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	var input strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			input.WriteString("System: ")
			input.WriteString(msg.Content)
			input.WriteString("\n\n")
		case llm.RoleAssistant:
			input.WriteString("Assistant: ")
			input.WriteString(msg.Content)
			input.WriteString("\n\n")
		default:
			input.WriteString(msg.Content)
			input.WriteString("\n\n")
		}
	}

	params := responses.ResponseNewParams{
		Model:           c.ModelName,
		MaxOutputTokens: openai.Int(int64(opts.MaxOutputTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
	}

	resp, err := c.sdk.Responses.New(ctx, params)
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindModelUnavailable, "", err, "openai responses request failed")
	}
	if resp == nil {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "openai returned an empty response")
	}

	text := resp.OutputText()
	if text == "" {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "openai response contained no text content")
	}
	return text, nil
}
