// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// contract.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

// Client wraps the Anthropic SDK client. Retries are not attempted here —
// option.WithMaxRetries(0) disables the SDK's own retry loop so
// pkg/resilience is the single source of retry policy.
type Client struct {
	llm.StaticContextProvider
	sdk   anthropic.Client
	model anthropic.Model
}

// New creates a Claude adapter bound to model (e.g. "claude-sonnet-4-5").
func New(apiKey, model string) *Client {
	return &Client{
		StaticContextProvider: llm.StaticContextProvider{ModelName: model},
		sdk:                   anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:                 anthropic.Model(model),
	}
}

// Chat sends messages to Claude. System messages are extracted to the
// top-level system parameter; Anthropic rejects a "system" role inside the
// messages array.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	var systemParts []string
	var turns []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(turns) == 0 {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "chat request has no user/assistant turns")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    turns,
		MaxTokens:   int64(opts.MaxOutputTokens),
		Temperature: anthropic.Float(float64(opts.Temperature)),
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n"), Type: "text"}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", llmerrors.Wrap(llmerrors.KindModelUnavailable, "", err, "anthropic request timed out")
		}
		return "", llmerrors.Wrap(llmerrors.KindModelUnavailable, "", err, "anthropic chat request failed")
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "anthropic returned an empty response")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "anthropic response contained no text content")
	}
	return text.String(), nil
}
