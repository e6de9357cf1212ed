// Package ollama adapts a local Ollama server to the llm.Provider contract.
package ollama

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

// Client wraps the Ollama API client for a locally hosted model.
type Client struct {
	llm.StaticContextProvider
	sdk *api.Client
}

// New creates an Ollama adapter pointed at hostURL (e.g.
// "http://localhost:11434") for model.
func New(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		StaticContextProvider: llm.StaticContextProvider{ModelName: model},
		sdk:                   api.NewClient(parsed, http.DefaultClient),
	}
}

// Chat sends messages to the local Ollama model with streaming disabled.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	if len(messages) == 0 {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "chat request has no messages")
	}

	ollamaMessages := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, api.Message{Role: string(msg.Role), Content: msg.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.ModelName,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxOutputTokens,
		},
	}

	var response api.ChatResponse
	err := c.sdk.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindModelUnavailable, "", err, "ollama chat request failed")
	}
	if response.Message.Content == "" {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "ollama returned an empty response")
	}
	return response.Message.Content, nil
}
