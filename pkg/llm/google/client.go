// Package google adapts the Gemini GenAI SDK to the llm.Provider contract.
package google

import (
	"context"

	"google.golang.org/genai"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

// Client wraps a Gemini client. The underlying genai.Client is created
// lazily on first Chat call since construction requires a context.
type Client struct {
	llm.StaticContextProvider
	sdk    *genai.Client
	apiKey string
}

// New creates a Gemini adapter bound to model (e.g. "gemini-2.5-pro").
func New(apiKey, model string) *Client {
	return &Client{StaticContextProvider: llm.StaticContextProvider{ModelName: model}, apiKey: apiKey}
}

// Chat sends messages to Gemini, extracting any system-role message into
// the request's system instruction.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	if c.sdk == nil {
		sdk, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return "", llmerrors.Wrap(llmerrors.KindModelUnavailable, "", err, "failed to create gemini client")
		}
		c.sdk = sdk
	}

	var systemInstruction string
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "chat request has no user/assistant turns")
	}

	temperature := opts.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(opts.MaxOutputTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}

	result, err := c.sdk.Models.GenerateContent(ctx, c.ModelName, contents, config)
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindModelUnavailable, "", err, "gemini generate content failed")
	}
	if result == nil || result.Text() == "" {
		return "", llmerrors.New(llmerrors.KindModelUnavailable, "", "gemini returned an empty response")
	}
	return result.Text(), nil
}
