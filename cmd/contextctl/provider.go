package main

import (
	"fmt"
	"time"

	"contextcore/pkg/config"
	"contextcore/pkg/llm"
	"contextcore/pkg/llm/anthropic"
	"contextcore/pkg/llm/google"
	"contextcore/pkg/llm/ollama"
	"contextcore/pkg/llm/openai"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/resilience/circuit"
	"contextcore/pkg/resilience/retry"
	"contextcore/pkg/resilience/timeout"
)

// chatTimeout bounds a live chat call; longer than the Compressor's own
// timeout.DefaultCompressionTimeout since a user is waiting on this one
// interactively rather than a background compression pass.
const chatTimeout = 90 * time.Second

// resolveProvider builds the concrete adapter for providerName/model and
// wraps it in the same resilience stack a real UI layer would apply before
// ever handing a Provider to the Orchestrator — bind_model and the
// Compressor both assume this has already happened.
func resolveProvider(creds *config.CredentialStore, sessionID, providerName, model string) (llm.Provider, error) {
	var inner llm.Provider

	switch providerName {
	case "anthropic":
		key, err := creds.Get("anthropic", "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		inner = anthropic.New(key, model)
	case "openai":
		key, err := creds.Get("openai", "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		inner = openai.New(key, model)
	case "google":
		key, err := creds.Get("google", "GOOGLE_API_KEY")
		if err != nil {
			return nil, err
		}
		inner = google.New(key, model)
	case "ollama":
		host, err := creds.Get("ollama", "OLLAMA_HOST")
		if err != nil {
			host = "http://localhost:11434"
		}
		inner = ollama.New(host, model)
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai, google, or ollama)", providerName)
	}

	wrapped := timeout.New(inner, chatTimeout, llmerrors.KindModelUnavailable, sessionID)
	wrapped2 := retry.New(wrapped)
	return circuit.NewProvider(wrapped2, circuit.DefaultConfig), nil
}
