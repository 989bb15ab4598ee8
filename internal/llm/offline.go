package llm

import (
	"context"
)

// Offline is a provider that always fails. It is used when no model is
// configured so every caller exercises its canned fallback path.
type Offline struct{}

func (Offline) GenerateText(context.Context, string) (string, error) {
	return "", &ProviderError{Provider: "offline", Code: ErrCodeServiceDown, Message: "no LLM provider configured"}
}

func (Offline) Name() string { return "offline" }

func init() {
	RegisterProvider("offline", func() (Provider, error) { return Offline{}, nil })
}
