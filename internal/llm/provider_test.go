package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProvider struct{}

func (testProvider) GenerateText(context.Context, string) (string, error) { return "ok", nil }
func (testProvider) Name() string                                       { return "test" }

func TestProviderErrorError(t *testing.T) {
	err := &ProviderError{Provider: "gemini", Message: "failed"}
	assert.Equal(t, "gemini error: failed", err.Error())

	cause := errors.New("detail")
	wrapped := &ProviderError{Provider: "gemini", Message: "failed", Err: cause}
	assert.Equal(t, "gemini error: failed (detail)", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestRegisterAndNewProvider(t *testing.T) {
	RegisterProvider("test_provider", func() (Provider, error) {
		return testProvider{}, nil
	})
	defer func() {
		mu.Lock()
		delete(providers, "test_provider")
		mu.Unlock()
	}()

	provider, err := NewProvider("test_provider")
	require.NoError(t, err)
	assert.Equal(t, "test", provider.Name())
	assert.Contains(t, Registered(), "test_provider")

	_, err = NewProvider("missing")
	assert.Error(t, err)
}

func TestOfflineAlwaysFails(t *testing.T) {
	p, err := NewProvider("offline")
	require.NoError(t, err)

	_, err = p.GenerateText(context.Background(), "hello")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeServiceDown, perr.Code)
}
