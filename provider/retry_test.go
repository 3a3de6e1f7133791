package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/message"
	"github.com/goose-run/goose-core/provider"
)

func TestWithRetrySucceedsAfterRateLimitRetries(t *testing.T) {
	attempts := 0
	cfg := provider.DefaultRetryConfig()
	cfg.InitialInterval = 0
	cfg.MaxInterval = 0

	msg, _, err := provider.WithRetry(context.Background(), cfg, func(ctx context.Context) (message.Message, provider.ProviderUsage, error) {
		attempts++
		if attempts < 3 {
			return message.Message{}, provider.ProviderUsage{}, provider.NewError(provider.ErrRateLimitExceeded, "slow down", nil)
		}
		return message.AssistantText("ok"), provider.ProviderUsage{Model: "m"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Text())
	assert.Equal(t, 3, attempts)
}

func TestWithRetryDoesNotRetryAuthentication(t *testing.T) {
	attempts := 0
	_, _, err := provider.WithRetry(context.Background(), provider.DefaultRetryConfig(), func(ctx context.Context) (message.Message, provider.ProviderUsage, error) {
		attempts++
		return message.Message{}, provider.ProviderUsage{}, provider.NewError(provider.ErrAuthentication, "bad key", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	cfg := provider.DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialInterval = 0
	cfg.MaxInterval = 0

	attempts := 0
	_, _, err := provider.WithRetry(context.Background(), cfg, func(ctx context.Context) (message.Message, provider.ProviderUsage, error) {
		attempts++
		return message.Message{}, provider.ProviderUsage{}, provider.NewError(provider.ErrServerError, "boom", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}
