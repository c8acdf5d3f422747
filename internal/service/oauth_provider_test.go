package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCallbackError(t *testing.T) {
	// Оба кода отказа трактуются как отмена, остальное - сбой обмена
	assert.ErrorIs(t, ClassifyCallbackError("access_denied"), ErrUserCancelled)
	assert.ErrorIs(t, ClassifyCallbackError("user_cancelled_authorize"), ErrUserCancelled)
	assert.ErrorIs(t, ClassifyCallbackError("server_error"), ErrExchangeFailed)
	assert.ErrorIs(t, ClassifyCallbackError("temporarily_unavailable"), ErrExchangeFailed)
}

func TestProviderRegistry(t *testing.T) {
	registry := NewProviderRegistry()
	registry.Register(NewGitHubAdapter())

	adapter, err := registry.Get("GitHub")
	require.NoError(t, err)
	assert.Equal(t, "github", adapter.Name())

	_, err = registry.Get("google")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "jamieappleseed", sanitizeUsername("Jamie Appleseed"))
	assert.Equal(t, "octo_dev42", sanitizeUsername("Octo_Dev42"))
	assert.Equal(t, "", sanitizeUsername("!@#$%"))
}
