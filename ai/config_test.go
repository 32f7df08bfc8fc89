package ai

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddsV1Suffix(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"https://api.openai.com", "https://api.openai.com/v1"},
	}
	for _, tt := range tests {
		cfg := NewConfig(WithHost(tt.host))
		cfg.Normalize()
		assert.Equal(t, tt.want, cfg.EmbeddingHost, "host %s", tt.host)
	}
}

func TestValidateLocalHostWithoutKey(t *testing.T) {
	cfg := NewConfig(WithHost("http://localhost:11434"))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "none", cfg.Token())
}

func TestValidateRemoteHostRequiresKey(t *testing.T) {
	cfg := NewConfig(WithHost("https://api.openai.com/v1"))
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))
	assert.True(t, errors.Is(err, ErrPermanent))

	cfg.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sk-test", cfg.Token())
}

func TestValidateRequiresModel(t *testing.T) {
	cfg := NewConfig(WithModel(""))
	require.Error(t, cfg.Validate())
}

func TestClassification(t *testing.T) {
	base := fmt.Errorf("connection refused")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsPermanent(Transient(base)))

	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsTransient(Permanent(base)))

	// Unclassified errors default to transient
	assert.True(t, IsTransient(base))
	assert.False(t, IsPermanent(base))

	assert.True(t, IsPermanent(ErrVectorCount))
	assert.True(t, IsPermanent(ErrMissingCredential))
	assert.False(t, IsTransient(nil))
}
