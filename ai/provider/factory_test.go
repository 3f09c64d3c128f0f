package provider

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ontogen/ai/openrouter"
	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
)

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
	}{
		{"local", ProviderLocal},
		{"Local", ProviderLocal},
		{"openrouter", ProviderOpenRouter},
		{"", ProviderOpenRouter},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	// Same set am.Validate accepts
	for _, name := range []string{"anthropic", "openai", "ollama"} {
		_, err := ParseProvider(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig), name)
	}
}

func TestNewGenerator_OpenRouter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.APIKey = "sk-test"

	gen, err := NewGenerator(cfg, nil)
	require.NoError(t, err)

	client, ok := gen.(*openrouter.Client)
	require.True(t, ok, "expected *openrouter.Client, got %T", gen)
	assert.Equal(t, "openai/gpt-4o", client.Model())
}

func TestNewGenerator_OpenRouterRequiresKey(t *testing.T) {
	cfg := testConfig(t)

	_, err := NewGenerator(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestNewGenerator_Local(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.Provider = "local"
	cfg.Generator.BaseURL = "http://localhost:11434"
	cfg.Generator.Model = "qwen2.5:7b"

	gen, err := NewGenerator(cfg, nil)
	require.NoError(t, err)

	local, ok := gen.(*LocalProvider)
	require.True(t, ok, "expected *LocalProvider, got %T", gen)
	assert.Equal(t, "qwen2.5:7b", local.GetModelName())
}
