// Package provider selects the generative backend from configuration.
package provider

import (
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/ai/openrouter"
	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
)

// Provider represents a generative backend
type Provider string

const (
	// ProviderLocal uses a local Ollama server
	ProviderLocal Provider = "local"
	// ProviderOpenRouter uses OpenRouter.ai or any OpenAI-compatible gateway
	ProviderOpenRouter Provider = "openrouter"
)

// ParseProvider converts a string to a Provider type
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return ProviderLocal, nil
	case "openrouter", "":
		return ProviderOpenRouter, nil
	default:
		return "", errors.NewInvalidConfigError("unknown provider: %s (valid: local, openrouter)", s)
	}
}

// NewGenerator builds the generator named by cfg.Generator.Provider
func NewGenerator(cfg *am.Config, logger *zap.SugaredLogger) (structured.Generator, error) {
	p, err := ParseProvider(cfg.Generator.Provider)
	if err != nil {
		return nil, err
	}

	switch p {
	case ProviderLocal:
		return NewLocalProvider(LocalConfig{
			BaseURL:     cfg.Generator.BaseURL,
			Model:       cfg.Generator.Model,
			HTTPTimeout: cfg.HTTPTimeout(),
			Logger:      logger,
		}), nil
	default:
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
		return openrouter.NewClient(openrouter.Config{
			APIKey:      cfg.Generator.APIKey,
			BaseURL:     cfg.Generator.BaseURL,
			Model:       cfg.Generator.Model,
			HTTPTimeout: cfg.HTTPTimeout(),
			Logger:      logger,

			AllowPrivateHosts: cfg.Generator.AllowPrivateHosts,
		}), nil
	}
}
