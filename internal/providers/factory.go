package providers

import (
	"fmt"

	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/logger"
)

// NewBackend selects the backend named by cfg.Kind.
func NewBackend(cfg config.ProvidersConfig, log logger.Logger) (Backend, error) {
	switch cfg.Kind {
	case "genai":
		if cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("providers.base_url and providers.model are required for genai")
		}
		return NewGenAIClient(cfg, log), nil
	case "fake", "":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// OptionsFromConfig derives adapter options. orchestrationTimeout bounds a
// whole call including the retry.
func OptionsFromConfig(cfg config.ProvidersConfig, orchestrationTimeout int) Options {
	return Options{
		DefaultTimeout: config.GetDuration(orchestrationTimeout),
		AttemptTimeout: config.GetDuration(cfg.Timeout),
		RetryBackoff:   config.GetDuration(cfg.RetryBackoff),
	}
}
