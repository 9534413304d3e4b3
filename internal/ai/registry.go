package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/ai-saas/internal/config"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewRegistryFromConfig registers every provider the deployment can reach.
func NewRegistryFromConfig(cfg config.Config, log logrus.FieldLogger) *Registry {
	reg := NewRegistry()

	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	if cfg.OpenRouterAPIKey != "" {
		reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
			m := strings.TrimSpace(model)
			if m == "" {
				m = cfg.OpenRouterModel
			}
			p := NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
				cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
			if log != nil {
				p.Log = log
			}
			return p, nil
		})
	}

	reg.Register("echo", func(ctx context.Context, model string) (Provider, error) {
		return EchoProvider{}, nil
	})
	return reg
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

func (r *Registry) Has(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
