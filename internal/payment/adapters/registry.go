// Package adapters resolves an inbound webhook provider name to the adapter
// that verifies and parses its deliveries.
package adapters

import (
	"slices"
	"strings"
	"sync"

	"github.com/smallbiznis/escrowd/internal/config"
	"github.com/smallbiznis/escrowd/internal/payment/domain"
)

// Settings holds per-provider adapter configuration, keyed by provider name.
type Settings map[string]map[string]any

// SettingsFromConfig exposes the webhook secrets the gateway config carries.
// Providers without a secret are left out and resolve as not configured.
func SettingsFromConfig(cfg config.GatewayConfig) Settings {
	out := Settings{}
	if cfg.StripeWebhookSecret != "" {
		out["stripe"] = map[string]any{"webhook_secret": cfg.StripeWebhookSecret}
	}
	if cfg.AdyenHMACKey != "" {
		out["adyen"] = map[string]any{"hmac_key": cfg.AdyenHMACKey}
	}
	return out
}

// Registry builds each provider's adapter on first use and reuses it.
type Registry struct {
	factories map[string]domain.AdapterFactory
	settings  Settings

	mu    sync.Mutex
	built map[string]domain.PaymentAdapter
}

func NewRegistry(settings Settings, factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		factories: make(map[string]domain.AdapterFactory, len(factories)),
		settings:  Settings{},
		built:     map[string]domain.PaymentAdapter{},
	}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := normalize(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	for name, cfg := range settings {
		r.settings[normalize(name)] = cfg
	}
	return r
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// Supports reports whether a factory exists for provider, configured or not.
func (r *Registry) Supports(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// Configured lists the providers that can currently accept deliveries.
func (r *Registry) Configured() []string {
	if r == nil {
		return nil
	}
	var names []string
	for name := range r.factories {
		if _, ok := r.settings[name]; ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	name := normalize(provider)
	if name == "" {
		return nil, domain.ErrInvalidProvider
	}
	if !r.Supports(name) {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.built[name]; ok {
		return adapter, nil
	}
	cfg, ok := r.settings[name]
	if !ok {
		return nil, domain.ErrGatewayNotConfigured
	}
	adapter, err := r.factories[name].NewAdapter(domain.AdapterConfig{Provider: name, Config: cfg})
	if err != nil {
		return nil, err
	}
	r.built[name] = adapter
	return adapter, nil
}
