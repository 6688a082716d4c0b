package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/stratus/internal/billing/domain"
)

// Adapter translates one payment provider's webhook wire format into the
// canonical event the reconciler consumes.
type Adapter interface {
	Provider() string
	Verify(payload []byte, headers map[string]string) error
	Parse(payload []byte) (*domain.WebhookEvent, error)
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Provider())] = a
}

func (r *Registry) Get(provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return a, nil
}
