// Package source defines the interface and implementations for remote legal
// opinion providers.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/caselaw-cli/internal/model"
)

// Request bounds a single provider fetch.
type Request struct {
	// Since drops opinions dated before it. Zero disables the filter.
	Since  time.Time
	Topics []string
	// MaxResults is a hard cap on returned opinions.
	MaxResults int
	// PageSize is a hint; each provider clamps it to what its API accepts.
	PageSize int
}

// Provider fetches candidate opinions from one remote source.
type Provider interface {
	// Name returns the provider identifier used for selection and logging.
	Name() string
	// Fetch returns at most req.MaxResults opinions, none dated before
	// req.Since. A provider without credentials returns an empty result.
	Fetch(ctx context.Context, req Request) ([]model.Opinion, error)
}

// Cursor tracks pagination state for one fetch. Exactly one of Next (URL) or
// Mark (offset token) is used, depending on the source.
type Cursor struct {
	Next      string
	Mark      string
	Page      int
	Retrieved int
}

// ParseError describes a raw item that could not be turned into an opinion.
type ParseError struct {
	Provider string
	ItemID   string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("%s: parse item: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: parse item %s: %s", e.Provider, e.ItemID, e.Reason)
}

// Parsed is the outcome of parsing one raw item. Exactly one of the following
// holds: Err is set (malformed item), Drop is set (valid but filtered out), or
// Opinion is usable.
type Parsed struct {
	Opinion model.Opinion
	Err     error
	Drop    bool
}

func dropped() Parsed { return Parsed{Drop: true} }

func failed(provider, id, reason string) Parsed {
	return Parsed{Err: &ParseError{Provider: provider, ItemID: id, Reason: reason}}
}

// accept appends usable parse results to out until limit is reached. It reports
// whether the cap was hit.
func accept(provider string, out []model.Opinion, p Parsed, limit int) ([]model.Opinion, bool) {
	switch {
	case p.Err != nil:
		zap.L().Debug("skipping unparseable item",
			zap.String("provider", provider),
			zap.Error(p.Err),
		)
	case p.Drop:
	default:
		out = append(out, p.Opinion)
	}
	return out, len(out) >= limit
}

// Registry manages available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves names to providers in the given order. Unknown and repeated
// names are logged and skipped. Selecting nothing is an error.
func (r *Registry) Select(names []string) ([]Provider, error) {
	seen := make(map[string]bool, len(names))
	var out []Provider
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p := r.Get(name)
		if p == nil {
			zap.L().Warn("unknown provider, skipping",
				zap.String("provider", name),
				zap.Strings("available", r.List()),
			)
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, eris.Errorf("source: no valid providers selected from %v", names)
	}
	return out, nil
}
