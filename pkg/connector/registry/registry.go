// Package registry holds the compile-time registry of source connectors.
// Connectors register a factory from an init function; the CLI looks them
// up by name at sync time.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/errors"
)

// SourceFactory builds a source from the sync configuration.
type SourceFactory func(ctx context.Context, cfg *config.SyncConfig) (core.Source, error)

var (
	mu      sync.RWMutex
	sources = make(map[string]SourceFactory)
)

// RegisterSource registers a source factory under a unique name. Duplicate
// registration is a programming error.
func RegisterSource(name string, factory SourceFactory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := sources[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "source %q is already registered", name)
	}
	sources[name] = factory
	return nil
}

// MustRegisterSource registers a factory and panics on duplicates. Meant
// for init functions.
func MustRegisterSource(name string, factory SourceFactory) {
	if err := RegisterSource(name, factory); err != nil {
		panic(err)
	}
}

// CreateSource builds the named source.
func CreateSource(ctx context.Context, name string, cfg *config.SyncConfig) (core.Source, error) {
	mu.RLock()
	factory, exists := sources[name]
	mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown source %q, registered: %v", name, ListSources())
	}
	return factory(ctx, cfg)
}

// ListSources returns the registered source names, sorted.
func ListSources() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
