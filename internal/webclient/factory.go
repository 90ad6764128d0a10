package webclient

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// RendererConstructor builds a Renderer. fetch is the process fetch client,
// used by backends that do not drive a browser.
type RendererConstructor func(cfg RendererConfig, fetch WebClient, logger logging.Logger) (Renderer, error)

var (
	mu       sync.RWMutex
	registry = map[string]RendererConstructor{}
)

// RegisterRenderer registers a named renderer constructor. Name is
// lower-cased internally. Calling RegisterRenderer with the same name
// overwrites the previous constructor.
func RegisterRenderer(name string, ctor RendererConstructor) {
	if name == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// NewRenderer constructs the configured renderer backend. It returns an
// error if the named backend has not been registered.
func NewRenderer(cfg RendererConfig, fetch WebClient, logger logging.Logger) (Renderer, error) {
	backend := strings.ToLower(strings.TrimSpace(string(cfg.Backend)))
	if backend == "" {
		backend = string(BackendChromedp)
	}

	mu.RLock()
	ctor, ok := registry[backend]
	mu.RUnlock()
	if !ok || ctor == nil {
		return nil, fmt.Errorf("renderer backend %q (available: %v): %w", backend, ListRenderers(), ErrUnsupportedBackend)
	}

	r, err := ctor(cfg, fetch, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to construct renderer backend %q: %w", backend, err)
	}
	if r == nil {
		return nil, errors.New("renderer constructor returned nil")
	}
	return r, nil
}

// ListRenderers returns the registered backend names, sorted.
func ListRenderers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
