package severity

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the available analyzer implementations. Which ones actually
// run is decided by configuration, not by inspecting types at runtime.
type Registry struct {
	mu        sync.Mutex
	analyzers map[string]Analyzer
}

func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Name()] = a
}

// Select resolves the configured analyzer names. Unknown names are an error:
// a typo in configuration should fail startup, not silently drop an analyzer.
func (r *Registry) Select(names []string) ([]Analyzer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Analyzer, 0, len(names))
	for _, name := range names {
		a, ok := r.analyzers[name]
		if !ok {
			return nil, fmt.Errorf("unknown analyzer %q (registered: %v)", name, r.names())
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.analyzers))
	for name := range r.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
