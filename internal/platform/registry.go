package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autorun/internal/interaction"
)

var ErrUnsupported = errors.New("unsupported platform")

// Registry maps an upper-case platform type to its connector.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]interaction.Platform
}

func NewRegistry() *Registry {
	return &Registry{platforms: map[string]interaction.Platform{}}
}

// ParseEndpoints builds a registry of HTTP connectors from
// "DOUYIN=http://gw:8081,KWAI=http://gw:8082".
func ParseEndpoints(s string, timeout time.Duration) (*Registry, error) {
	r := NewRegistry()
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("bad platform endpoint %q", part)
		}
		r.Register(name, NewHTTPConnector(url, timeout))
	}
	return r, nil
}

func (r *Registry) Register(platformType string, p interaction.Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[strings.ToUpper(platformType)] = p
}

func (r *Registry) Resolve(platformType string) (interaction.Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[strings.ToUpper(platformType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, platformType)
	}
	return p, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.platforms))
	for k := range r.platforms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
