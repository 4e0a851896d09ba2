package transfer

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Transport opens a byte stream for a URI. size is -1 when the remote end
// does not announce it.
type Transport interface {
	Open(ctx context.Context, uri *url.URL) (body io.ReadCloser, size int64, err error)
}

type TransportFunc func(ctx context.Context, uri *url.URL) (io.ReadCloser, int64, error)

func (f TransportFunc) Open(ctx context.Context, uri *url.URL) (io.ReadCloser, int64, error) {
	return f(ctx, uri)
}

// Registry maps URI schemes to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

func (r *Registry) Register(t Transport, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.transports[strings.ToLower(scheme)] = t
	}
}

func (r *Registry) Lookup(scheme string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return t, nil
}

func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.transports))
	for scheme := range r.transports {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

func (r *Registry) Open(ctx context.Context, uri *url.URL) (io.ReadCloser, int64, error) {
	t, err := r.Lookup(uri.Scheme)
	if err != nil {
		return nil, 0, err
	}
	return t.Open(ctx, uri)
}
