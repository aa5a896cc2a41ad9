package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/openziti/hostctl/kernel/model"
)

// Transport delivers one command to one endpoint. A nil error means the endpoint accepted the
// command, not that the remote side completed it.
type Transport interface {
	Send(ctx context.Context, endpoint *model.Endpoint) error
}

// TransportFactory creates a Transport for a URL scheme.
type TransportFactory func() Transport

var (
	registryMu sync.RWMutex
	registry   = make(map[string]TransportFactory)
)

// RegisterTransport registers a factory for a URL scheme.
// e.g. RegisterTransport("wol", func() Transport { return &wolTransport{} })
func RegisterTransport(scheme string, factory TransportFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[scheme]; dup {
		panic("RegisterTransport called twice for " + scheme)
	}
	registry[scheme] = factory
}

// GetTransport creates a new transport for the scheme.
func GetTransport(scheme string) (Transport, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("transport for scheme '%s' not found in registry", scheme)
	}
	return factory(), nil
}

// Schemes lists the registered URL schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	schemes := make([]string, 0, len(registry))
	for scheme := range registry {
		schemes = append(schemes, scheme)
	}
	return schemes
}

// SchemeOf extracts the lower-cased URL scheme of an endpoint URL.
func SchemeOf(rawUrl string) (string, error) {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("url '%s' has no scheme", rawUrl)
	}
	return strings.ToLower(u.Scheme), nil
}
