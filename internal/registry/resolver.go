// Package registry resolves logical agent names to reachable URLs. It
// consults a Consul catalog when one is configured, falls back to the static
// agent directory, and caches successful resolutions until they are
// explicitly invalidated after a delivery failure.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/respondmesh/respondmesh/internal/agent"
	"github.com/respondmesh/respondmesh/internal/domain"
	"github.com/respondmesh/respondmesh/internal/port/cache"
)

// catalogService is the subset of a Consul catalog entry the resolver reads.
type catalogService struct {
	Address        string `json:"Address"`
	ServiceAddress string `json:"ServiceAddress"`
	ServicePort    int    `json:"ServicePort"`
}

// Resolver maps agent names to URLs. Registry failures are swallowed: the
// static directory keeps the mesh routable when Consul is down or absent.
type Resolver struct {
	baseURL string
	client  *http.Client
	cache   cache.Cache
	log     *slog.Logger
}

// NewResolver creates a resolver. baseURL is the Consul HTTP address; an
// empty baseURL disables catalog lookups entirely.
func NewResolver(baseURL string, timeout time.Duration, c cache.Cache, log *slog.Logger) *Resolver {
	return &Resolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   c,
		log:     log,
	}
}

// Resolve returns the URL for the named agent. Order: cache, catalog, static
// directory. Returns domain.ErrNotFound only when the catalog has no entry
// and the agent is not in the static directory.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = agent.Normalize(name)

	if data, ok, err := r.cache.Get(ctx, name); err == nil && ok {
		return string(data), nil
	}

	url := r.lookupCatalog(ctx, name)
	if url == "" {
		url = agent.StaticURL(name)
		if url != "" {
			r.log.Debug("using static fallback", "agent", name, "url", url)
		}
	}
	if url == "" {
		return "", fmt.Errorf("resolve %s: %w", name, domain.ErrNotFound)
	}

	if err := r.cache.Set(ctx, name, []byte(url), 0); err != nil {
		r.log.Warn("resolution cache write failed", "agent", name, "error", err)
	}
	return url, nil
}

// Invalidate drops the cached address for an agent, forcing re-resolution on
// the next call. Called by the messaging client after a delivery failure.
func (r *Resolver) Invalidate(ctx context.Context, name string) {
	name = agent.Normalize(name)
	if err := r.cache.Delete(ctx, name); err != nil {
		r.log.Warn("resolution cache invalidation failed", "agent", name, "error", err)
	}
}

// lookupCatalog queries the Consul catalog. Any failure returns "" so the
// caller falls through to static routing.
func (r *Resolver) lookupCatalog(ctx context.Context, name string) string {
	if r.baseURL == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/v1/catalog/service/"+name, nil)
	if err != nil {
		return ""
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("catalog lookup failed", "agent", name, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var services []catalogService
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil || len(services) == 0 {
		return ""
	}

	svc := services[0]
	address := svc.ServiceAddress
	if address == "" {
		address = svc.Address
	}
	if address == "" || svc.ServicePort == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", address, svc.ServicePort)
}
