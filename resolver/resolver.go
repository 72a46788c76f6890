package resolver

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/internal/resolvercache"
)

// DefaultTTL is the cache lifetime for a resolved host.
const DefaultTTL = 5 * time.Minute

// controlPlane is the subset of falcon.Client the resolver needs; narrowed
// to an interface so tests can substitute a fake control plane.
type controlPlane interface {
	QueryHosts(ctx context.Context, filter falcon.HostQueryFilter) ([]string, error)
	GetHostDetails(ctx context.Context, agentIDs []string) ([]falcon.HostRecord, error)
}

// warmCache is the subset of resolvercache.Cache a Resolver drives; narrowed
// to an interface so tests can exercise the warm-cache path without a real
// sqlite file.
type warmCache interface {
	FindByHostname(ctx context.Context, hostname string) (resolvercache.ResolvedHost, bool, error)
	Put(ctx context.Context, rh resolvercache.ResolvedHost) error
}

type cacheEntry struct {
	info      HostInfo
	expiresAt time.Time
}

// Option configures optional Resolver behavior.
type Option func(*Resolver)

// WithWarmCache attaches an on-disk cache consulted on an in-memory LRU
// miss, and written through on every live resolution. Without this option
// a Resolver holds only the in-process LRU.
func WithWarmCache(c *resolvercache.Cache) Option {
	return func(r *Resolver) { r.warm = c }
}

// Resolver resolves hostnames to HostInfo, memoizing results in an
// in-process LRU keyed by agent id, optionally backed by an on-disk warm
// cache that survives process restarts.
type Resolver struct {
	client controlPlane
	cache  *lru.Cache
	ttl    time.Duration
	warm   warmCache
}

// New builds a Resolver backed by client, with a bounded LRU of size
// capacity (0 uses a sane default).
func New(client *falcon.Client, capacity int, ttl time.Duration, opts ...Option) (*Resolver, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	cache, err := lru.New(capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create resolver cache")
	}

	r := &Resolver{
		client: client,
		cache:  cache,
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve turns hostname into a HostInfo, consulting the cache first.
// Returns errors.ErrNotFound if the query yields no agent ids or the
// details response lacks an agent id or customer id.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (HostInfo, error) {
	if cached, ok := r.lookupFresh(hostname); ok {
		return cached, nil
	}

	if r.warm != nil {
		if rh, ok, err := r.warm.FindByHostname(ctx, hostname); err == nil && ok {
			info := HostInfo{
				Hostname:   rh.Hostname,
				AgentID:    rh.AgentID,
				CustomerID: rh.CustomerID,
				Platform:   normalizePlatform(rh.Platform),
			}
			r.cache.Add(info.AgentID, cacheEntry{info: info, expiresAt: time.Now().Add(r.ttl)})
			return info, nil
		}
	}

	agentIDs, err := r.client.QueryHosts(ctx, falcon.HostQueryFilter{HostnameSubstring: hostname})
	if err != nil {
		return HostInfo{}, errors.Wrapf(err, "query hosts for %s", hostname)
	}
	if len(agentIDs) == 0 {
		return HostInfo{}, errors.Wrapf(errors.ErrNotFound, "no agent resolves hostname %s", hostname)
	}

	records, err := r.client.GetHostDetails(ctx, agentIDs)
	if err != nil {
		return HostInfo{}, errors.Wrapf(err, "get host details for %s", hostname)
	}
	if len(records) == 0 {
		return HostInfo{}, errors.Wrapf(errors.ErrNotFound, "no host details for %s", hostname)
	}

	record := records[0]
	if record.AgentID == "" || record.CustomerID == "" {
		return HostInfo{}, errors.Wrapf(errors.ErrNotFound, "host details for %s missing agent_id or customer_id", hostname)
	}

	info := HostInfo{
		Hostname:   hostname,
		AgentID:    record.AgentID,
		CustomerID: record.CustomerID,
		Platform:   normalizePlatform(record.Platform),
		OSVersion:  record.OSVersion,
		CPUName:    record.CPUName,
	}

	r.cache.Add(info.AgentID, cacheEntry{info: info, expiresAt: time.Now().Add(r.ttl)})
	if r.warm != nil {
		// Best-effort: a warm-cache write fault must not fail a resolution
		// that already succeeded against the control plane.
		_ = r.warm.Put(ctx, resolvercache.ResolvedHost{
			CustomerID: info.CustomerID,
			Hostname:   info.Hostname,
			AgentID:    info.AgentID,
			Platform:   string(info.Platform),
		})
	}
	return info, nil
}

func (r *Resolver) lookupFresh(hostname string) (HostInfo, bool) {
	for _, key := range r.cache.Keys() {
		val, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		entry := val.(cacheEntry)
		if entry.info.Hostname != hostname {
			continue
		}
		if time.Now().After(entry.expiresAt) {
			r.cache.Remove(key)
			return HostInfo{}, false
		}
		return entry.info, true
	}
	return HostInfo{}, false
}
