package gemini

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// A Resolver resolves a hostname into a single IP address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// NetResolver resolves names with a net.Resolver.
// The zero value uses net.DefaultResolver.
type NetResolver struct {
	Resolver *net.Resolver
}

// Resolve returns the first address found for host.
func (r NetResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("gemini: no addresses for %s", host)
	}
	return addrs[0].Unmap(), nil
}

// Resolver cache defaults.
const (
	DefaultResolveTTL      = 5 * time.Minute
	defaultCleanupInterval = 10 * time.Minute
)

// CachingResolver remembers successful resolutions for a while.
// Failures are not cached.
//
// CachingResolver is safe for concurrent use by multiple goroutines.
type CachingResolver struct {
	resolver Resolver
	cache    *gocache.Cache
}

// NewCachingResolver returns a resolver that caches the results of r for
// ttl. A ttl of zero uses DefaultResolveTTL.
func NewCachingResolver(r Resolver, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	return &CachingResolver{
		resolver: r,
		cache:    gocache.New(ttl, defaultCleanupInterval),
	}
}

// Resolve returns the cached address for host or asks the underlying
// resolver.
func (c *CachingResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if v, ok := c.cache.Get(host); ok {
		if addr, ok := v.(netip.Addr); ok {
			return addr, nil
		}
	}
	addr, err := c.resolver.Resolve(ctx, host)
	if err != nil {
		return netip.Addr{}, err
	}
	c.cache.SetDefault(host, addr)
	return addr, nil
}

// Forget drops any cached address for host.
func (c *CachingResolver) Forget(host string) {
	c.cache.Delete(host)
}
