package repository

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/askeywa/Immigration-V2-sub004/internal/tenant/domain"
)

// Lookup is the read side of the tenant directory used during resolution.
type Lookup interface {
	GetByDomain(ctx context.Context, host string) (*domain.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
}

// CachedLookup is a read-through cache in front of a Lookup. Only hits are
// cached, so a newly created tenant resolves on the next request. Status
// changes become visible once the entry expires or Invalidate is called.
type CachedLookup struct {
	next    Lookup
	domains *expirable.LRU[string, *domain.Tenant]
	slugs   *expirable.LRU[string, *domain.Tenant]
}

// NewCachedLookup wraps next with LRU caches of the given size and ttl.
// A size <= 0 returns next unchanged.
func NewCachedLookup(next Lookup, size int, ttl time.Duration) Lookup {
	if size <= 0 {
		return next
	}
	return &CachedLookup{
		next:    next,
		domains: expirable.NewLRU[string, *domain.Tenant](size, nil, ttl),
		slugs:   expirable.NewLRU[string, *domain.Tenant](size, nil, ttl),
	}
}

func (c *CachedLookup) GetByDomain(ctx context.Context, host string) (*domain.Tenant, error) {
	host = strings.ToLower(host)
	if t, ok := c.domains.Get(host); ok {
		return t, nil
	}
	t, err := c.next.GetByDomain(ctx, host)
	if err != nil || t == nil {
		return t, err
	}
	c.domains.Add(host, t)
	return t, nil
}

func (c *CachedLookup) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	if t, ok := c.slugs.Get(slug); ok {
		return t, nil
	}
	t, err := c.next.GetBySlug(ctx, slug)
	if err != nil || t == nil {
		return t, err
	}
	c.slugs.Add(slug, t)
	return t, nil
}

// Invalidate drops every cached entry for the tenant with the given id.
func (c *CachedLookup) Invalidate(tenantID string) {
	for _, k := range c.domains.Keys() {
		if t, ok := c.domains.Peek(k); ok && t.ID == tenantID {
			c.domains.Remove(k)
		}
	}
	for _, k := range c.slugs.Keys() {
		if t, ok := c.slugs.Peek(k); ok && t.ID == tenantID {
			c.slugs.Remove(k)
		}
	}
}
