package nettools

import (
	"context"
	"hash/fnv"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CacheEntry is a stored successful response.
type CacheEntry struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	ExpiresAt  time.Time
}

// Cache interface for response caching
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// InMemoryCache is a sharded map Cache with lazy expiry.
type InMemoryCache struct {
	shards []*cacheShard
	now    func() time.Time
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

const cacheShards = 16

// NewInMemoryCache returns an empty InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	shards := make([]*cacheShard, cacheShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return &InMemoryCache{shards: shards, now: time.Now}
}

func (c *InMemoryCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShards]
}

// Get returns the entry for key unless it is missing or expired.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	s := c.shard(key)
	s.mu.RLock()
	entry, ok := s.store[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !c.now().Before(entry.ExpiresAt) {
		s.mu.Lock()
		if current, ok := s.store[key]; ok && current == entry {
			delete(s.store, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return entry, true
}

// Set stores entry under key for ttl, setting its ExpiresAt.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ExpiresAt = c.now().Add(ttl)
	s.store[key] = entry
}

// Delete removes key.
func (c *InMemoryCache) Delete(key string) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.store, key)
}

// Clear removes every entry.
func (c *InMemoryCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.store = make(map[string]*CacheEntry)
		s.mu.Unlock()
	}
}

// Len counts live and not yet evicted entries.
func (c *InMemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.store)
		s.mu.RUnlock()
	}
	return n
}

// ResponseCache is a Stage that serves repeated GET calls from a Cache.
// Only successful responses are stored. A response's Cache-Control header
// overrides the default TTL: no-store and no-cache skip storage, max-age
// sets the lifetime.
type ResponseCache struct {
	cache Cache
	ttl   time.Duration
}

// NewResponseCache stores responses in cache for ttl.
func NewResponseCache(cache Cache, ttl time.Duration) *ResponseCache {
	return &ResponseCache{cache: cache, ttl: ttl}
}

// Name implements Stage.
func (c *ResponseCache) Name() string {
	return "cache"
}

// Wrap implements Stage.
func (c *ResponseCache) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Method != http.MethodGet || cacheBypassed(ctx) {
			return next.Send(ctx, req)
		}

		obs := observerFrom(ctx)
		key := requestKey(req)
		if entry, ok := c.cache.Get(key); ok {
			obs.cacheLookup(true)
			return &Response{
				StatusCode: entry.StatusCode,
				Status:     entry.Status,
				Header:     entry.Header.Clone(),
				Body:       entry.Body,
				Request:    req,
			}, nil
		}
		obs.cacheLookup(false)

		resp, err := next.Send(ctx, req)
		if err != nil || resp == nil || !resp.IsSuccess() {
			return resp, err
		}
		if ttl := c.ttlFor(resp); ttl > 0 {
			c.cache.Set(key, &CacheEntry{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Header:     resp.Header.Clone(),
				Body:       resp.Body,
			}, ttl)
		}
		return resp, nil
	})
}

func (c *ResponseCache) ttlFor(resp *Response) time.Duration {
	d := parseCacheControl(resp.Header.Get("Cache-Control"))
	switch {
	case d.noStore || d.noCache:
		return 0
	case d.maxAge != nil:
		return *d.maxAge
	default:
		return c.ttl
	}
}

func (c *ResponseCache) validate() []string {
	var problems []string
	if c.cache == nil {
		problems = append(problems, "response cache store cannot be nil")
	}
	if c.ttl <= 0 {
		problems = append(problems, "response cache ttl must be positive")
	}
	return problems
}

type cacheDirectives struct {
	noStore bool
	noCache bool
	maxAge  *time.Duration
}

func parseCacheControl(header string) cacheDirectives {
	var d cacheDirectives
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "no-store":
			d.noStore = true
		case "no-cache":
			d.noCache = true
		case "max-age":
			if seconds, err := strconv.Atoi(strings.Trim(value, `"`)); err == nil && seconds >= 0 {
				maxAge := time.Duration(seconds) * time.Second
				d.maxAge = &maxAge
			}
		}
	}
	return d
}

type cacheBypassKey struct{}

// WithoutCache marks ctx so that calls made with it skip the response cache.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	bypass, _ := ctx.Value(cacheBypassKey{}).(bool)
	return bypass
}

// requestKey identifies requests that are interchangeable: same method,
// address, headers and body. Every header counts, so credentials sent in
// any header never share an entry.
func requestKey(req *Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(req.FullURL()))
	h.Write([]byte{0})

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		h.Write([]byte(name))
		for _, v := range req.Header[name] {
			h.Write([]byte{1})
			h.Write([]byte(v))
		}
		h.Write([]byte{0})
	}

	h.Write(req.Body)
	return strconv.FormatUint(h.Sum64(), 16)
}
