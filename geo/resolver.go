package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"price-aggregator/utils"
)

const cacheKeyPrefix = "geo:country:"

// Options configures a Resolver.
type Options struct {
	// LookupURL is a format string with one %s for the IP, answering JSON
	// with a country_code field.
	LookupURL  string
	Fallback   string
	TTL        time.Duration
	HTTPClient *http.Client
}

// Resolver maps a client IP to an ISO country code. Answers are cached in
// Redis when a client is given, otherwise in process memory. Any failure
// yields the fallback country, which is never cached.
type Resolver struct {
	redis    *redis.Client
	http     *http.Client
	url      string
	fallback string
	ttl      time.Duration
	logger   *utils.Logger

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	country string
	expires time.Time
}

type lookupResponse struct {
	CountryCode string `json:"country_code"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// NewResolver creates a Resolver. client may be nil.
func NewResolver(client *redis.Client, opts Options, logger *utils.Logger) *Resolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Resolver{
		redis:    client,
		http:     opts.HTTPClient,
		url:      opts.LookupURL,
		fallback: strings.ToUpper(opts.Fallback),
		ttl:      opts.TTL,
		logger:   logger,
		local:    make(map[string]localEntry),
	}
}

// Fallback returns the country used when a lookup fails.
func (r *Resolver) Fallback() string { return r.fallback }

// Resolve returns the country for ip. Private, loopback and malformed
// addresses resolve to the fallback without a lookup.
func (r *Resolver) Resolve(ctx context.Context, ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return r.fallback
	}
	key := addr.String()

	if cc, ok := r.cached(ctx, key); ok {
		return cc
	}
	if r.url == "" {
		return r.fallback
	}

	cc, err := r.lookup(ctx, key)
	if err != nil {
		r.logger.Warn("[geo] Lookup for %s failed, using %s: %v", key, r.fallback, err)
		return r.fallback
	}
	r.store(ctx, key, cc)
	return cc
}

func (r *Resolver) lookup(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.url, ip), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if body.Error {
		return "", fmt.Errorf("lookup error: %s", body.Reason)
	}
	cc := strings.ToUpper(strings.TrimSpace(body.CountryCode))
	if len(cc) != 2 {
		return "", fmt.Errorf("invalid country code %q", body.CountryCode)
	}
	return cc, nil
}

func (r *Resolver) cached(ctx context.Context, ip string) (string, bool) {
	if r.redis != nil {
		cc, err := r.redis.Get(ctx, cacheKeyPrefix+ip).Result()
		if err == nil && cc != "" {
			return cc, true
		}
		if err != nil && err != redis.Nil {
			r.logger.Debug("[geo] Cache read for %s failed: %v", ip, err)
		}
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.local[ip]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(r.local, ip)
		return "", false
	}
	return e.country, true
}

func (r *Resolver) store(ctx context.Context, ip, cc string) {
	if r.redis != nil {
		if err := r.redis.Set(ctx, cacheKeyPrefix+ip, cc, r.ttl).Err(); err != nil {
			r.logger.Debug("[geo] Cache write for %s failed: %v", ip, err)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[ip] = localEntry{country: cc, expires: time.Now().Add(r.ttl)}
}
