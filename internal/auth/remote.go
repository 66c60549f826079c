package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/telhawk-systems/tabula/internal/metrics"
	"github.com/telhawk-systems/tabula/internal/models"
)

// RemoteConfig configures a RemoteVerifier.
type RemoteConfig struct {
	// BaseURL of the identity provider; the user endpoint is BaseURL+UserPath.
	BaseURL  string
	UserPath string

	// APIKey is sent as the "apikey" header when set.
	APIKey string

	Timeout time.Duration

	// CacheTTL keeps positive answers for this long. Zero disables caching
	// so every request is verified by the provider.
	CacheTTL time.Duration

	// RequestsPerSecond and Burst throttle outbound verification calls.
	// Zero RequestsPerSecond disables the throttle.
	RequestsPerSecond float64
	Burst             int
}

type remoteUser struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// RemoteVerifier asks the identity provider who a token belongs to.
type RemoteVerifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *identityCache
}

func NewRemoteVerifier(cfg RemoteConfig) *RemoteVerifier {
	if cfg.UserPath == "" {
		cfg.UserPath = "/auth/v1/user"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	v := &RemoteVerifier{
		url:        strings.TrimRight(cfg.BaseURL, "/") + cfg.UserPath,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		v.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.CacheTTL > 0 {
		v.cache = newIdentityCache(cfg.CacheTTL)
	}
	return v
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	if v.cache != nil {
		if id, ok := v.cache.get(token); ok {
			metrics.IdentityCacheHits.Inc()
			return id, nil
		}
	}

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return models.Identity{}, fmt.Errorf("%w: throttled: %v", ErrIdentityUnavailable, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return models.Identity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return models.Identity{}, fmt.Errorf("%w: provider answered %d", ErrInvalidCredential, resp.StatusCode)
	default:
		return models.Identity{}, fmt.Errorf("%w: provider answered %d", ErrIdentityUnavailable, resp.StatusCode)
	}

	var user remoteUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return models.Identity{}, fmt.Errorf("%w: decode response: %v", ErrIdentityUnavailable, err)
	}
	if user.ID == "" {
		return models.Identity{}, fmt.Errorf("%w: provider returned no user", ErrInvalidCredential)
	}

	id := models.Identity{ID: user.ID, Email: user.Email, DisplayName: user.UserMetadata.DisplayName()}
	if v.cache != nil {
		v.cache.set(token, id)
	}
	return id, nil
}

// identityCache maps token digests to identities for a fixed TTL.
type identityCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	identity  models.Identity
	expiresAt time.Time
}

func newIdentityCache(ttl time.Duration) *identityCache {
	return &identityCache{entries: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *identityCache) get(token string) (models.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[digest(token)]
	if !ok || !c.now().Before(e.expiresAt) {
		return models.Identity{}, false
	}
	return e.identity, true
}

func (c *identityCache) set(token string, id models.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[digest(token)] = cacheEntry{identity: id, expiresAt: now.Add(c.ttl)}
}
