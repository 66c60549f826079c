package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/tabula/internal/models"
)

func newProvider(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/auth/v1/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "anon-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"user-7","email":"seven@example.com","user_metadata":{"name":"Seven"}}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		case "Bearer empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteVerifier(t *testing.T) {
	var calls atomic.Int32
	srv := newProvider(t, &calls)
	v := NewRemoteVerifier(RemoteConfig{BaseURL: srv.URL + "/", APIKey: "anon-key"})
	ctx := context.Background()

	id, err := v.Verify(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "user-7", id.ID)
	assert.Equal(t, "seven@example.com", id.Email)
	assert.Equal(t, "Seven", id.DisplayName)

	_, err = v.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(ctx, "empty")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(ctx, "broken")
	assert.ErrorIs(t, err, ErrIdentityUnavailable)
}

func TestRemoteVerifier_Unreachable(t *testing.T) {
	v := NewRemoteVerifier(RemoteConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	_, err := v.Verify(context.Background(), "good")
	assert.ErrorIs(t, err, ErrIdentityUnavailable)
}

func TestRemoteVerifier_NoCacheByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := newProvider(t, &calls)
	v := NewRemoteVerifier(RemoteConfig{BaseURL: srv.URL, APIKey: "anon-key"})

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), "good")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteVerifier_Cache(t *testing.T) {
	var calls atomic.Int32
	srv := newProvider(t, &calls)
	v := NewRemoteVerifier(RemoteConfig{BaseURL: srv.URL, APIKey: "anon-key", CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), "good")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	// rejections are never cached
	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), "garbage")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestIdentityCache_Expiry(t *testing.T) {
	c := newIdentityCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.set("tok", testIdentity("u1"))
	_, ok := c.get("tok")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.get("tok")
	assert.False(t, ok)

	c.set("other", testIdentity("u2"))
	assert.Len(t, c.entries, 1, "expired entries are pruned on write")
}

func TestRemoteVerifier_ThrottleHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := newProvider(t, &calls)
	v := NewRemoteVerifier(RemoteConfig{BaseURL: srv.URL, APIKey: "anon-key", RequestsPerSecond: 0.001, Burst: 1})

	_, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = v.Verify(ctx, "good")
	assert.ErrorIs(t, err, ErrIdentityUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func testIdentity(id string) models.Identity {
	return models.Identity{ID: id}
}
