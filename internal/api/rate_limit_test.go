package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	w := publicWindow.withLimit(2)
	for i := 0; i < 2; i++ {
		ok, err := w.allow(ctx, client, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := w.allow(ctx, client, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.allow(ctx, client, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "buckets are per client")

	key := w.key(time.Now(), "10.0.0.1")
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	unlimited := publicWindow.withLimit(0)
	ok, err = unlimited.allow(ctx, client, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixedWindowKeyBuckets(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 15, 30, 0, time.UTC)
	assert.Equal(t, loginWindow.key(base, "ip", "ada"), loginWindow.key(base.Add(30*time.Minute), "ip", "ada"))
	assert.NotEqual(t, loginWindow.key(base, "ip", "ada"), loginWindow.key(base.Add(time.Hour), "ip", "ada"))
	assert.Contains(t, publicWindow.key(base, "ip"), "rate:public:ip:")
}

func TestUpgraderOrigin(t *testing.T) {
	sameHost := newUpgrader(nil)
	req := httptest.NewRequest("GET", "http://api.example.com/v1/ws", nil)
	assert.True(t, sameHost.CheckOrigin(req), "no origin header")

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, sameHost.CheckOrigin(req))
	req.Header.Set("Origin", "http://evil.example.com")
	assert.False(t, sameHost.CheckOrigin(req))

	listed := newUpgrader([]string{"https://app.example.com"})
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, listed.CheckOrigin(req))
	req.Header.Set("Origin", "http://api.example.com")
	assert.False(t, listed.CheckOrigin(req))
}
