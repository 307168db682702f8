package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/DoyleJ11/mafia-session/internal/httpapi"
	"github.com/DoyleJ11/mafia-session/internal/hub"
	"github.com/DoyleJ11/mafia-session/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	h := hub.NewHub(context.Background())
	srv := httptest.NewServer(httpapi.SetupRoutes(h, nil))
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})

	c, err := NewClient(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_RegisterResolveUnregister(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	require.NoError(t, c.Healthy(ctx))

	id, err := c.Register(ctx, "abc123", "127.0.0.1:4000")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", id)

	addr, err := c.Resolve(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", addr)

	_, err = c.Register(ctx, "ABC123", "127.0.0.1:5000")
	assert.ErrorIs(t, err, ErrCodeTaken)

	require.NoError(t, c.Unregister(ctx, "ABC123"))
	_, err = c.Resolve(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Unregister(ctx, "ABC123"), ErrNotFound)

	_, err = c.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_RegisterGeneratesCode(t *testing.T) {
	c := newClient(t)
	id, err := c.Register(context.Background(), "", "127.0.0.1:4000")
	require.NoError(t, err)
	assert.True(t, hub.ValidCode(id), id)
}

func TestClient_RegisterRejected(t *testing.T) {
	c := newClient(t)
	_, err := c.Register(context.Background(), "AB", "127.0.0.1:4000")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, `{"error":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ABC123","addr":"127.0.0.1:4000"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	addr, err := c.Resolve(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", addr)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_NoRetryOnClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"nope"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
	_, err = NewClient("://nope")
	assert.Error(t, err)
}

func TestClient_AsTransportRegistry(t *testing.T) {
	ctx := context.Background()
	reg := newClient(t)

	host, err := transport.Open(ctx, transport.WithID("abc123"), transport.WithListenAddr("127.0.0.1:0"), transport.WithRegistry(reg))
	require.NoError(t, err)
	assert.Equal(t, "ABC123", host.ID())

	_, err = transport.Open(ctx, transport.WithID("ABC123"), transport.WithListenAddr("127.0.0.1:0"), transport.WithRegistry(reg))
	assert.ErrorIs(t, err, transport.ErrTransportUnavailable)
	assert.ErrorIs(t, err, ErrCodeTaken)

	joiner, err := transport.Open(ctx, transport.WithRegistry(reg))
	require.NoError(t, err)
	defer joiner.Close()

	conn, err := joiner.Connect(ctx, "abc123")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, host.Close())
	_, err = reg.Resolve(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrNotFound)
}
