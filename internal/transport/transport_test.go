package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTaken = errors.New("taken")
var errUnknown = errors.New("unknown")

type memRegistry struct {
	mu    sync.Mutex
	addrs map[string]string
}

func newMemRegistry() *memRegistry { return &memRegistry{addrs: make(map[string]string)} }

func (r *memRegistry) Register(_ context.Context, id, addr string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = fmt.Sprintf("GEN%03d", len(r.addrs))
	}
	if _, ok := r.addrs[id]; ok {
		return "", errTaken
	}
	r.addrs[id] = addr
	return id, nil
}

func (r *memRegistry) Resolve(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.addrs[id]
	if !ok {
		return "", errUnknown
	}
	return addr, nil
}

func (r *memRegistry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, id)
	return nil
}

func nextEvent(t *testing.T, c *Conn, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("events closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
	}
	return Event{} // unreachable
}

func waitClosed(t *testing.T, c *Conn, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			if ev.Type == EventData {
				t.Fatalf("unexpected data %q while waiting for close", ev.Data)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for close")
		}
	}
}

func openHost(t *testing.T, reg Registry, id string) *Endpoint {
	t.Helper()
	host, err := Open(context.Background(), WithID(id), WithListenAddr("127.0.0.1:0"), WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close() })
	return host
}

func acceptOne(t *testing.T, host *Endpoint) *Conn {
	t.Helper()
	select {
	case c := <-host.Incoming():
		require.NotNil(t, c)
		return c
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for inbound connection")
	}
	return nil
}

func TestLoopback_EventsAndOrdering(t *testing.T) {
	reg := newMemRegistry()
	host := openHost(t, reg, "ABC123")
	assert.Equal(t, "ABC123", host.ID())

	joiner, err := Open(context.Background(), WithRegistry(reg))
	require.NoError(t, err)
	defer joiner.Close()
	assert.NotEmpty(t, joiner.ID())

	out, err := joiner.Connect(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, EventOpen, nextEvent(t, out, time.Second).Type)

	in := acceptOne(t, host)
	assert.Equal(t, joiner.ID(), in.RemoteID())
	assert.Equal(t, EventOpen, nextEvent(t, in, time.Second).Type)

	for i := 0; i < 10; i++ {
		require.NoError(t, in.Send([]byte(fmt.Sprintf("frame-%d", i))))
	}
	for i := 0; i < 10; i++ {
		ev := nextEvent(t, out, time.Second)
		require.Equal(t, EventData, ev.Type)
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(ev.Data))
	}

	require.NoError(t, out.Send([]byte("hello host")))
	ev := nextEvent(t, in, time.Second)
	assert.Equal(t, "hello host", string(ev.Data))
}

func TestConn_CloseFlushesAndPropagates(t *testing.T) {
	reg := newMemRegistry()
	host := openHost(t, reg, "ABC123")
	joiner, err := Open(context.Background(), WithRegistry(reg))
	require.NoError(t, err)
	defer joiner.Close()

	out, err := joiner.Connect(context.Background(), "ABC123")
	require.NoError(t, err)
	in := acceptOne(t, host)
	nextEvent(t, in, time.Second) // open

	require.NoError(t, out.Send([]byte("last words")))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	ev := nextEvent(t, in, time.Second)
	assert.Equal(t, EventData, ev.Type)
	assert.Equal(t, "last words", string(ev.Data))
	waitClosed(t, in, time.Second)

	assert.ErrorIs(t, out.Send([]byte("again")), ErrConnectionClosed)
	select {
	case <-in.Done():
	case <-time.After(time.Second):
		t.Fatalf("remote conn not done")
	}
	assert.ErrorIs(t, in.Send([]byte("late")), ErrConnectionClosed)
}

func TestConnect_TimesOutAgainstSilentPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	reg := newMemRegistry()
	_, err = reg.Register(context.Background(), "SILENT", ln.Addr().String())
	require.NoError(t, err)

	joiner, err := Open(context.Background(), WithRegistry(reg), WithConnectTimeout(200*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	c, err := joiner.Connect(context.Background(), "SILENT")
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	// teardown after a timeout is safe and repeatable
	assert.NoError(t, joiner.Close())
	assert.NoError(t, joiner.Close())
}

func TestConnect_PeerUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	reg := newMemRegistry()
	_, err = reg.Register(context.Background(), "GONE00", deadAddr)
	require.NoError(t, err)

	joiner, err := Open(context.Background(), WithRegistry(reg))
	require.NoError(t, err)
	defer joiner.Close()

	_, err = joiner.Connect(context.Background(), "NOPE00")
	assert.ErrorIs(t, err, ErrPeerUnavailable)
	assert.ErrorIs(t, err, errUnknown)

	_, err = joiner.Connect(context.Background(), "GONE00")
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestOpen_Failures(t *testing.T) {
	reg := newMemRegistry()
	openHost(t, reg, "ABC123")

	_, err := Open(context.Background(), WithID("ABC123"), WithListenAddr("127.0.0.1:0"), WithRegistry(reg))
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.ErrorIs(t, err, errTaken)

	_, err = Open(context.Background(), WithListenAddr("256.0.0.1:0"))
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestOpen_RegistryAssignsID(t *testing.T) {
	reg := newMemRegistry()
	host := openHost(t, reg, "")
	assert.Equal(t, "GEN000", host.ID())

	addr, err := reg.Resolve(context.Background(), host.ID())
	require.NoError(t, err)
	assert.Equal(t, host.Addr(), addr)
}

func TestEndpoint_CloseTearsDown(t *testing.T) {
	reg := newMemRegistry()
	host, err := Open(context.Background(), WithID("ABC123"), WithListenAddr("127.0.0.1:0"), WithRegistry(reg))
	require.NoError(t, err)

	joiner, err := Open(context.Background(), WithRegistry(reg))
	require.NoError(t, err)
	defer joiner.Close()

	out, err := joiner.Connect(context.Background(), "ABC123")
	require.NoError(t, err)
	nextEvent(t, out, time.Second) // open
	acceptOne(t, host)

	require.NoError(t, host.Close())
	require.NoError(t, host.Close())

	waitClosed(t, out, 2*time.Second)

	_, err = reg.Resolve(context.Background(), "ABC123")
	assert.ErrorIs(t, err, errUnknown)

	_, ok := <-host.Incoming()
	assert.False(t, ok)

	_, err = joiner.Connect(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}
