// Package transport provides the point-to-point channel between a host and
// its participants: an Endpoint that can be discovered under a short
// identifier, outbound Connect, and per-connection lifecycle events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrTransportUnavailable = errors.New("transport unavailable")
var ErrConnectionTimeout = errors.New("connection timed out")
var ErrPeerUnavailable = errors.New("peer unavailable")
var ErrConnectionClosed = errors.New("connection closed")
var ErrSendBufferFull = errors.New("send buffer full")

const DefaultConnectTimeout = 10 * time.Second

// PeerPath is where a listening endpoint accepts connections.
const PeerPath = "/peer"

// Registry maps discoverable identifiers to dialable addresses.
type Registry interface {
	// Register claims id for addr and returns the identifier actually
	// assigned. An empty id lets the registry choose.
	Register(ctx context.Context, id, addr string) (string, error)
	Resolve(ctx context.Context, id string) (string, error)
	Unregister(ctx context.Context, id string) error
}

type Endpoint struct {
	id             string
	listenAddr     string
	advertiseAddr  string
	registry       Registry
	registered     bool
	connectTimeout time.Duration
	log            *zap.Logger

	listener net.Listener
	server   *http.Server
	incoming chan *Conn
	group    *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc

	mu    sync.Mutex
	conns map[*Conn]struct{}

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Endpoint)

// WithID requests a specific identifier. Hosts use it for a human-shareable
// code.
func WithID(id string) Option {
	return func(e *Endpoint) { e.id = id }
}

func WithRegistry(r Registry) Option {
	return func(e *Endpoint) { e.registry = r }
}

// WithListenAddr makes the endpoint accept inbound connections on addr.
func WithListenAddr(addr string) Option {
	return func(e *Endpoint) { e.listenAddr = addr }
}

// WithAdvertiseAddr overrides the address published to the registry.
func WithAdvertiseAddr(addr string) Option {
	return func(e *Endpoint) { e.advertiseAddr = addr }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.connectTimeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Endpoint) {
		if log != nil {
			e.log = log
		}
	}
}

// Open establishes a local endpoint. With a listen address the endpoint
// accepts connections and, given a registry, becomes discoverable under its
// identifier. Failures are reported as ErrTransportUnavailable.
func Open(ctx context.Context, opts ...Option) (*Endpoint, error) {
	e := &Endpoint{
		connectTimeout: DefaultConnectTimeout,
		log:            zap.NewNop(),
		incoming:       make(chan *Conn, 16),
		conns:          make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.group = &errgroup.Group{}

	if e.listenAddr == "" {
		if e.id == "" {
			e.id = uuid.NewString()
		}
		e.log = e.log.Named("transport").With(zap.String("endpoint", e.id))
		close(e.incoming)
		return e, nil
	}

	ln, err := net.Listen("tcp", e.listenAddr)
	if err != nil {
		e.cancel()
		return nil, fmt.Errorf("%w: listen %s: %w", ErrTransportUnavailable, e.listenAddr, err)
	}
	e.listener = ln
	if e.advertiseAddr == "" {
		e.advertiseAddr = ln.Addr().String()
	}

	if e.registry != nil {
		id, err := e.registry.Register(ctx, e.id, e.advertiseAddr)
		if err != nil {
			e.cancel()
			return nil, multierr.Append(
				fmt.Errorf("%w: register %q: %w", ErrTransportUnavailable, e.id, err),
				ln.Close())
		}
		e.id = id
		e.registered = true
	} else if e.id == "" {
		e.id = uuid.NewString()
	}
	e.log = e.log.Named("transport").With(zap.String("endpoint", e.id))

	r := chi.NewRouter()
	r.Get(PeerPath, e.accept)
	e.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return e.ctx },
	}
	e.group.Go(func() error {
		if err := e.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	e.log.Info("endpoint open", zap.String("addr", e.advertiseAddr))
	return e, nil
}

func (e *Endpoint) ID() string { return e.id }

// Addr is the address registered for this endpoint, empty when not listening.
func (e *Endpoint) Addr() string { return e.advertiseAddr }

// Incoming yields connections accepted by a listening endpoint. It is closed
// when the endpoint closes.
func (e *Endpoint) Incoming() <-chan *Conn { return e.incoming }

func (e *Endpoint) accept(w http.ResponseWriter, r *http.Request) {
	remoteID := r.URL.Query().Get("id")
	if remoteID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if e.ctx.Err() != nil {
		http.Error(w, "endpoint closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		e.log.Debug("accept failed", zap.String("remote", remoteID), zap.Error(err))
		return
	}

	c := newConn(e.ctx, ws, remoteID, e.log)
	if !e.track(c, true) {
		e.log.Warn("connection refused", zap.String("remote", remoteID))
		_ = c.Close()
		return
	}
	e.log.Info("connection accepted", zap.String("remote", remoteID))
	<-c.Done()
}

// Connect opens a channel to the endpoint registered under remoteID. It
// returns once the channel is open, or ErrConnectionTimeout when that takes
// longer than the connect timeout. The half-open attempt is torn down before
// returning.
func (e *Endpoint) Connect(ctx context.Context, remoteID string) (*Conn, error) {
	if e.ctx.Err() != nil {
		return nil, fmt.Errorf("%w: endpoint closed", ErrTransportUnavailable)
	}
	if e.registry == nil {
		return nil, fmt.Errorf("%w: no registry", ErrPeerUnavailable)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.connectTimeout)
	defer cancel()

	addr, err := e.registry.Resolve(dialCtx, remoteID)
	if err != nil {
		if timedOut(ctx, dialCtx) {
			return nil, fmt.Errorf("%w: resolving %q", ErrConnectionTimeout, remoteID)
		}
		return nil, fmt.Errorf("%w: %q: %w", ErrPeerUnavailable, remoteID, err)
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: PeerPath, RawQuery: url.Values{"id": {e.id}}.Encode()}
	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		if timedOut(ctx, dialCtx) {
			return nil, fmt.Errorf("%w: %q after %s", ErrConnectionTimeout, remoteID, e.connectTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %q: %w", ErrPeerUnavailable, remoteID, err)
	}

	c := newConn(e.ctx, ws, remoteID, e.log)
	if !e.track(c, false) {
		_ = c.Close()
		return nil, fmt.Errorf("%w: endpoint closed", ErrTransportUnavailable)
	}
	e.log.Info("connected", zap.String("remote", remoteID))
	return c, nil
}

func timedOut(parent, dial context.Context) bool {
	return parent.Err() == nil && errors.Is(dial.Err(), context.DeadlineExceeded)
}

// track records c for teardown and, for inbound connections, hands it to
// Incoming. It fails once the endpoint is closing or the accept queue is full.
func (e *Endpoint) track(c *Conn, inbound bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns == nil {
		return false
	}
	if inbound {
		select {
		case e.incoming <- c:
		default:
			return false
		}
	}
	e.conns[c] = struct{}{}
	go func() {
		<-c.Done()
		e.mu.Lock()
		delete(e.conns, c)
		e.mu.Unlock()
	}()
	return true
}

// Close tears down every connection, leaves the registry and stops
// listening. Safe to call more than once, including after a failed Connect.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		conns := e.conns
		e.conns = nil
		if e.listener != nil {
			close(e.incoming)
		}
		e.mu.Unlock()

		var err error
		for c := range conns {
			err = multierr.Append(err, c.Close())
		}

		if e.registered {
			ctx, cancel := context.WithTimeout(context.Background(), e.connectTimeout)
			err = multierr.Append(err, e.registry.Unregister(ctx, e.id))
			cancel()
		}

		if e.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = multierr.Append(err, e.server.Shutdown(ctx))
			cancel()
		}
		e.cancel()
		err = multierr.Append(err, e.group.Wait())
		e.closeErr = err
		e.log.Info("endpoint closed")
	})
	return e.closeErr
}
