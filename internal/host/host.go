// Package host bridges the transport and the lobby on the host's process:
// it turns inbound frames into lobby messages and lobby snapshots into
// outbound frames.
package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/mafia-session/internal/lobby"
	"github.com/DoyleJ11/mafia-session/internal/protocol"
	"github.com/DoyleJ11/mafia-session/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrHostOnly = errors.New("message type is sent by the host only")
var ErrIdentityMismatch = errors.New("join id does not match connection")

const outboxSize = 16

// DefaultJoinTimeout bounds how long a connection may stay open without a join.
const DefaultJoinTimeout = 10 * time.Second

type Host struct {
	endpoint    *transport.Endpoint
	lobby       *lobby.Lobby
	log         *zap.Logger
	writers     sync.WaitGroup
	joinTimeout time.Duration
}

type Option func(*Host)

// WithJoinTimeout sets how long a new connection has to send its join.
func WithJoinTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.joinTimeout = d
		}
	}
}

func New(ep *transport.Endpoint, lb *lobby.Lobby, log *zap.Logger, opts ...Option) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Host{
		endpoint:    ep,
		lobby:       lb,
		log:         log.Named("host").With(zap.String("code", ep.ID())),
		joinTimeout: DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Code() string { return h.endpoint.ID() }

func (h *Host) Lobby() *lobby.Lobby { return h.lobby }

// Serve handles inbound connections until ctx is done, the endpoint closes
// or the lobby stops. It waits for every connection handler to return.
func (h *Host) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for {
		select {
		case conn, ok := <-h.endpoint.Incoming():
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				h.handle(gctx, conn)
				return nil
			})
		case <-h.lobby.Done():
			return g.Wait()
		case <-ctx.Done():
			err := g.Wait()
			return multierr.Append(ctx.Err(), err)
		}
	}
}

func (h *Host) handle(ctx context.Context, conn *transport.Conn) {
	remote := conn.RemoteID()
	log := h.log.With(zap.String("participant", remote))
	joined := false

	defer func() {
		if joined {
			h.lobby.Post(lobby.Leave{ClientID: remote})
		}
		_ = conn.Close()
	}()

	deadline := time.NewTimer(h.joinTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			if !joined {
				log.Warn("closing connection without join", zap.Duration("after", h.joinTimeout))
				return
			}
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case transport.EventOpen:
				log.Debug("connection open")
			case transport.EventError:
				log.Warn("connection error", zap.Error(ev.Err))
			case transport.EventClose:
				log.Info("connection closed")
				return
			case transport.EventData:
				msg, err := protocol.Decode(ev.Data)
				if err != nil {
					log.Warn("dropping invalid message", zap.Error(err))
					continue
				}
				if stop := h.route(ctx, conn, msg, &joined, log); stop {
					return
				}
			}
		}
	}
}

// route applies one validated message from a participant. It reports whether
// the connection is finished. joined is set only once the lobby admits the
// participant.
func (h *Host) route(ctx context.Context, conn *transport.Conn, msg protocol.Message, joined *bool, log *zap.Logger) bool {
	remote := conn.RemoteID()

	switch m := msg.(type) {
	case protocol.Join:
		if m.ID != remote {
			log.Warn("dropping join", zap.String("claimed", m.ID), zap.Error(ErrIdentityMismatch))
			return false
		}
		if *joined {
			log.Debug("duplicate join ignored")
			return false
		}
		outbox := make(chan protocol.Message, outboxSize)
		reply := make(chan error, 1)
		if !h.lobby.Post(lobby.Join{ClientID: remote, Name: m.Name, Outbox: outbox, Reply: reply}) {
			return true
		}
		select {
		case err := <-reply:
			if err != nil {
				log.Warn("join rejected", zap.Error(err))
				return true
			}
		case <-ctx.Done():
			return true
		case <-h.lobby.Done():
			return true
		}
		*joined = true
		h.writers.Add(1)
		go h.write(conn, outbox, log)
		return false

	case protocol.Leave:
		if m.ID != remote {
			log.Warn("dropping leave", zap.String("claimed", m.ID), zap.Error(ErrIdentityMismatch))
			return false
		}
		log.Info("participant leaving")
		return true

	default:
		log.Warn("dropping message",
			zap.String("type", string(msg.MessageType())),
			zap.Error(ErrHostOnly))
		return false
	}
}

// write forwards the lobby's messages for one participant until the lobby
// closes the outbox or stops, then closes the connection.
func (h *Host) write(conn *transport.Conn, outbox <-chan protocol.Message, log *zap.Logger) {
	defer h.writers.Done()
	defer func() { _ = conn.Close() }()

	for {
		select {
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			h.send(conn, msg, log)
		case <-h.lobby.Done():
			// deliver what is still queued, hostLeft included
			for {
				select {
				case msg, ok := <-outbox:
					if !ok {
						return
					}
					h.send(conn, msg, log)
				default:
					return
				}
			}
		}
	}
}

func (h *Host) send(conn *transport.Conn, msg protocol.Message, log *zap.Logger) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error("encode failed", zap.Error(err))
		return
	}
	switch err := conn.Send(frame); {
	case err == nil:
	case errors.Is(err, transport.ErrSendBufferFull):
		// slow consumer; closing feeds back into a leave
		log.Warn("dropping slow participant")
		_ = conn.Close()
	default:
		log.Debug("send failed", zap.Error(err))
	}
}

// Leave ends the session: every participant gets hostLeft, connections
// close once it is flushed, and the endpoint leaves discovery.
func (h *Host) Leave() error {
	h.lobby.Close()
	h.writers.Wait()
	err := h.endpoint.Close()
	h.log.Info("host left")
	return err
}
