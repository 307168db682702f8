package replica

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/mafia-session/internal/protocol"
	"github.com/DoyleJ11/mafia-session/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Client is a participant's session: one connection to the host and the
// replica it keeps in sync.
type Client struct {
	id      string
	name    string
	conn    *transport.Conn
	replica *Replica
	log     *zap.Logger
}

// Join connects ep to the host registered under code and announces name.
// Connect failures keep their transport error (ErrConnectionTimeout,
// ErrPeerUnavailable) so callers can offer a retry.
func Join(ctx context.Context, ep *transport.Endpoint, code, name string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	join := protocol.Join{ID: ep.ID(), Name: name}
	frame, err := protocol.Encode(join)
	if err != nil {
		return nil, err
	}

	conn, err := ep.Connect(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(frame); err != nil {
		return nil, multierr.Append(err, conn.Close())
	}

	c := &Client{
		id:      ep.ID(),
		name:    name,
		conn:    conn,
		replica: New(ep.ID(), log),
		log:     log.Named("client").With(zap.String("code", code), zap.String("participant", ep.ID())),
	}
	c.log.Info("joined")
	return c, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) Replica() *Replica { return c.replica }

// Run applies host messages until the session ends. It returns
// ErrSessionTerminated when the host leaves or the connection drops, and
// ctx.Err() when ctx is cancelled first.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-c.conn.Events():
			if !ok {
				return c.terminate(transport.ErrConnectionClosed)
			}
			switch ev.Type {
			case transport.EventData:
				if err := c.handle(ev.Data); errors.Is(err, ErrSessionTerminated) {
					_ = c.conn.Close()
					return ErrSessionTerminated
				}
			case transport.EventError:
				c.log.Warn("connection error", zap.Error(ev.Err))
			case transport.EventClose:
				return c.terminate(transport.ErrConnectionClosed)
			}
		}
	}
}

func (c *Client) handle(data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("dropping invalid message", zap.Error(err))
		return nil
	}
	if err := c.replica.Apply(msg); err != nil {
		if !errors.Is(err, ErrSessionTerminated) {
			c.log.Warn("dropping message",
				zap.String("type", string(msg.MessageType())),
				zap.Error(err))
		}
		return err
	}
	return nil
}

func (c *Client) terminate(cause error) error {
	c.replica.Invalidate()
	c.log.Info("host connection lost")
	return fmt.Errorf("%w: %w", ErrSessionTerminated, cause)
}

// Leave announces the departure, closes the connection after the
// announcement is flushed and clears the local view.
func (c *Client) Leave() error {
	var err error
	frame, encErr := protocol.Encode(protocol.Leave{ID: c.id})
	err = multierr.Append(err, encErr)
	if encErr == nil {
		if sendErr := c.conn.Send(frame); !errors.Is(sendErr, transport.ErrConnectionClosed) {
			err = multierr.Append(err, sendErr)
		}
	}
	err = multierr.Append(err, c.conn.Close())
	c.replica.Invalidate()
	return err
}
