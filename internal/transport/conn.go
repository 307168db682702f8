package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

type EventType int

const (
	EventOpen EventType = iota
	EventData
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is one step of a connection's lifecycle. Data is set for EventData,
// Err for EventError.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

const (
	sendQueueSize  = 32
	eventQueueSize = 64
	writeTimeout   = 3 * time.Second
	readLimit      = 1 << 16
)

// Conn is one end of a logical channel to a remote endpoint. Frames sent on
// a Conn arrive in order.
type Conn struct {
	ws       *websocket.Conn
	remoteID string
	log      *zap.Logger

	events chan Event
	out    chan []byte

	closing    chan struct{}
	writerDone chan struct{}
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newConn(parent context.Context, ws *websocket.Conn, remoteID string, log *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(parent)
	ws.SetReadLimit(readLimit)

	c := &Conn{
		ws:         ws,
		remoteID:   remoteID,
		log:        log.With(zap.String("remote", remoteID)),
		events:     make(chan Event, eventQueueSize),
		out:        make(chan []byte, sendQueueSize),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.events <- Event{Type: EventOpen}

	go c.writer()
	go c.reader()
	return c
}

func (c *Conn) RemoteID() string { return c.remoteID }

// Events yields open first, then data frames, and ends with close. The
// channel is closed after the close event.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues data for delivery without waiting for it. Delivery is not
// acknowledged.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closing:
		return ErrConnectionClosed
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.out <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close flushes queued frames, then closes the connection. Safe to call more
// than once and from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		<-c.writerDone
		select {
		case <-c.done:
			// remote already went away
			c.ws.CloseNow()
		default:
			err := c.ws.Close(websocket.StatusNormalClosure, "bye")
			if err != nil && !isClosedErr(err) {
				c.closeErr = err
			}
		}
		c.cancel()
	})
	return c.closeErr
}

func (c *Conn) writer() {
	defer close(c.writerDone)
	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.ws.CloseNow()
				return
			}
		case <-c.closing:
			c.flush()
			return
		case <-c.done:
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(frame []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

func (c *Conn) reader() {
	defer func() {
		c.emit(Event{Type: EventClose})
		close(c.events)
		close(c.done)
		c.cancel()
	}()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			// Treat clean close/going-away as normal
			if !isClosedErr(err) && c.ctx.Err() == nil {
				c.log.Debug("read failed", zap.Error(err))
				c.emit(Event{Type: EventError, Err: errors.Join(ErrConnectionClosed, err)})
			}
			return
		}
		if !c.emit(Event{Type: EventData, Data: data}) {
			return
		}
	}
}

func (c *Conn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		// nobody is listening any more; still try to leave the close marker
		if ev.Type == EventClose {
			select {
			case c.events <- ev:
			default:
			}
		}
		return false
	}
}

func isClosedErr(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}
