package hub

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrCodeTaken = errors.New("code already registered")
var ErrNotFound = errors.New("code not registered")
var ErrInvalidCode = errors.New("invalid code")
var ErrInvalidAddr = errors.New("address must be host:port")
var ErrHubClosed = errors.New("hub closed")

// maxGenerateAttempts bounds the regenerate-on-collision loop.
const maxGenerateAttempts = 16

// Endpoint is a host's registration: the code participants type and the
// address their dialers connect to.
type Endpoint struct {
	Code       string
	Addr       string
	Registered time.Time
}

type HubMsg interface{ isHubMsg() }

type Result struct {
	Endpoint Endpoint
	Err      error
}

// Register claims Code for Addr. An empty Code asks the hub to pick one.
type Register struct {
	Code  string
	Addr  string
	Reply chan Result
}

type Resolve struct {
	Code  string
	Reply chan Result
}

type Unregister struct {
	Code  string
	Reply chan error
}

type ListEndpoints struct {
	Reply chan []Endpoint
}

type ShutdownHub struct{}

func (Register) isHubMsg()      {}
func (Resolve) isHubMsg()       {}
func (Unregister) isHubMsg()    {}
func (ListEndpoints) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox     chan HubMsg
	endpoints map[string]Endpoint
	generate  func() (string, error)
	log       *zap.Logger
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

type Option func(*Hub)

func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithGenerator replaces the code generator used for empty-code registrations.
func WithGenerator(fn func() (string, error)) Option {
	return func(h *Hub) { h.generate = fn }
}

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		endpoints: make(map[string]Endpoint),
		generate:  GenerateCode,
		log:       zap.NewNop(),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("hub")
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			clear(h.endpoints)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				ep, err := h.register(msg.Code, msg.Addr)
				msg.Reply <- Result{Endpoint: ep, Err: err}

			case Resolve:
				code := NormalizeCode(msg.Code)
				ep, ok := h.endpoints[code]
				if !ok {
					msg.Reply <- Result{Err: ErrNotFound}
					break
				}
				msg.Reply <- Result{Endpoint: ep}

			case Unregister:
				code := NormalizeCode(msg.Code)
				if _, ok := h.endpoints[code]; !ok {
					msg.Reply <- ErrNotFound
					break
				}
				delete(h.endpoints, code)
				h.log.Info("endpoint unregistered", zap.String("code", code))
				msg.Reply <- nil

			case ListEndpoints:
				list := make([]Endpoint, 0, len(h.endpoints))
				for _, ep := range h.endpoints {
					list = append(list, ep)
				}
				slices.SortFunc(list, func(a, b Endpoint) int { return strings.Compare(a.Code, b.Code) })
				msg.Reply <- list

			case ShutdownHub:
				clear(h.endpoints)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) register(code, addr string) (Endpoint, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Endpoint{}, ErrInvalidAddr
	}

	if code == "" {
		var err error
		for i := 0; ; i++ {
			if i == maxGenerateAttempts {
				return Endpoint{}, ErrCodeTaken
			}
			if code, err = h.generate(); err != nil {
				return Endpoint{}, err
			}
			if _, taken := h.endpoints[code]; !taken {
				break
			}
			h.log.Debug("collision on code, regenerating", zap.String("code", code))
		}
	}

	code = NormalizeCode(code)
	if !ValidCode(code) {
		return Endpoint{}, ErrInvalidCode
	}
	if _, taken := h.endpoints[code]; taken {
		return Endpoint{}, ErrCodeTaken
	}

	ep := Endpoint{Code: code, Addr: addr, Registered: time.Now()}
	h.endpoints[code] = ep
	h.log.Info("endpoint registered", zap.String("code", code), zap.String("addr", addr))
	return ep, nil
}

func (h *Hub) Register(ctx context.Context, code, addr string) (Endpoint, error) {
	reply := make(chan Result, 1)
	if err := h.send(ctx, Register{Code: code, Addr: addr, Reply: reply}); err != nil {
		return Endpoint{}, err
	}
	return h.result(ctx, reply)
}

func (h *Hub) Resolve(ctx context.Context, code string) (Endpoint, error) {
	reply := make(chan Result, 1)
	if err := h.send(ctx, Resolve{Code: code, Reply: reply}); err != nil {
		return Endpoint{}, err
	}
	return h.result(ctx, reply)
}

func (h *Hub) Unregister(ctx context.Context, code string) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, Unregister{Code: code, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

// Endpoints lists current registrations ordered by code.
func (h *Hub) Endpoints(ctx context.Context) ([]Endpoint, error) {
	reply := make(chan []Endpoint, 1)
	if err := h.send(ctx, ListEndpoints{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case list := <-reply:
		return list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Close drops every registration and stops the hub.
func (h *Hub) Close() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) result(ctx context.Context, reply chan Result) (Endpoint, error) {
	select {
	case res := <-reply:
		return res.Endpoint, res.Err
	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	case <-h.done:
		return Endpoint{}, ErrHubClosed
	}
}
