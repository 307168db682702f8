// Package discovery talks to the discovery server that maps session codes to
// host addresses.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/mafia-session/internal/httpapi"
	"github.com/DoyleJ11/mafia-session/internal/transport"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("code not registered")
var ErrCodeTaken = errors.New("code already registered")
var ErrRejected = errors.New("request rejected")

var _ transport.Registry = (*Client)(nil)

type Client struct {
	base       *url.URL
	http       *http.Client
	log        *zap.Logger
	maxRetries uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMaxRetries bounds retries of transient failures. Zero disables them.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("discovery url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("discovery url: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: 5 * time.Second},
		log:        zap.NewNop(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("discovery")
	return c, nil
}

func (c *Client) Register(ctx context.Context, id, addr string) (string, error) {
	body, err := json.Marshal(httpapi.EndpointBody{ID: id, Addr: addr})
	if err != nil {
		return "", err
	}

	var ep httpapi.EndpointBody
	err = c.do(ctx, http.MethodPost, "/endpoints", body, http.StatusCreated, &ep)
	if err != nil {
		return "", err
	}
	c.log.Debug("registered", zap.String("code", ep.ID), zap.String("addr", ep.Addr))
	return ep.ID, nil
}

func (c *Client) Resolve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	var ep httpapi.EndpointBody
	if err := c.do(ctx, http.MethodGet, "/endpoints/"+url.PathEscape(id), nil, http.StatusOK, &ep); err != nil {
		return "", err
	}
	return ep.Addr, nil
}

func (c *Client) Unregister(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/endpoints/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

// Healthy reports whether the discovery server answers.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.Debug("request failed", zap.String("path", path), zap.Error(err))
			return err
		}
		defer res.Body.Close()

		if res.StatusCode == want {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(res.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
			}
			return nil
		}

		msg := errorMessage(res.Body)
		switch {
		case res.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, msg))
		case res.StatusCode == http.StatusConflict:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrCodeTaken, msg))
		case res.StatusCode >= 500:
			return fmt.Errorf("discovery %s %s: %d %s", method, path, res.StatusCode, msg)
		default:
			return backoff.Permanent(fmt.Errorf("%w: %d %s", ErrRejected, res.StatusCode, msg))
		}
	}
	return backoff.Retry(op, b)
}

func errorMessage(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 1<<12)).Decode(&e); err != nil || e.Error == "" {
		return "no detail"
	}
	return e.Error
}
