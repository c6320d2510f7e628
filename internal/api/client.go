// Package api is the HTTP transport to the chat backend: JSON request helpers
// with status mapping and the raw streaming request used by the chat core.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/neko-client/internal/notify"
)

const DefaultTimeout = 30 * time.Second

// Tokens supplies the bearer token and forgets it when the backend rejects it.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

type Client struct {
	baseURL  string
	http     *http.Client
	tokens   Tokens
	timeout  time.Duration
	notifier notify.Notifier
	logger   zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Timeout must be zero or
// streams will be cut off; request timeouts are applied per call.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithNotifier(n notify.Notifier) Option { return func(c *Client) { c.notifier = n } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

func New(baseURL string, tokens Tokens, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		tokens:   tokens,
		timeout:  DefaultTimeout,
		notifier: notify.Log(),
		logger:   log.With().Str("component", "api").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

type requestOptions struct {
	keepToken bool
	query     url.Values
}

type RequestOption func(*requestOptions)

// KeepTokenOn401 leaves the stored token alone when the call is rejected.
// Login uses it since a 401 there means bad credentials.
func KeepTokenOn401() RequestOption { return func(o *requestOptions) { o.keepToken = true } }

func WithQuery(q url.Values) RequestOption { return func(o *requestOptions) { o.query = q } }

func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do performs a JSON request bounded by the client timeout. A JSON response
// is decoded into out; a non-JSON one is only accepted when out is *string.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var ro requestOptions
	for _, o := range opts {
		o(&ro)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body, ro.query)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(ctx, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := newHTTPError(resp.StatusCode, data)
		c.onStatus(ctx, herr, ro)
		return herr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if s, ok := out.(*string); ok {
			*s = string(data)
			return nil
		}
		return errors.Errorf("%s %s: unexpected content type %q", method, path, resp.Header.Get("Content-Type"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "%s %s: decode response", method, path)
	}
	return nil
}

func (c *Client) onStatus(ctx context.Context, herr *HTTPError, ro requestOptions) {
	switch herr.Status {
	case http.StatusUnauthorized:
		if ro.keepToken || c.tokens == nil {
			return
		}
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("failed to clear token")
		}
	case http.StatusTooManyRequests:
		c.notifier.Notify(notify.LevelWarning, "Too many requests. Please slow down.")
	case http.StatusInternalServerError:
		c.notifier.Notify(notify.LevelError, "Server error. Please try again later.")
	}
}

func (c *Client) transportError(ctx context.Context, method, path string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Wrapf(ErrTimeout, "%s %s", method, path)
	case errors.Is(err, context.Canceled):
		return err
	}
	return errors.Wrapf(ErrNetwork, "%s %s: %v", method, path, err)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, query url.Values) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		rdr = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read token")
		return ""
	}
	return tok
}
