// Package ws is the realtime side channel to the backend: a JSON envelope
// protocol over one websocket with token auth, heartbeat and bounded
// reconnect.
package ws

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPongTimeout       = 5 * time.Second
	DefaultMaxReconnects     = 5
	DefaultReconnectDelay    = time.Second
)

type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	// MaxReconnects bounds consecutive reconnect attempts; zero means the
	// default and a negative value disables reconnecting. The delay before
	// attempt n is ReconnectDelay * 2^(n-1).
	MaxReconnects  int
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Handler receives the data of one envelope.
type Handler func(data json.RawMessage)

type handlerEntry struct{ fn Handler }

var (
	ErrNotConnected = errors.New("websocket not connected")
	errServer       = errors.New("unknown server error")
)

type Client struct {
	cfg    Config
	tokens TokenSource
	logger zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	manual     bool
	lastErr    error
	pongTimer  *time.Timer
	stopBeat   chan struct{}
	handlers   map[MessageType][]*handlerEntry
	ctx        context.Context
	cancel     context.CancelFunc

	writeMu sync.Mutex
}

func New(cfg Config, tokens TokenSource) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:      cfg,
		tokens:   tokens,
		logger:   log.With().Str("component", "ws").Logger(),
		handlers: make(map[MessageType][]*handlerEntry),
	}
}

// Connect dials the server and starts the read and heartbeat loops. Calling
// it while connected is a no-op. A later unexpected close triggers
// reconnects until ctx is done or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("already connected")
		return nil
	}
	c.manual = false
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	return c.dial(runCtx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	c.connecting = true
	c.mu.Unlock()

	u, err := c.url(ctx)
	if err == nil {
		var conn *websocket.Conn
		conn, _, err = c.cfg.Dialer.DialContext(ctx, u, nil)
		if err == nil {
			c.opened(ctx, conn)
			return nil
		}
	}

	c.mu.Lock()
	c.connecting = false
	c.lastErr = err
	c.mu.Unlock()
	return errors.Wrap(err, "websocket dial")
}

func (c *Client) url(ctx context.Context) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", errors.Wrap(err, "parse websocket url")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return "", err
		}
		if tok != "" {
			q := u.Query()
			q.Set("token", tok)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

func (c *Client) opened(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connecting = false
	c.lastErr = nil
	c.stopBeat = stop
	c.mu.Unlock()

	c.logger.Info().Str("url", c.cfg.URL).Msg("websocket connected")
	c.authenticate(ctx)

	go c.heartbeat(conn, stop)
	go c.readLoop(ctx, conn)
}

func (c *Client) authenticate(ctx context.Context) {
	if c.tokens == nil {
		return
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil || tok == "" {
		return
	}
	env, _ := NewEnvelope(TypeAuth, authData{Token: tok})
	c.Send(env)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(ctx, conn, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("malformed websocket message")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypePing:
		pong, _ := NewEnvelope(TypePong, nil)
		c.Send(pong)
	case TypePong:
		c.mu.Lock()
		if c.pongTimer != nil {
			c.pongTimer.Stop()
			c.pongTimer = nil
		}
		c.mu.Unlock()
	case TypeAuthSuccess:
		c.logger.Debug().Msg("websocket authenticated")
	case TypeAuthError:
		c.logger.Warn().RawJSON("data", nonEmpty(env.Data)).Msg("websocket auth rejected")
		c.Disconnect()
	case TypeError:
		var d errorData
		_ = json.Unmarshal(env.Data, &d)
		err := errServer
		if d.Message != "" {
			err = errors.New(d.Message)
		}
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
	}

	c.mu.Lock()
	entries := append([]*handlerEntry(nil), c.handlers[env.Type]...)
	c.mu.Unlock()
	for _, e := range entries {
		c.call(env.Type, e.fn, env.Data)
	}
}

func (c *Client) call(t MessageType, fn Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("type", string(t)).Msg("websocket handler panicked")
		}
	}()
	fn(data)
}

// closed runs when the read loop of conn ends. Unexpected closes reconnect.
func (c *Client) closed(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	manual := c.manual
	c.mu.Unlock()

	clean := websocket.IsCloseError(err, websocket.CloseNormalClosure)
	if manual || clean || ctx.Err() != nil {
		c.logger.Info().Msg("websocket closed")
		return
	}
	c.logger.Warn().Err(err).Msg("websocket dropped")
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	go c.reconnect(ctx)
}

// reconnect retries with exponential backoff until a dial succeeds, the
// attempts run out, or the client is shut down.
func (c *Client) reconnect(ctx context.Context) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.ReconnectDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.cfg.ReconnectDelay << 10
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithMaxRetries(exp, uint64(max(c.cfg.MaxReconnects, 0)))

	for attempt := 1; ; attempt++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			c.logger.Error().Int("attempts", attempt-1).Msg("websocket reconnect gave up")
			return
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		c.mu.Lock()
		stop := c.manual || c.conn != nil
		c.mu.Unlock()
		if stop {
			return
		}

		c.logger.Info().Int("attempt", attempt).Dur("delay", d).Msg("websocket reconnecting")
		if err := c.dial(ctx); err == nil {
			return
		}
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ping, _ := NewEnvelope(TypePing, nil)
			if !c.Send(ping) {
				continue
			}
			c.mu.Lock()
			if c.pongTimer != nil {
				c.pongTimer.Stop()
			}
			c.pongTimer = time.AfterFunc(c.cfg.PongTimeout, func() { c.pongMissed(conn) })
			c.mu.Unlock()
		}
	}
}

// pongMissed drops conn and dials again right away.
func (c *Client) pongMissed(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	ctx := c.ctx
	c.mu.Unlock()

	c.logger.Warn().Msg("heartbeat timeout, reconnecting")
	_ = conn.Close()
	if err := c.dial(ctx); err != nil {
		go c.reconnect(ctx)
	}
}

// teardownLocked forgets the current connection and stops its timers.
func (c *Client) teardownLocked() {
	c.conn = nil
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// Disconnect closes the connection without reconnecting.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	conn := c.conn
	c.teardownLocked()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
}

// Send writes env. It returns false when not connected or the write fails.
func (c *Client) Send(env Envelope) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Debug().Str("type", string(env.Type)).Msg("send while disconnected")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		c.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("websocket write failed")
		return false
	}
	return true
}

func (c *Client) SendChatMessage(chatID, content string) bool {
	env, err := NewEnvelope(TypeChatMessage, chatMessageData{ChatID: chatID, Content: content})
	return err == nil && c.Send(env)
}

func (c *Client) SendTypingStart(chatID string) bool {
	env, _ := NewEnvelope(TypeTypingStart, typingData{ChatID: chatID})
	return c.Send(env)
}

func (c *Client) SendTypingStop(chatID string) bool {
	env, _ := NewEnvelope(TypeTypingStop, typingData{ChatID: chatID})
	return c.Send(env)
}

// On registers fn for messages of type t and returns a function removing it.
func (c *Client) On(t MessageType, fn Handler) func() {
	e := &handlerEntry{fn: fn}
	c.mu.Lock()
	c.handlers[t] = append(c.handlers[t], e)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		hs := c.handlers[t]
		for i, h := range hs {
			if h == e {
				c.handlers[t] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// RemoveAll drops the handlers of t, or every handler when t is empty.
func (c *Client) RemoveAll(t MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == "" {
		c.handlers = make(map[MessageType][]*handlerEntry)
		return
	}
	delete(c.handlers, t)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Connecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func nonEmpty(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
