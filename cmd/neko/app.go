package main

import (
	"context"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/neko-client/internal/api"
	"github.com/suPer8Hu/neko-client/internal/auth"
	"github.com/suPer8Hu/neko-client/internal/chat"
	"github.com/suPer8Hu/neko-client/internal/config"
	"github.com/suPer8Hu/neko-client/internal/notify"
	"github.com/suPer8Hu/neko-client/internal/settings"
	"github.com/suPer8Hu/neko-client/internal/store"
	"github.com/suPer8Hu/neko-client/internal/store/rabbitmq"
	"github.com/suPer8Hu/neko-client/internal/store/redisstore"
	"github.com/suPer8Hu/neko-client/internal/store/sqlstore"
	"github.com/suPer8Hu/neko-client/internal/ws"
)

const memoryDSN = "memory"

// app is everything one CLI invocation needs, wired from the config.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	out      io.Writer
	tokens   *auth.TokenStore
	settings *settings.Store
	client   *api.Client
	registry *chat.Registry
	service  *chat.Service

	closers []io.Closer
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, out io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logger, out: out}

	kv, err := a.openKV(ctx)
	if err != nil {
		return nil, err
	}
	a.tokens = auth.NewTokenStore(kv, cfg.TokenKey)
	a.settings = settings.NewStore(kv, cfg.SettingsKey)

	notifier := notify.Func(func(level notify.Level, msg string) {
		switch level {
		case notify.LevelError:
			logger.Error().Msg(msg)
		case notify.LevelWarning:
			logger.Warn().Msg(msg)
		default:
			logger.Info().Msg(msg)
		}
	})

	a.client = api.New(cfg.APIURL, a.tokens,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithNotifier(notifier),
		api.WithLogger(logger),
	)

	regOpts := []chat.RegistryOption{chat.WithRegistryLogger(logger)}
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			_ = a.Close()
			return nil, errors.Wrap(err, "connect rabbitmq")
		}
		a.closers = append(a.closers, pub)
		regOpts = append(regOpts, chat.WithEventSink(pub))
	}
	a.registry = chat.NewRegistry(cfg.StreamGrace, regOpts...)
	a.service = chat.NewService(a.client, a.registry, chat.NewView(),
		chat.WithNotifier(notifier),
		chat.WithLogger(logger),
	)
	return a, nil
}

// openKV picks redis when REDIS_ADDR is set, a throwaway in-process map for
// the "memory" DSN, and the sql store otherwise.
func (a *app) openKV(ctx context.Context) (store.KV, error) {
	if a.cfg.StoreDSN == memoryDSN {
		return store.NewMemory(), nil
	}
	if a.cfg.RedisAddr != "" {
		rs, err := redisstore.Dial(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB, a.cfg.RedisPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		a.closers = append(a.closers, rs)
		return rs, nil
	}
	db, err := sqlstore.Open(a.cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	ss, err := sqlstore.New(db)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, ss)
	return ss, nil
}

func (a *app) websocket() *ws.Client {
	c := ws.New(ws.Config{
		URL:               a.cfg.WebSocketURL(),
		HeartbeatInterval: a.cfg.WSHeartbeat,
		PongTimeout:       a.cfg.WSPongTimeout,
		MaxReconnects:     a.cfg.WSMaxReconnects,
		ReconnectDelay:    a.cfg.WSReconnectDelay,
	}, a.tokens)
	a.closers = append(a.closers, closerFunc(func() error {
		c.Disconnect()
		return nil
	}))
	return c
}

// Close waits for background streams, then releases every resource in
// reverse order of acquisition.
func (a *app) Close() error {
	if a.service != nil {
		a.service.Wait()
	}
	if a.registry != nil {
		a.registry.Close()
	}
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
