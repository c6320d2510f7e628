package chat

import (
	"context"
	"io"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/neko-client/internal/api"
	"github.com/suPer8Hu/neko-client/internal/stream"
)

// Streamer opens reply streams. *api.Client implements it.
type Streamer interface {
	StreamMessage(ctx context.Context, chatID string, req api.StreamRequest) (io.ReadCloser, error)
	Regenerate(ctx context.Context, chatID string) (io.ReadCloser, error)
}

// CancelHandle aborts one in-flight stream.
type CancelHandle struct {
	cancel   context.CancelFunc
	canceled atomic.Bool
}

func (h *CancelHandle) Cancel() {
	h.canceled.Store(true)
	h.cancel()
}

func (h *CancelHandle) Canceled() bool { return h.canceled.Load() }

// Options hooks into one stream. OnStart runs before the request is sent.
// Exactly one of OnComplete and OnError runs, unless the stream is canceled,
// in which case neither does.
type Options struct {
	OnStart    func(h *CancelHandle)
	OnChunk    func(chunk, accumulated string)
	OnComplete func(accumulated string)
	OnError    func(err error)

	// WebSearch is forwarded as web_search when set.
	WebSearch *bool
}

type Coordinator struct {
	streamer Streamer
	logger   zerolog.Logger
}

func NewCoordinator(s Streamer) *Coordinator {
	return &Coordinator{
		streamer: s,
		logger:   log.With().Str("component", "stream").Logger(),
	}
}

// StreamMessage sends content to chatID and streams the reply through opts.
// On cancellation it returns the text received so far and a nil error.
func (c *Coordinator) StreamMessage(ctx context.Context, chatID, content string, opts Options) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	req := api.StreamRequest{Content: content, WebSearch: opts.WebSearch}
	return c.run(ctx, chatID, opts, func(ctx context.Context) (io.ReadCloser, error) {
		return c.streamer.StreamMessage(ctx, chatID, req)
	})
}

// Regenerate streams a replacement for the last assistant reply of chatID.
func (c *Coordinator) Regenerate(ctx context.Context, chatID string, opts Options) (string, error) {
	return c.run(ctx, chatID, opts, func(ctx context.Context) (io.ReadCloser, error) {
		return c.streamer.Regenerate(ctx, chatID)
	})
}

func (c *Coordinator) run(ctx context.Context, chatID string, opts Options, open func(context.Context) (io.ReadCloser, error)) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &CancelHandle{cancel: cancel}
	if opts.OnStart != nil {
		opts.OnStart(h)
	}

	body, err := open(runCtx)
	if err != nil {
		return c.fail(runCtx, chatID, "", opts, err)
	}
	defer body.Close()

	acc, err := stream.NewDecoder(body).Consume(func(chunk, accumulated string) {
		if opts.OnChunk != nil {
			opts.OnChunk(chunk, accumulated)
		}
	})
	if err != nil {
		return c.fail(runCtx, chatID, acc, opts, err)
	}

	if opts.OnComplete != nil {
		opts.OnComplete(acc)
	}
	return acc, nil
}

func (c *Coordinator) fail(ctx context.Context, chatID, acc string, opts Options, err error) (string, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		c.logger.Debug().Str("chat_id", chatID).Int("received", len(acc)).Msg("stream canceled")
		return acc, nil
	}
	c.logger.Error().Err(err).Str("chat_id", chatID).Msg("stream failed")
	if opts.OnError != nil {
		opts.OnError(err)
	}
	return "", err
}
