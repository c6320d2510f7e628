package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/neko-client/internal/api"
	"github.com/suPer8Hu/neko-client/internal/stream"
)

type callLog struct {
	mu       sync.Mutex
	started  int
	chunks   []string
	accs     []string
	complete []string
	errs     []error
	handle   *CancelHandle
}

func (l *callLog) options() Options {
	return Options{
		OnStart: func(h *CancelHandle) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.started++
			l.handle = h
		},
		OnChunk: func(chunk, acc string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.chunks = append(l.chunks, chunk)
			l.accs = append(l.accs, acc)
		},
		OnComplete: func(acc string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.complete = append(l.complete, acc)
		},
		OnError: func(err error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.errs = append(l.errs, err)
		},
	}
}

type result struct {
	content string
	err     error
}

func TestCoordinatorStreamsChunksInOrder(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(b)
	log := &callLog{}

	done := make(chan result, 1)
	go func() {
		content, err := c.StreamMessage(context.Background(), "c1", "hello", log.options())
		done <- result{content, err}
	}()

	b.send(t, "c1", "Hel")
	b.send(t, "c1", "lo")
	b.finish("c1")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "Hello", res.content)

	assert.Equal(t, 1, log.started)
	assert.Equal(t, []string{"Hel", "lo"}, log.chunks)
	assert.Equal(t, []string{"Hel", "Hello"}, log.accs)
	assert.Equal(t, []string{"Hello"}, log.complete)
	assert.Empty(t, log.errs)
	assert.Equal(t, []api.StreamRequest{{Content: "hello"}}, b.requests)
}

func TestCoordinatorForwardsWebSearch(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(b)
	ws := false

	done := make(chan error, 1)
	go func() {
		_, err := c.StreamMessage(context.Background(), "c1", "hi", Options{WebSearch: &ws})
		done <- err
	}()
	b.finish("c1")
	require.NoError(t, <-done)

	require.Len(t, b.requests, 1)
	require.NotNil(t, b.requests[0].WebSearch)
	assert.False(t, *b.requests[0].WebSearch)
}

func TestCoordinatorInBandError(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(b)
	log := &callLog{}

	done := make(chan result, 1)
	go func() {
		content, err := c.StreamMessage(context.Background(), "c1", "hello", log.options())
		done <- result{content, err}
	}()

	b.send(t, "c1", "partial")
	b.send(t, "c1", "ERROR: rate limited")

	res := <-done
	var serr *stream.Error
	require.True(t, errors.As(res.err, &serr))
	assert.Equal(t, "rate limited", serr.Message)

	assert.Empty(t, log.complete)
	require.Len(t, log.errs, 1)
	assert.Same(t, res.err, log.errs[0])
}

func TestCoordinatorOpenError(t *testing.T) {
	b := newFakeBackend()
	b.openErr = &api.HTTPError{Status: 400, Message: "bad request"}
	c := NewCoordinator(b)
	log := &callLog{}

	_, err := c.StreamMessage(context.Background(), "c1", "hello", log.options())
	require.Error(t, err)
	assert.Equal(t, "bad request", err.Error())
	assert.Equal(t, 1, log.started)
	assert.Len(t, log.errs, 1)
	assert.Empty(t, log.complete)
}

func TestCoordinatorCancelReturnsPartial(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(b)
	log := &callLog{}

	done := make(chan result, 1)
	go func() {
		content, err := c.StreamMessage(context.Background(), "c1", "hello", log.options())
		done <- result{content, err}
	}()

	b.send(t, "c1", "part")
	eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.chunks) == 1
	}, "first chunk delivered")

	log.mu.Lock()
	h := log.handle
	log.mu.Unlock()
	h.Cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "part", res.content)
	assert.True(t, h.Canceled())
	assert.Empty(t, log.complete)
	assert.Empty(t, log.errs)
}

func TestCoordinatorParentContextCanceled(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(b)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan result, 1)
	go func() {
		content, err := c.StreamMessage(ctx, "c1", "hello", Options{})
		done <- result{content, err}
	}()
	b.send(t, "c1", "abc")
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "abc", res.content)
}

func TestCoordinatorRejectsEmptyContent(t *testing.T) {
	c := NewCoordinator(newFakeBackend())
	log := &callLog{}
	_, err := c.StreamMessage(context.Background(), "c1", "  \n ", log.options())
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Zero(t, log.started)
}

func TestCoordinatorRegenerate(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(b)

	done := make(chan result, 1)
	go func() {
		content, err := c.Regenerate(context.Background(), "c1", Options{})
		done <- result{content, err}
	}()
	b.send(t, "c1", "again")
	b.finish("c1")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "again", res.content)
	assert.Empty(t, b.requests)
}
