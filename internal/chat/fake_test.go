package chat

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/neko-client/internal/api"
	"github.com/suPer8Hu/neko-client/internal/models"
	"github.com/suPer8Hu/neko-client/internal/notify"
)

type pipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// fakeBackend serves reply streams from pipes the test writes into, so every
// chunk boundary is under the test's control.
type fakeBackend struct {
	mu         sync.Mutex
	streams    map[string]*pipeStream
	history    map[string][]models.Message
	historyErr map[string]error
	openErr    error
	requests   []api.StreamRequest
	chats      []models.Chat
	branches   []models.Chat
	titles     map[string]string
	nextChat   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		streams:    make(map[string]*pipeStream),
		history:    make(map[string][]models.Message),
		historyErr: make(map[string]error),
		titles:     make(map[string]string),
	}
}

func (f *fakeBackend) pipe(chatID string) *pipeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.streams[chatID]
	if !ok {
		r, w := io.Pipe()
		p = &pipeStream{r: r, w: w}
		f.streams[chatID] = p
	}
	return p
}

func (f *fakeBackend) open(ctx context.Context, chatID string) (io.ReadCloser, error) {
	f.mu.Lock()
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p := f.pipe(chatID)
	context.AfterFunc(ctx, func() { p.r.CloseWithError(context.Canceled) })
	return p.r, nil
}

func (f *fakeBackend) StreamMessage(ctx context.Context, chatID string, req api.StreamRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.open(ctx, chatID)
}

func (f *fakeBackend) Regenerate(ctx context.Context, chatID string) (io.ReadCloser, error) {
	return f.open(ctx, chatID)
}

func (f *fakeBackend) ListChats(context.Context) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Chat(nil), f.chats...), nil
}

func (f *fakeBackend) CreateChat(_ context.Context, req api.CreateChatRequest) (models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextChat++
	c := models.Chat{ID: "created-" + string(rune('0'+f.nextChat)), Title: req.Title, Provider: req.Provider, Model: req.Model}
	f.chats = append([]models.Chat{c}, f.chats...)
	return c, nil
}

func (f *fakeBackend) UpdateChat(_ context.Context, chatID string, req api.UpdateChatRequest) (models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Title != nil {
		f.titles[chatID] = *req.Title
	}
	return models.Chat{ID: chatID, Title: f.titles[chatID]}, nil
}

func (f *fakeBackend) Messages(_ context.Context, chatID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.historyErr[chatID]; err != nil {
		return nil, err
	}
	return append([]models.Message(nil), f.history[chatID]...), nil
}

func (f *fakeBackend) CreateParallel(_ context.Context, _ string, _ string, refs []models.ModelRef) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Chat(nil), f.branches...), nil
}

func (f *fakeBackend) setHistory(chatID string, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[chatID] = msgs
}

// send blocks until the reader has taken the chunk.
func (f *fakeBackend) send(t *testing.T, chatID, chunk string) {
	t.Helper()
	_, err := f.pipe(chatID).w.Write([]byte(chunk))
	require.NoError(t, err)
}

func (f *fakeBackend) finish(chatID string) { _ = f.pipe(chatID).w.Close() }

// reset discards the pipe of chatID so the next stream gets a fresh one.
func (f *fakeBackend) reset(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, chatID)
}

type notes struct {
	mu   sync.Mutex
	list []string
}

func (n *notes) Notify(level notify.Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, string(level)+":"+msg)
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.list...)
}

func durable(chatID, id string, role models.Role, content string) models.Message {
	return models.Message{ID: id, ChatID: chatID, Role: role, Content: content, CreatedAt: time.Now()}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
