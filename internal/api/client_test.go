package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/neko-client/internal/models"
	"github.com/suPer8Hu/neko-client/internal/notify"
)

type memTokens struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (m *memTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.cleared++
	return nil
}

type recorder struct {
	mu    sync.Mutex
	notes []string
}

func (r *recorder) Notify(level notify.Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, string(level)+":"+msg)
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *memTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tokens := &memTokens{token: "tok"}
	return New(srv.URL, tokens, opts...), tokens
}

func TestDoSendsBearerAndDecodesJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/chats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]models.Chat{{ID: "c1", Title: "hello"}})
	})

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)
}

func TestDoAcceptsTextIntoString(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "pong")
	})

	var out string
	require.NoError(t, c.Get(context.Background(), "/ping", &out))
	assert.Equal(t, "pong", out)

	var obj map[string]any
	require.Error(t, c.Get(context.Background(), "/ping", &obj))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
		msg    string
	}{
		{http.StatusUnauthorized, `{"message":"token expired"}`, ErrUnauthorized, "token expired"},
		{http.StatusForbidden, `{"error":"nope"}`, ErrForbidden, "nope"},
		{http.StatusNotFound, `chat not found`, ErrNotFound, "chat not found"},
		{http.StatusTooManyRequests, ``, ErrRateLimited, "HTTP 429"},
		{http.StatusInternalServerError, `{"code":500}`, ErrServer, "HTTP 500"},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			rec := &recorder{}
			c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, WithNotifier(rec))

			err := c.Get(context.Background(), "/x", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.status, StatusCode(err))

			var herr *HTTPError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tc.msg, herr.Message)

			if tc.status == http.StatusUnauthorized {
				assert.Equal(t, 1, tokens.cleared)
			} else {
				assert.Zero(t, tokens.cleared)
			}
			switch tc.status {
			case http.StatusTooManyRequests:
				assert.Equal(t, []string{"warning:Too many requests. Please slow down."}, rec.notes)
			case http.StatusInternalServerError:
				assert.Equal(t, []string{"error:Server error. Please try again later."}, rec.notes)
			default:
				assert.Empty(t, rec.notes)
			}
		})
	}
}

func TestLoginKeepsTokenOn401(t *testing.T) {
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"invalid credentials"}`)
	})

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, tokens.cleared)
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	err := c.Get(context.Background(), "/slow", nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, nil)
	err := c.Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestOpenStream(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req StreamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.Content)
		require.NotNil(t, req.WebSearch)
		assert.True(t, *req.WebSearch)

		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "streamed reply")
	})

	ws := true
	body, err := c.StreamMessage(context.Background(), "c1", StreamRequest{Content: "hi", WebSearch: &ws})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "streamed reply", string(data))
}

func TestOpenStreamErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"content required"}`)
	})

	_, err := c.StreamMessage(context.Background(), "c1", StreamRequest{})
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusBadRequest, herr.Status)
	assert.Equal(t, "content required", herr.Message)
}

func TestOpenStreamNoBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.Regenerate(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestOpenStreamHasNoTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(100 * time.Millisecond)
		_, _ = io.WriteString(w, "late")
	}, WithTimeout(20*time.Millisecond))

	body, err := c.StreamMessage(context.Background(), "c1", StreamRequest{Content: "x"})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "late", string(data))
}

func TestErrorMessageFallbacks(t *testing.T) {
	assert.Equal(t, "m", errorMessage(400, []byte(`{"message":"m","error":"e"}`)))
	assert.Equal(t, "e", errorMessage(400, []byte(`{"error":"e"}`)))
	assert.Equal(t, "HTTP 400", errorMessage(400, []byte(`{}`)))
	assert.Equal(t, "plain text", errorMessage(400, []byte("  plain text \n")))
	assert.Equal(t, "HTTP 502", errorMessage(502, nil))
}
