package devbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(chunks <-chan string, errs <-chan error) ([]string, error) {
	var out []string
	for c := range chunks {
		out = append(out, c)
	}
	return out, <-errs
}

func TestSplitWordsConcatenatesBack(t *testing.T) {
	for _, s := range []string{"", "one", "two words", "trailing ", "  lead", "猫 は かわいい"} {
		assert.Equal(t, s, strings.Join(splitWords(s), ""), s)
	}
	assert.Equal(t, []string{"a ", "b ", "c"}, splitWords("a b c"))
}

func TestEchoRepliesToLastUserTurn(t *testing.T) {
	turns := []Turn{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "second one"},
	}
	got, err := collect(Echo{Prefix: "you said: "}.Respond(context.Background(), turns))
	require.NoError(t, err)
	assert.Equal(t, "you said: second one", strings.Join(got, ""))
}

func TestScriptFailsAfterChunks(t *testing.T) {
	boom := errors.New("boom")
	got, err := collect(Script{Chunks: []string{"a", "b"}, Err: boom}.Respond(context.Background(), nil))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, boom, err)
}

func TestScriptStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs := Script{Chunks: []string{"a", "b", "c"}, Delay: time.Hour}.Respond(ctx, nil)
	cancel()
	got, err := collect(chunks, errs)
	assert.Empty(t, got)
	assert.Equal(t, context.Canceled, err)
}

func TestRespondersRouteByProvider(t *testing.T) {
	r := NewResponders()
	var seen string
	r.Register(" Script ", func(_ context.Context, model string) (Responder, error) {
		seen = model
		return Script{}, nil
	})

	_, err := r.Get(context.Background(), "SCRIPT", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", seen)

	_, err = r.Get(context.Background(), "missing", "m1")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestOllamaStreamsDeltas(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		for _, part := range []string{"Hel", "lo", ""} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ignored"},"done":false}`)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL+"/", "tiny")
	chunks, err := collect(p.Respond(context.Background(), []Turn{{Role: "user", Content: "hi"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "tiny", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, []Turn{{Role: "user", Content: "hi"}}, got.Messages)
}

func TestOllamaReportsErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := collect(NewOllama(srv.URL, "").Respond(context.Background(), nil))
		assert.ErrorContains(t, err, "status 502")
	})
	t.Run("in-band", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"par"},"done":false}`)
			fmt.Fprintln(w, `{"error":"model not found"}`)
		}))
		defer srv.Close()
		chunks, err := collect(NewOllama(srv.URL, "").Respond(context.Background(), nil))
		assert.Equal(t, []string{"par"}, chunks)
		assert.EqualError(t, err, "model not found")
	})
}

func TestOpenRouterStreamsSSE(t *testing.T) {
	var got openRouterChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "neko", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, part := range []string{"Hel", "", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	r := DefaultResponders(ProviderConfig{
		OpenRouterURL:     srv.URL + "/",
		OpenRouterKey:     "key",
		OpenRouterModel:   "fallback",
		OpenRouterAppName: "neko",
	})
	p, err := r.Get(context.Background(), "openrouter", "")
	require.NoError(t, err)
	chunks, err := collect(p.Respond(context.Background(), []Turn{{Role: "user", Content: "hi"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "fallback", got.Model)
	assert.True(t, got.Stream)
}

func TestOpenRouterReportsErrors(t *testing.T) {
	_, err := collect(NewOpenRouter("", "", "m").Respond(context.Background(), nil))
	assert.EqualError(t, err, "openrouter: api key is required")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"rate limited\"}}\n\n")
	}))
	defer srv.Close()
	chunks, err := collect(NewOpenRouter(srv.URL, "key", "m").Respond(context.Background(), nil))
	assert.Equal(t, []string{"par"}, chunks)
	assert.EqualError(t, err, "rate limited")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no credits", http.StatusPaymentRequired)
	}))
	defer bad.Close()
	_, err = collect(NewOpenRouter(bad.URL, "key", "m").Respond(context.Background(), nil))
	assert.EqualError(t, err, "openrouter: no credits")
}
