package devbackend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/neko-client/internal/models"
)

// Turn is one entry of the conversation handed to a Responder. Role is
// "system", "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Responder produces an assistant reply as a stream of chunks. Both channels
// are closed when the reply ends; at most one error is sent.
type Responder interface {
	Respond(ctx context.Context, turns []Turn) (<-chan string, <-chan error)
}

type ResponderFactory func(ctx context.Context, model string) (Responder, error)

// ErrUnknownProvider is returned by Responders.Get for unregistered names.
var ErrUnknownProvider = errors.New("unknown provider")

// Responders routes a chat's provider name to a Responder.
type Responders struct {
	mu        sync.RWMutex
	factories map[string]ResponderFactory
}

func NewResponders() *Responders {
	return &Responders{factories: make(map[string]ResponderFactory)}
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Responders) Register(name string, f ResponderFactory) {
	name = normalizeProvider(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Responders) Get(ctx context.Context, provider, model string) (Responder, error) {
	name := normalizeProvider(provider)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%q", provider)
	}
	return f(ctx, model)
}

// ProviderConfig carries the upstream endpoints of the real responders.
type ProviderConfig struct {
	ChunkDelay time.Duration

	OllamaURL   string
	OllamaModel string

	OpenRouterURL     string
	OpenRouterKey     string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

// DefaultResponders registers "echo", "ollama" and "openrouter". A chat with
// an empty model falls back to the configured default of its provider.
func DefaultResponders(cfg ProviderConfig) *Responders {
	r := NewResponders()
	r.Register(DefaultProvider, func(_ context.Context, _ string) (Responder, error) {
		return Echo{Delay: cfg.ChunkDelay}, nil
	})
	r.Register("ollama", func(_ context.Context, model string) (Responder, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OllamaModel
		}
		return NewOllama(cfg.OllamaURL, model), nil
	})
	r.Register("openrouter", func(_ context.Context, model string) (Responder, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OpenRouterModel
		}
		p := NewOpenRouter(cfg.OpenRouterURL, cfg.OpenRouterKey, model)
		p.SiteURL = cfg.OpenRouterSiteURL
		p.AppName = cfg.OpenRouterAppName
		return p, nil
	})
	return r
}

// Echo answers with the last user turn, one word per chunk.
type Echo struct {
	Prefix string
	Delay  time.Duration
}

func (e Echo) Respond(ctx context.Context, turns []Turn) (<-chan string, <-chan error) {
	var last string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == string(models.RoleUser) {
			last = turns[i].Content
			break
		}
	}
	return Script{Chunks: splitWords(e.Prefix + last), Delay: e.Delay}.Respond(ctx, turns)
}

// splitWords keeps the separating spaces attached so the chunks concatenate
// back to s.
func splitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// Script replays fixed chunks and then fails with Err when it is set.
type Script struct {
	Chunks []string
	Err    error
	Delay  time.Duration
}

func (s Script) Respond(ctx context.Context, _ []Turn) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		for _, c := range s.Chunks {
			if s.Delay > 0 {
				t := time.NewTimer(s.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					errs <- ctx.Err()
					return
				case <-t.C:
				}
			}
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if s.Err != nil {
			errs <- s.Err
		}
	}()

	return chunks, errs
}
