// Package settings persists the user's client preferences as one JSON
// document in the local KV.
package settings

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/neko-client/internal/store"
)

const DefaultKey = "neko-settings"

type SystemPrompt struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Active bool   `json:"active"`
}

type Keybindings struct {
	Enabled         bool              `json:"enabled"`
	VimMode         bool              `json:"vimMode"`
	CustomShortcuts map[string]string `json:"customShortcuts"`
}

type Settings struct {
	UserName      string         `json:"userName"`
	SystemPrompts []SystemPrompt `json:"systemPrompts"`

	Theme            string `json:"theme"`
	FontSize         string `json:"fontSize"`
	MessageAnimation bool   `json:"messageAnimation"`
	CompactMode      bool   `json:"compactMode"`

	AutoSave            bool `json:"autoSave"`
	SoundNotifications  bool `json:"soundNotifications"`
	ShowTypingIndicator bool `json:"showTypingIndicator"`

	Keybindings Keybindings `json:"keybindings"`

	DefaultModel       string  `json:"defaultModel"`
	DefaultTemperature float64 `json:"defaultTemperature"`
	DefaultMaxTokens   int     `json:"defaultMaxTokens"`

	SaveConversations bool `json:"saveConversations"`
	Analytics         bool `json:"analytics"`

	DebugMode            bool `json:"debugMode"`
	ExperimentalFeatures bool `json:"experimentalFeatures"`
}

func Defaults() Settings {
	return Settings{
		SystemPrompts: []SystemPrompt{{
			ID:     "default",
			Name:   "Default Assistant",
			Prompt: "You are a helpful AI assistant.",
			Active: true,
		}},
		Theme:               "dark",
		FontSize:            "medium",
		MessageAnimation:    true,
		AutoSave:            true,
		ShowTypingIndicator: true,
		Keybindings: Keybindings{
			Enabled:         true,
			VimMode:         true,
			CustomShortcuts: map[string]string{},
		},
		DefaultModel:       "gpt-4",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   2048,
		SaveConversations:  true,
	}
}

// ActivePrompt returns the prompt text of the first active system prompt.
func (s Settings) ActivePrompt() string {
	for _, p := range s.SystemPrompts {
		if p.Active {
			return p.Prompt
		}
	}
	return ""
}

type Store struct {
	mu  sync.Mutex
	kv  store.KV
	key string
}

func NewStore(kv store.KV, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{kv: kv, key: key}
}

// Load returns the saved settings layered over the defaults. A corrupt
// document is logged and replaced by the defaults.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (Settings, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return Settings{}, errors.Wrap(err, "load settings")
	}
	out := Defaults()
	if !ok {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("settings corrupt, using defaults")
		return Defaults(), nil
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, v Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, v)
}

func (s *Store) save(ctx context.Context, v Settings) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	return errors.Wrap(s.kv.Set(ctx, s.key, string(b)), "save settings")
}

// Update applies fn to the current settings and saves the result.
func (s *Store) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load(ctx)
	if err != nil {
		return Settings{}, err
	}
	fn(&cur)
	if err := s.save(ctx, cur); err != nil {
		return Settings{}, err
	}
	return cur, nil
}

// Reset restores the defaults.
func (s *Store) Reset(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return Settings{}, errors.Wrap(err, "reset settings")
	}
	return Defaults(), nil
}
