package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/neko-client/internal/chat"
	"github.com/suPer8Hu/neko-client/internal/models"
)

// deltaPrinter writes only what is new in the streaming assistant message of
// each view snapshot.
type deltaPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func (p *deltaPrinter) observe(snap chat.ViewSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		m := snap.Messages[i]
		if m.Role != models.RoleAssistant || !m.Streaming {
			continue
		}
		if len(m.Content) > len(p.printed) && strings.HasPrefix(m.Content, p.printed) {
			fmt.Fprint(p.w, m.Content[len(p.printed):])
			p.printed = m.Content
		}
		return
	}
}

func (c *cli) newSendCommand() *cobra.Command {
	var chatID, provider, model string
	var webSearch bool
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message and stream the reply; Ctrl-C stops the stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			if chatID != "" {
				if err := a.service.SwitchTo(ctx, chatID); err != nil {
					return err
				}
			}
			if model == "" {
				if s, err := a.settings.Load(ctx); err == nil {
					model = s.DefaultModel
				}
			}

			p := &deltaPrinter{w: a.out}
			unsubscribe := a.service.View().Subscribe(p.observe)
			defer unsubscribe()

			opts := chat.SendOptions{Provider: provider, Model: model}
			if cmd.Flags().Changed("web-search") {
				opts.WebSearch = &webSearch
			}
			err := a.service.Send(ctx, strings.Join(args, " "), opts)
			fmt.Fprintln(a.out)
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "(stopped)")
			}
			a.logger.Debug().Str("chat_id", a.service.View().Focused()).Msg("sent")
			return nil
		}),
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat to send to; a new chat is created when empty")
	cmd.Flags().StringVar(&provider, "provider", "", "provider for a new chat")
	cmd.Flags().StringVar(&model, "model", "", "model for a new chat (default from settings)")
	cmd.Flags().BoolVar(&webSearch, "web-search", false, "ask the backend to search the web")
	return cmd
}

func (c *cli) newRegenerateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <chat-id>",
		Short: "Replace the last reply of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			_, err := a.service.Coordinator().Regenerate(cmd.Context(), args[0], chat.Options{
				OnChunk: func(chunk, _ string) { fmt.Fprint(a.out, chunk) },
			})
			fmt.Fprintln(a.out)
			return err
		}),
	}
}

// parseModelRef reads "provider/model". The model part may itself contain
// slashes.
func parseModelRef(s string) (models.ModelRef, error) {
	provider, model, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || provider == "" || model == "" {
		return models.ModelRef{}, errors.Errorf("invalid model %q, want provider/model", s)
	}
	return models.ModelRef{Provider: provider, Model: model}, nil
}

func (c *cli) newParallelCommand() *cobra.Command {
	var chatID string
	var modelFlags []string
	cmd := &cobra.Command{
		Use:   "parallel --model provider/model... <text>...",
		Short: "Ask several models at once, one branch chat each",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			refs := make([]models.ModelRef, 0, len(modelFlags))
			for _, f := range modelFlags {
				ref, err := parseModelRef(f)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			ctx := cmd.Context()
			if chatID != "" {
				if err := a.service.SwitchTo(ctx, chatID); err != nil {
					return err
				}
			}
			branches, err := a.service.SendParallel(ctx, strings.Join(args, " "), refs)
			if err != nil {
				return err
			}
			a.service.Wait()

			replies, err := branchReplies(context.WithoutCancel(ctx), a, branches)
			if err != nil {
				return err
			}
			for i, br := range branches {
				fmt.Fprintf(a.out, "== %s (%s) ==\n%s\n\n", br.Title, modelLabel(br), replies[i])
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat to branch from; a new chat is created when empty")
	cmd.Flags().StringArrayVar(&modelFlags, "model", nil, "provider/model, repeat for each model")
	return cmd
}

// branchReplies fetches the final assistant reply of every branch
// concurrently.
func branchReplies(ctx context.Context, a *app, branches []models.Chat) ([]string, error) {
	replies := make([]string, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, br := range branches {
		i, br := i, br
		g.Go(func() error {
			msgs, err := a.client.Messages(gctx, br.ID)
			if err != nil {
				return err
			}
			for j := len(msgs) - 1; j >= 0; j-- {
				if msgs[j].Role == models.RoleAssistant {
					replies[i] = msgs[j].Content
					break
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}
