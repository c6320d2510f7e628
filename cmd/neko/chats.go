package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/neko-client/internal/api"
	"github.com/suPer8Hu/neko-client/internal/chat"
	"github.com/suPer8Hu/neko-client/internal/models"
)

func (c *cli) newChatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats, branches nested under their parent",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app, _ []string) error {
			chats, err := a.client.ListChats(cmd.Context())
			if err != nil {
				return err
			}
			printTree(a.out, chat.BuildTree(chats))
			return nil
		}),
	}
	cmd.AddCommand(c.newChatsNewCommand(), c.newChatsRenameCommand(), c.newChatsPinCommand(), c.newChatsDeleteCommand())
	return cmd
}

func printTree(w io.Writer, roots []*chat.TreeNode) {
	chat.Walk(roots, func(n *chat.TreeNode, depth int) {
		pin := " "
		if n.Chat.Pinned {
			pin = "*"
		}
		fmt.Fprintf(w, "%s%s%s  %s  (%s)\n", strings.Repeat("  ", depth), pin, n.Chat.Title, n.Chat.ID, modelLabel(n.Chat))
	})
}

func modelLabel(c models.Chat) string {
	return models.ModelRef{Provider: c.Provider, Model: c.Model}.String()
}

func (c *cli) newChatsNewCommand() *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create an empty chat using the active system prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.settings.Load(cmd.Context())
			if err != nil {
				return err
			}
			req := api.CreateChatRequest{SystemPrompt: s.ActivePrompt(), Provider: provider, Model: model}
			if len(args) == 1 {
				req.Title = args[0]
			}
			created, err := a.client.CreateChat(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, created.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider of the chat")
	cmd.Flags().StringVar(&model, "model", "", "model of the chat")
	return cmd
}

func (c *cli) newChatsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <title>",
		Short: "Rename a chat",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			title := args[1]
			_, err := a.client.UpdateChat(cmd.Context(), args[0], api.UpdateChatRequest{Title: &title})
			return err
		}),
	}
}

func (c *cli) newChatsPinCommand() *cobra.Command {
	var unpin bool
	cmd := &cobra.Command{
		Use:   "pin <chat-id>",
		Short: "Pin a chat to the top of the list",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			pinned := !unpin
			_, err := a.client.UpdateChat(cmd.Context(), args[0], api.UpdateChatRequest{Pinned: &pinned})
			return err
		}),
	}
	cmd.Flags().BoolVar(&unpin, "unpin", false, "unpin instead")
	return cmd
}

func (c *cli) newChatsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			return a.client.DeleteChat(cmd.Context(), args[0])
		}),
	}
}

func (c *cli) newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			msgs, err := a.client.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printMessages(a.out, msgs)
			return nil
		}),
	}
}

func printMessages(w io.Writer, msgs []models.Message) {
	for _, m := range msgs {
		fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content)
	}
}
