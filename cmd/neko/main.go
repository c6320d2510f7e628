// Command neko is a terminal client for the chat backend: account, chat
// listing, streaming sends and parallel multi-model sends.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/neko-client/internal/config"
	"github.com/suPer8Hu/neko-client/internal/logging"
)

type cli struct {
	app      *app
	logLevel string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "neko",
		Short:         "Chat with AI models from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			logger := logging.Setup(cfg.LogLevel, cmd.ErrOrStderr())
			a, err := newApp(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override NEKO_LOG_LEVEL")

	root.AddCommand(
		c.newRegisterCommand(),
		c.newLoginCommand(),
		c.newLogoutCommand(),
		c.newWhoamiCommand(),
		c.newChatsCommand(),
		c.newHistoryCommand(),
		c.newSendCommand(),
		c.newRegenerateCommand(),
		c.newParallelCommand(),
		c.newListenCommand(),
		c.newSettingsCommand(),
	)
	return root
}

// run hands the app built in the pre-run hook to fn and closes it afterwards.
func (c *cli) run(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if c.app == nil {
				return
			}
			if cerr := c.app.Close(); cerr != nil && err == nil {
				err = cerr
			}
			c.app = nil
		}()
		return fn(cmd, c.app, args)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("neko")
		stop()
		os.Exit(1)
	}
}
