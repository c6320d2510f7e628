package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/neko-client/internal/settings"
)

func (c *cli) newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the local preferences",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app, _ []string) error {
			s, err := a.settings.Load(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(a, s)
		}),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one preference: theme, fontSize, defaultModel, defaultTemperature, defaultMaxTokens, userName, vimMode",
			Args:  cobra.ExactArgs(2),
			RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
				var applyErr error
				s, err := a.settings.Update(cmd.Context(), func(s *settings.Settings) {
					applyErr = applySetting(s, args[0], args[1])
				})
				if err != nil {
					return err
				}
				if applyErr != nil {
					return applyErr
				}
				return printJSON(a, s)
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restore the default preferences",
			Args:  cobra.NoArgs,
			RunE: c.run(func(cmd *cobra.Command, a *app, _ []string) error {
				s, err := a.settings.Reset(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(a, s)
			}),
		},
	)
	return cmd
}

// applySetting leaves s untouched when value does not parse.
func applySetting(s *settings.Settings, key, value string) error {
	switch key {
	case "theme":
		s.Theme = value
	case "fontSize":
		s.FontSize = value
	case "defaultModel":
		s.DefaultModel = value
	case "userName":
		s.UserName = value
	case "defaultTemperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 2 {
			return errors.Errorf("defaultTemperature must be a number between 0 and 2, got %q", value)
		}
		s.DefaultTemperature = f
	case "defaultMaxTokens":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return errors.Errorf("defaultMaxTokens must be a positive integer, got %q", value)
		}
		s.DefaultMaxTokens = n
	case "vimMode":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Errorf("vimMode must be true or false, got %q", value)
		}
		s.Keybindings.VimMode = b
	default:
		return errors.Errorf("unknown setting %q", key)
	}
	return nil
}

func printJSON(a *app, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(b))
	return nil
}
