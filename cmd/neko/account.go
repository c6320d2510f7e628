package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/neko-client/internal/settings"
)

func passwordFrom(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if pw := os.Getenv("NEKO_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "", errors.New("password required: pass --password or set NEKO_PASSWORD")
}

func (c *cli) newRegisterCommand() *cobra.Command {
	var password, name string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			pw, err := passwordFrom(password)
			if err != nil {
				return err
			}
			if _, err := a.client.Register(cmd.Context(), args[0], pw, name); err != nil {
				return err
			}
			return login(cmd, a, args[0], pw)
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func (c *cli) newLoginCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and remember the token",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app, args []string) error {
			pw, err := passwordFrom(password)
			if err != nil {
				return err
			}
			return login(cmd, a, args[0], pw)
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func login(cmd *cobra.Command, a *app, email, password string) error {
	resp, err := a.client.Login(cmd.Context(), email, password)
	if err != nil {
		return err
	}
	if err := a.tokens.Set(cmd.Context(), resp.Token); err != nil {
		return err
	}
	if _, err := a.settings.Update(cmd.Context(), func(s *settings.Settings) { s.UserName = resp.User.Name }); err != nil {
		a.logger.Warn().Err(err).Msg("remember user name")
	}
	fmt.Fprintf(a.out, "Logged in as %s <%s>\n", resp.User.Name, resp.User.Email)
	return nil
}

func (c *cli) newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.tokens.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		}),
	}
}

func (c *cli) newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app, _ []string) error {
			if !a.tokens.Valid(cmd.Context()) {
				return errors.New("not logged in")
			}
			u, err := a.client.Profile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s <%s>\n", u.Name, u.Email)
			return nil
		}),
	}
}
