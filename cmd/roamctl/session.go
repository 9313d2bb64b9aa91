package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (read from stdin when empty)")
	_ = loginCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		return withCore(func(ctx context.Context, c *core) error {
			if c.Session.Status().IsSignedIn() {
				if err := c.Session.Logout(ctx); err != nil {
					return err
				}
			}
			res, err := c.Auth.Login(ctx, api.LoginRequest{Email: loginEmail, Password: password})
			if err != nil {
				var verr *api.ValidationError
				if errors.As(err, &verr) {
					return errors.New(verr.Message)
				}
				return err
			}
			err = c.Session.Login(ctx, session.Credentials{
				AccessToken:  res.Token,
				RefreshToken: res.RefreshToken,
				User:         res.User,
			})
			if err != nil {
				return err
			}
			if u := c.Session.User(); u != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", u.DisplayName())
			}
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core) error {
			if err := c.Session.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		})
	},
}

type statusView struct {
	Status  string    `json:"status"`
	User    *api.User `json:"user,omitempty"`
	Refresh bool      `json:"has_refresh_token"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core) error {
			v := statusView{
				Status:  string(c.Session.Status()),
				User:    c.Session.User(),
				Refresh: c.Session.HasRefreshToken(ctx),
			}
			out := cmd.OutOrStdout()
			if jsonFlag {
				return printJSON(out, v)
			}
			fmt.Fprintf(out, "Status:        %s\n", v.Status)
			if v.User != nil {
				fmt.Fprintf(out, "User:          %s (%s)\n", v.User.DisplayName(), v.User.ID)
			}
			fmt.Fprintf(out, "Refresh token: %t\n", v.Refresh)
			return nil
		})
	},
}
