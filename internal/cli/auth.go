package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/puzzlegate/internal/forum"
)

// SessionResult is the output of login and whoami.
type SessionResult struct {
	LoggedIn bool                  `json:"logged_in"`
	User     *forum.User           `json:"user,omitempty"`
	Stats    *forum.AggregateStats `json:"stats,omitempty"`
}

// WriteText implements TextWriter.
func (r SessionResult) WriteText(w io.Writer) error {
	if !r.LoggedIn {
		_, err := fmt.Fprintln(w, "Not logged in.")
		return err
	}
	fmt.Fprintf(w, "Logged in as %s", r.User.Username)
	if r.User.Email != "" {
		fmt.Fprintf(w, " <%s>", r.User.Email)
	}
	fmt.Fprintln(w)
	if r.Stats != nil {
		return writeStats(w, *r.Stats)
	}
	return nil
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account",
		Long: `Create an account on the forum service. The new account is not
signed in; use login afterwards.

An empty --email defaults to <username>@gmail.com.

Examples:
  puzzlegate register alice --password s3cret
  puzzlegate register alice --email alice@example.com --password s3cret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.client.Register(ctx, args[0], email, password); err != nil {
					return err
				}
				return a.out.Success(message(fmt.Sprintf("Account %s created. Log in with: puzzlegate login %s", args[0], args[0])))
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (required)")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and load the forum",
		Long: `Sign in to the forum service. The session is kept in the local
database until logout, so later commands act as this user.

Examples:
  puzzlegate login alice --password s3cret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, a *app) error {
				u, err := a.client.Login(ctx, args[0], password)
				if err != nil {
					return err
				}
				stats := a.client.Stats()
				return a.out.Success(SessionResult{LoggedIn: true, User: &u, Stats: &stats})
			})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password (required)")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.client.Logout(ctx); err != nil {
					return err
				}
				return a.out.Success(message("Logged out."))
			})
		},
	}
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, a *app) error {
				u := a.client.Session().Current()
				return a.out.Success(SessionResult{LoggedIn: u != nil, User: u})
			})
		},
	}
}
