package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/credstore"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a provider",
		Long: `Sign in to a provider via the browser-based OAuth flow.

For GitHub, --token skips the browser and stores a personal access
token instead.`,
		Args: cobra.NoArgs,
		RunE: withApp(runLogin),
	}

	cmd.Flags().String("token", "", "personal access token (GitHub only)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		Args:  cobra.NoArgs,
		RunE:  withApp(runLogout),
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE:  withApp(runWhoami),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in status for all providers",
		Args:  cobra.NoArgs,
		RunE:  withApp(runStatus),
	}
}

func runLogin(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	pat, _ := cmd.Flags().GetString("token")
	if pat != "" {
		if name != cloud.GitHub {
			return fmt.Errorf("--token is only supported for github")
		}

		cred, patErr := a.ctrl.LoginPAT(name, pat)
		if patErr != nil {
			return patErr
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Signed in to %s%s\n", name.Label(), accountSuffix(cred))

		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Opening your browser to sign in...")

	cred, err := a.ctrl.Begin(ctx, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed in to %s%s\n", name.Label(), accountSuffix(cred))

	return nil
}

func accountSuffix(cred *credstore.Credential) string {
	if cred == nil || cred.Account == "" {
		return ""
	}

	return " as " + cred.Account
}

func runLogout(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	if err := a.ctrl.Logout(name); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", name.Label())

	return nil
}

// accountReporter is implemented by providers that can name the
// signed-in account.
type accountReporter interface {
	Whoami(ctx context.Context) (string, error)
}

func runWhoami(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	p, err := a.provider(ctx, name)
	if err != nil {
		return err
	}

	reporter, ok := p.(accountReporter)
	if !ok {
		return fmt.Errorf("%s cannot report the signed-in account", name.Label())
	}

	account, err := reporter.Whoami(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name.Label(), account)

	return nil
}

func runStatus(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
	for _, name := range []cloud.Name{cloud.GitHub, cloud.GDrive, cloud.OneDrive} {
		state := "signed out"

		_, err := a.store.Load(name)

		switch {
		case err == nil:
			state = "signed in"
		case errors.Is(err, credstore.ErrNotFound):
			// signed out
		case errors.Is(err, credstore.ErrDecryption):
			state = "credentials unreadable, sign in again"
		default:
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name.Label(), state)
	}

	return nil
}
