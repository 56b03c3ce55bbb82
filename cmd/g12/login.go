package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the configured OAuth provider",
		Long: `Prints the provider's consent URL and waits for the authorization code
shown after consent. The session is stored in the database so later commands
start signed in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Great12 config file")
	return cmd
}

func runLogin(cmd *cobra.Command, configPath string) error {
	a, err := loadApp(configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.store.Close()
	out := cmd.OutOrStdout()

	state, err := a.auth.NewState()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Open this URL to sign in:\n\n  %s\n\nAuthorization code: ", a.auth.SignInURL(state))

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read authorization code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return fmt.Errorf("authorization code is required")
	}

	sess, err := a.auth.CompleteSignIn(cmd.Context(), code, state)
	if err != nil {
		return err
	}
	who := sess.Email
	if who == "" {
		who = sess.UserID
	}
	fmt.Fprintf(out, "Signed in as %s\n", who)
	return nil
}

func newLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the local snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Great12 config file")
	return cmd
}

func runLogout(cmd *cobra.Command, configPath string) error {
	a, err := loadApp(configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.store.Start(cmd.Context()); err != nil {
		return err
	}
	a.store.Wait()
	if err := a.store.SignOut(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}
