package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colthorp/bsky-cli-go/internal/config"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

func newLoginCmd(a *App) *cobra.Command {
	var (
		handle    string
		password  string
		name      string
		setActive bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Bluesky (creates/updates a named profile)",
		Long: `Authenticate with an app password and store it under a profile name.
The first profile stored becomes the active one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				if !a.IsTerminal() {
					return errors.New("--password is required when stdin is not a terminal")
				}
				fmt.Fprint(a.errOut, "App password: ")
				pw, err := a.ReadPassword()
				fmt.Fprintln(a.errOut)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimSpace(pw)
			}

			prof := config.Profile{
				Handle:      core.NormalizeHandle(handle),
				AppPassword: password,
				PDS:         a.v.GetString("pds"),
			}
			if name == "" {
				name = prof.Handle
			}
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("missing profile name; use --name <profile>")
			}

			store, cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			client := a.newClient(name, prof)
			s, err := a.Sessions.Login(cmd.Context(), name, prof, client)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			prof.DID = s.DID

			active, err := cfg.Upsert(name, prof, setActive)
			if err != nil {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}

			note := ""
			if active {
				note = " (active)"
			}
			fmt.Fprintf(a.out, "Logged in profile '%s' as %s (%s)%s\n", name, prof.Handle, s.DID, note)
			return nil
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "Your handle (e.g. user.bsky.social)")
	cmd.Flags().StringVar(&password, "password", "", "App password (prompted when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Profile name to save under (default: the handle)")
	cmd.Flags().BoolVar(&setActive, "set-active", false, "Make this profile the active default")
	_ = cmd.MarkFlagRequired("handle")
	return cmd
}

func newAccountsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List configured profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return a.printer().Accounts(cfg)
		},
	}
}

func newUseCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "use NAME",
		Short: "Set the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.SetActive(args[0]); err != nil {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Active profile set to '%s'\n", args[0])
			return nil
		},
	}
}

func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout NAME",
		Short: "Remove a saved profile and its cached session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			store, cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Remove(name); err != nil {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}
			if err := a.Sessions.Forget(name); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed profile '%s'\n", name)
			return nil
		},
	}
}

func newWhoamiCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, name, err := a.connect(cmd.Context())
			if errors.Is(err, config.ErrNoProfile) {
				fmt.Fprintln(a.out, "Not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			s, err := client.Me()
			if err != nil {
				return err
			}
			return a.printer().Whoami(name, s)
		},
	}
}
