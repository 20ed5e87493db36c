package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/modsync/internal/ipc"
	"github.com/blackwell-systems/modsync/internal/nxm"
)

var (
	configPath string
	dbPath     string
	socketPath string

	// RootCmd is the root command for modsync
	RootCmd = &cobra.Command{
		Use:   "modsync [nxm-token]",
		Short: "Download and activate game mods from nxm:// links",
		Long: `modsync receives nxm:// links from the browser, downloads the archives,
records their metadata and installs or removes them from the game directory.

Only one primary instance runs at a time. Invoking modsync with a token while
an instance is running forwards the token over a local socket and exits; with
no instance running, the invocation becomes the primary instance.

Quick Start:
  1. modsync login
  2. modsync config set game_dir ~/.steam/steam/steamapps/common/Stardew\ Valley
  3. modsync serve --daemon
  4. Register 'modsync %u' as the nxm:// handler in your browser

Examples:
  # Hand a link to the running instance (or start one)
  modsync "nxm://stardewvalley/mods/2400/files/9001?key=...&expires=..."

  # Show installed packages
  modsync list

  # Install a package into the game directory
  modsync activate 2400`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/modsync/config.yml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: ~/.modsync/modsync.db)")
	RootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "IPC socket path (default: $XDG_RUNTIME_DIR/modsync.sock)")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(activateCmd)
	RootCmd.AddCommand(deactivateCmd)
	RootCmd.AddCommand(deleteCmd)
	RootCmd.AddCommand(downloadsCmd)
	RootCmd.AddCommand(dismissCmd)
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(loginCmd)
	RootCmd.AddCommand(importCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("modsync: nxm:// download and activation manager")
		fmt.Println()
		fmt.Println("Run 'modsync serve' to start the primary instance.")
		fmt.Println("Run 'modsync --help' for the full reference.")
		return nil
	}

	token := args[0]
	if _, err := nxm.Parse(token); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	err = ipc.Send(cfg.Socket, token)
	switch {
	case err == nil:
		fmt.Println("✓ Token sent to running instance")
		return nil
	case errors.Is(err, ipc.ErrNoInstance):
		return serve(cmd.Context(), token)
	default:
		return fmt.Errorf("failed to forward token: %w", err)
	}
}
