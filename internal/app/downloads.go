package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/modsync/internal/ipc"
	"github.com/blackwell-systems/modsync/internal/nxm"
	"github.com/blackwell-systems/modsync/internal/output"
)

var (
	downloadsLimit int

	downloadsCmd = &cobra.Command{
		Use:   "downloads",
		Short: "Show completed downloads",
		Long: `Show the download history, newest first. Downloads still in progress are
reported in the running instance's log.`,
		Example: `  modsync downloads
  modsync downloads --limit 50`,
		Args: cobra.NoArgs,
		RunE: runDownloads,
	}

	dismissCmd = &cobra.Command{
		Use:   "dismiss <archive>",
		Short: "Clear a download from the running instance",
		Long: `Remove a finished download from the running instance's list. A download
that stopped part way can be dismissed once no other download is running.`,
		Example: `  modsync dismiss "Content Patcher 2.0.zip"`,
		Args:    cobra.ExactArgs(1),
		RunE:    runDismiss,
	}
)

func init() {
	downloadsCmd.Flags().IntVar(&downloadsLimit, "limit", 20, "number of entries to show")
}

func runDownloads(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	records, err := env.store.ListDownloads(downloadsLimit)
	if err != nil {
		return fmt.Errorf("failed to list downloads: %w", err)
	}
	fmt.Print(output.RenderHistory(records))
	return nil
}

// runDismiss only forwards: the download list lives in the running instance.
func runDismiss(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl := nxm.Control{Verb: nxm.VerbDismiss, File: args[0]}
	if err := ipc.Send(cfg.Socket, ctl.String()); err != nil {
		if errors.Is(err, ipc.ErrNoInstance) {
			return fmt.Errorf("nothing to dismiss: %w", err)
		}
		return fmt.Errorf("failed to forward command: %w", err)
	}
	fmt.Printf("✓ Sent dismiss %s to the running instance\n", args[0])
	return nil
}
