package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/modsync/internal/ipc"
	"github.com/blackwell-systems/modsync/internal/manager"
	"github.com/blackwell-systems/modsync/internal/metadata"
)

var importCmd = &cobra.Command{
	Use:   "import <export.json>",
	Short: "Import package records from a legacy export",
	Long: `Import inactive and active package records from an export written by older
releases ({"inactive_mods": [...], "active_mods": [...]}). Records without a file
ID get one by matching the archive name and version against the package's file
list. Records already present are skipped.

Stop the running instance before importing.`,
	Example: `  modsync import ~/.local/share/modsync/mods.json`,
	Args:    cobra.ExactArgs(1),
	RunE:    runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ipc.Running(cfg.Socket) {
		return fmt.Errorf("%w: stop it with 'modsync serve --stop' before importing", ipc.ErrInstanceRunning)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	legacy, err := metadata.ParseLegacy(f)
	if err != nil {
		return err
	}

	return withOfflineManager(cmd.Context(), nil, func(ctx context.Context, m *manager.Manager) error {
		added, err := m.Import(ctx, legacy)
		fmt.Printf("✓ Imported %d of %d records\n", added, len(legacy.Inactive)+len(legacy.Active))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: some file IDs could not be recovered: %v\n", err)
		}
		return nil
	})
}
