package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/modsync/internal/config"
	"github.com/blackwell-systems/modsync/internal/ipc"
	"github.com/blackwell-systems/modsync/internal/manager"
	"github.com/blackwell-systems/modsync/internal/nxm"
	"github.com/blackwell-systems/modsync/internal/output"
)

var (
	packageVersion string

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Show inactive and active packages",
		Long: `Show the recorded packages, inactive first, in the order they were added
or last moved.`,
		Example: `  modsync list`,
		Args:    cobra.NoArgs,
		RunE:    runList,
	}

	activateCmd = &cobra.Command{
		Use:   "activate <package-id>",
		Short: "Install a package into the game directory",
		Long: `Extract the package's archive into the game's mods directory (or, for the
mod loader, into the game root and run its installer) and mark it active.

Only one version of a package can be active. When several versions are
recorded, pick one with --version.`,
		Example: `  modsync activate 2400
  modsync activate 1915 --version 1.4.2`,
		Args: cobra.ExactArgs(1),
		RunE: transitionRunner(nxm.VerbActivate),
	}

	deactivateCmd = &cobra.Command{
		Use:   "deactivate <package-id>",
		Short: "Remove a package's installed files",
		Long: `Remove the installed folder of an active package and mark it inactive.
The archive is kept so the package can be activated again.`,
		Example: `  modsync deactivate 2400`,
		Args:    cobra.ExactArgs(1),
		RunE:    transitionRunner(nxm.VerbDeactivate),
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <package-id>",
		Short: "Forget a package and remove its archive",
		Long: `Deactivate the package if it is active, drop its record and remove the
downloaded archive unless another record uses it.`,
		Example: `  modsync delete 1915 --version 1.4.2`,
		Args:    cobra.ExactArgs(1),
		RunE:    transitionRunner(nxm.VerbDelete),
	}
)

func init() {
	for _, cmd := range []*cobra.Command{activateCmd, deactivateCmd, deleteCmd} {
		cmd.Flags().StringVar(&packageVersion, "version", "", "package version when several are recorded")
	}
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	cols, err := env.store.LoadCollections()
	if err != nil {
		return fmt.Errorf("failed to load packages: %w", err)
	}
	fmt.Print(output.RenderPackageTable(cols))
	return nil
}

// transitionRunner forwards the command to the running instance, or applies
// it directly when none is running.
func transitionRunner(verb nxm.Verb) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parsePackageID(args[0])
		if err != nil {
			return err
		}
		ctl := nxm.Control{Verb: verb, PackageID: id, Version: packageVersion}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		err = ipc.Send(cfg.Socket, ctl.String())
		if err == nil {
			fmt.Printf("✓ Sent %s %d to the running instance (see its log for the result)\n", verb, id)
			return nil
		}
		if !errors.Is(err, ipc.ErrNoInstance) {
			return fmt.Errorf("failed to forward command: %w", err)
		}

		return withOfflineManager(cmd.Context(), requirementsFor(verb), func(ctx context.Context, m *manager.Manager) error {
			spinner := output.NewSpinner(fmt.Sprintf("Running %s on %d", verb, id))
			spinner.Start()
			if err := m.Control(ctx, ctl); err != nil {
				spinner.Stop()
				return err
			}
			spinner.StopWithMessage(fmt.Sprintf("✓ %s %d done", verb, id))
			return nil
		})
	}
}

// requirementsFor returns the config check a command needs before it runs.
func requirementsFor(verb nxm.Verb) func(*config.Config) error {
	switch verb {
	case nxm.VerbActivate, nxm.VerbDeactivate:
		return (*config.Config).RequireGameDir
	}
	return nil
}

func parsePackageID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid package id %q", s)
	}
	return id, nil
}
