// Package activation performs the filesystem side of package transitions:
// extracting archives into the game directory, driving the loader installer,
// and removing installed files again.
package activation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/blackwell-systems/modsync/internal/archive"
	"github.com/blackwell-systems/modsync/internal/config"
	"github.com/blackwell-systems/modsync/internal/mods"
)

// ErrNoFolder is returned when uninstalling a record without an installed
// folder name.
var ErrNoFolder = errors.New("package has no installed folder")

// Options configures an Activator.
type Options struct {
	DownloadDir string
	GameDir     string
	ModsSubdir  string
	Loader      config.LoaderConfig
	Runner      Runner
}

// Activator installs and removes package files.
type Activator struct {
	fs          afero.Fs
	downloadDir string
	gameDir     string
	modsSubdir  string
	loader      config.LoaderConfig
	runner      Runner
	log         *slog.Logger
}

// New creates an Activator. A nil Runner defaults to ExecRunner.
func New(fs afero.Fs, opts Options, log *slog.Logger) *Activator {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Activator{
		fs:          fs,
		downloadDir: opts.DownloadDir,
		gameDir:     opts.GameDir,
		modsSubdir:  opts.ModsSubdir,
		loader:      opts.Loader,
		runner:      opts.Runner,
		log:         log.With(slog.String("component", "activation")),
	}
}

// InstallRoot returns where the package's folder lives: the game root for the
// loader, the mods subdirectory for everything else.
func (a *Activator) InstallRoot(p *mods.Package) string {
	if p.Kind == mods.KindLoader {
		return a.gameDir
	}
	return filepath.Join(a.gameDir, a.modsSubdir)
}

// ArchivePath returns the stored archive of the package.
func (a *Activator) ArchivePath(p *mods.Package) string {
	return filepath.Join(a.downloadDir, p.Archive)
}

// Install extracts the package into its install root and returns the
// installed folder name. The loader additionally has its bundle unpacked
// into the game root, the dependency manifest duplicated and its installer run.
func (a *Activator) Install(ctx context.Context, p *mods.Package) (string, error) {
	if a.gameDir == "" {
		return "", config.ErrNoGameDir
	}
	log := a.log.With(slog.String("package", p.Key().String()), slog.String("kind", p.Kind.String()))

	root := a.InstallRoot(p)
	if err := a.fs.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", root, err)
	}

	res, err := archive.Extract(a.fs, a.ArchivePath(p), root)
	if err != nil {
		return "", fmt.Errorf("failed to install %s: %w", p.Name, err)
	}
	for _, name := range res.Skipped {
		log.Warn("skipped unsafe archive entry", slog.String("entry", name))
	}
	log.Info("package extracted", slog.String("folder", res.Folder), slog.Int("files", res.Files))

	if p.Kind == mods.KindLoader {
		if err := a.installLoader(ctx, res.Folder, log); err != nil {
			return res.Folder, err
		}
	}
	return res.Folder, nil
}

func (a *Activator) installLoader(ctx context.Context, folder string, log *slog.Logger) error {
	pkgDir := filepath.Join(a.gameDir, folder)

	if a.loader.Bundle != "" {
		bundle := filepath.Join(pkgDir, a.loader.Bundle)
		res, err := archive.Extract(a.fs, bundle, a.gameDir)
		if err != nil {
			return fmt.Errorf("failed to unpack loader bundle: %w", err)
		}
		log.Info("loader bundle unpacked", slog.Int("files", res.Files))
	}

	if err := a.copyDeps(); err != nil {
		log.Warn("failed to duplicate dependency manifest", slog.Any("error", err))
	}

	if a.loader.RunInstaller && a.loader.Installer != "" {
		exe := filepath.Join(pkgDir, a.loader.Installer)
		_ = a.fs.Chmod(exe, 0o755)
		if err := a.runner.Run(ctx, exe, filepath.Dir(exe), a.script(a.loader.InstallScript)); err != nil {
			return fmt.Errorf("loader installer failed: %w", err)
		}
		log.Info("loader installer finished")
	}
	return nil
}

func (a *Activator) copyDeps() error {
	if a.loader.DepsSource == "" || a.loader.DepsTarget == "" {
		return nil
	}
	src, err := a.fs.Open(filepath.Join(a.gameDir, a.loader.DepsSource))
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := a.fs.OpenFile(filepath.Join(a.gameDir, a.loader.DepsTarget), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Uninstall removes the package's installed files. Every failure is collected
// and returned; removal continues past individual errors.
func (a *Activator) Uninstall(ctx context.Context, p *mods.Package) error {
	if a.gameDir == "" {
		return config.ErrNoGameDir
	}
	if p.Folder == "" || filepath.Clean(p.Folder) == "." {
		return fmt.Errorf("%w: %s", ErrNoFolder, p.Key())
	}

	root := a.InstallRoot(p)
	target := filepath.Join(root, p.Folder)
	if !filepath.IsLocal(p.Folder) {
		return fmt.Errorf("refusing to remove %s outside %s", target, root)
	}

	var errs []error
	if p.Kind == mods.KindLoader {
		errs = append(errs, a.uninstallLoader(ctx, target)...)
	}
	if err := a.fs.RemoveAll(target); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove %s: %w", target, err))
	}
	return errors.Join(errs...)
}

func (a *Activator) uninstallLoader(ctx context.Context, pkgDir string) []error {
	var errs []error

	if a.loader.RunInstaller && a.loader.Installer != "" {
		exe := filepath.Join(pkgDir, a.loader.Installer)
		if ok, _ := afero.Exists(a.fs, exe); ok {
			_ = a.fs.Chmod(exe, 0o755)
			if err := a.runner.Run(ctx, exe, filepath.Dir(exe), a.script(a.loader.UninstallScript)); err != nil {
				errs = append(errs, fmt.Errorf("loader uninstaller failed: %w", err))
			}
		}
	}

	if a.loader.Bundle != "" {
		bundle := filepath.Join(pkgDir, a.loader.Bundle)
		if ok, _ := afero.Exists(a.fs, bundle); ok {
			errs = append(errs, a.removeBundleEntries(bundle)...)
		}
	}

	if a.loader.DepsTarget != "" {
		err := a.fs.Remove(filepath.Join(a.gameDir, a.loader.DepsTarget))
		if err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove dependency manifest: %w", err))
		}
	}
	return errs
}

// removeBundleEntries deletes every bundle entry from the game root, leaving
// the mods subdirectory alone.
func (a *Activator) removeBundleEntries(bundle string) []error {
	entries, err := archive.ListEntries(a.fs, bundle)
	if err != nil {
		return []error{fmt.Errorf("failed to list loader bundle: %w", err)}
	}

	var errs []error
	for _, e := range entries {
		if !filepath.IsLocal(filepath.FromSlash(e.Name)) || a.underMods(e.Name) {
			continue
		}
		path := filepath.Join(a.gameDir, filepath.FromSlash(e.Name))
		if err := a.fs.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return errs
}

func (a *Activator) underMods(name string) bool {
	if a.modsSubdir == "" {
		return false
	}
	first, _, _ := strings.Cut(name, "/")
	return strings.EqualFold(first, a.modsSubdir)
}

// RemoveArchive deletes the package's stored archive.
func (a *Activator) RemoveArchive(p *mods.Package) error {
	if p.Archive == "" {
		return nil
	}
	if err := a.fs.Remove(a.ArchivePath(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove archive %s: %w", p.Archive, err)
	}
	return nil
}

func (a *Activator) script(s string) string {
	return strings.ReplaceAll(s, "{game_dir}", a.gameDir)
}
