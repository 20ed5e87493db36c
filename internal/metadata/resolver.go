// Package metadata turns completed downloads into package records using the
// remote API, and converts records exported by older releases.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/nexus"
)

// MaxAttempts bounds how often a failed resolution is retried.
const MaxAttempts = 3

// DefaultVersion is used when the file details carry no version.
const DefaultVersion = "0"

// ErrUnknownPackage is returned when a download carries no package ID.
var ErrUnknownPackage = errors.New("download has no package id")

// API is the subset of the remote client the resolver needs.
type API interface {
	Mod(ctx context.Context, game string, id uint64) (*nexus.ModDetails, error)
	File(ctx context.Context, game string, id, fileID uint64) (*nexus.FileDetails, error)
	Files(ctx context.Context, game string, id uint64) ([]nexus.FileDetails, error)
}

// Resolver builds package records from remote metadata.
type Resolver struct {
	api      API
	game     string
	site     string
	loaderID uint64
	log      *slog.Logger
}

// New creates a Resolver. site is the base of detail page links.
func New(api API, game, site string, loaderID uint64, log *slog.Logger) *Resolver {
	return &Resolver{
		api:      api,
		game:     game,
		site:     strings.TrimRight(site, "/"),
		loaderID: loaderID,
		log:      log.With(slog.String("component", "metadata")),
	}
}

// Link returns the detail page URL of a package.
func (r *Resolver) Link(id uint64) string {
	return fmt.Sprintf("%s/%s/mods/%d", r.site, r.game, id)
}

// Resolve fetches package details then file details and returns a new
// inactive record for the downloaded archive. It does not de-duplicate.
func (r *Resolver) Resolve(ctx context.Context, fileName string, entry mods.Download) (*mods.Package, error) {
	if entry.PackageID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, fileName)
	}

	mod, err := r.api.Mod(ctx, r.game, entry.PackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package %d: %w", entry.PackageID, err)
	}
	file, err := r.api.File(ctx, r.game, entry.PackageID, entry.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file %d of package %d: %w", entry.FileID, entry.PackageID, err)
	}

	version := DefaultVersion
	if file.Version != nil && *file.Version != "" {
		version = *file.Version
	}

	p := &mods.Package{
		Name:    mod.Name,
		Archive: fileName,
		Version: version,
		Author:  mod.Author,
		Link:    r.Link(entry.PackageID),
		ID:      entry.PackageID,
		FileID:  entry.FileID,
		Kind:    mods.KindFor(entry.PackageID, r.loaderID),
	}
	r.log.Debug("metadata resolved", slog.String("file", fileName), slog.String("package", p.Key().String()))
	return p, nil
}
