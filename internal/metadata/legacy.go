package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blackwell-systems/modsync/internal/mods"
)

// LegacyRecord is a package record as exported by older releases. Those wrote
// the package ID as "id" and no file ID; newer exports use "mod_id" and
// "file_id".
type LegacyRecord struct {
	Name    string `json:"name"`
	Archive string `json:"zip_name"`
	Folder  string `json:"folder_name"`
	Version string `json:"version"`
	Author  string `json:"author"`
	Link    string `json:"link"`
	ID      uint64 `json:"id"`
	ModID   uint64 `json:"mod_id"`
	FileID  uint64 `json:"file_id"`
}

// PackageID returns whichever ID field the record carries.
func (l LegacyRecord) PackageID() uint64 {
	if l.ModID != 0 {
		return l.ModID
	}
	return l.ID
}

// LegacyState is an exported pair of collections.
type LegacyState struct {
	Inactive []LegacyRecord `json:"inactive_mods"`
	Active   []LegacyRecord `json:"active_mods"`
}

// ParseLegacy decodes an export file.
func ParseLegacy(r io.Reader) (*LegacyState, error) {
	var st LegacyState
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode legacy export: %w", err)
	}
	return &st, nil
}

// Migrate converts legacy records into package records. Records without a
// file ID get one by matching (file name, version) against the package's file
// list. Records whose lookup fails are still returned with FileID 0; the
// lookup failures are returned joined.
func (r *Resolver) Migrate(ctx context.Context, legacy []LegacyRecord) ([]*mods.Package, error) {
	out := make([]*mods.Package, 0, len(legacy))
	var errs []error

	for _, l := range legacy {
		id := l.PackageID()
		p := &mods.Package{
			Name:    l.Name,
			Archive: l.Archive,
			Folder:  l.Folder,
			Version: l.Version,
			Author:  l.Author,
			Link:    l.Link,
			ID:      id,
			FileID:  l.FileID,
			Kind:    mods.KindFor(id, r.loaderID),
		}
		if p.Version == "" {
			p.Version = DefaultVersion
		}
		if p.Link == "" && id != 0 {
			p.Link = r.Link(id)
		}

		if p.FileID == 0 && id != 0 {
			fileID, err := r.lookupFileID(ctx, id, l.Archive, p.Version)
			if err != nil {
				r.log.Warn("file id lookup failed", slog.Uint64("package", id), slog.Any("error", err))
				errs = append(errs, err)
			}
			p.FileID = fileID
		}
		out = append(out, p)
	}

	return out, errors.Join(errs...)
}

func (r *Resolver) lookupFileID(ctx context.Context, id uint64, archive, version string) (uint64, error) {
	files, err := r.api.Files(ctx, r.game, id)
	if err != nil {
		return 0, fmt.Errorf("failed to list files of package %d: %w", id, err)
	}
	for _, f := range files {
		if f.FileName == nil || f.Version == nil {
			continue
		}
		if *f.FileName == archive && *f.Version == version {
			return f.FileID, nil
		}
	}
	r.log.Info("no matching file for legacy record", slog.Uint64("package", id), slog.String("archive", archive))
	return 0, nil
}
