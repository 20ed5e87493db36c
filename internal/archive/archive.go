// Package archive extracts package archives (zip) into an install root and
// enumerates their entries.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrEmptyArchive is returned when an archive has no entries.
var ErrEmptyArchive = errors.New("archive has no entries")

// Entry is one archive member.
type Entry struct {
	Name  string // slash separated, normalised
	IsDir bool
}

// Result describes a completed extraction.
type Result struct {
	Folder  string   // installed folder name derived from the first entry
	Files   int      // regular files written
	Skipped []string // entries refused because they escape the destination
}

// Extract unpacks archivePath into destDir and returns the installed folder
// name. The folder is the first entry's name when that entry is a directory,
// otherwise the first entry's parent directory. Entries that are not local
// paths are skipped and reported in Result.Skipped.
func Extract(fs afero.Fs, archivePath, destDir string) (*Result, error) {
	zr, closer, err := open(fs, archivePath)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if len(zr.File) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, archivePath)
	}

	res := &Result{Folder: folderName(zr.File[0].Name)}

	for _, f := range zr.File {
		name := normalize(f.Name)
		if !filepath.IsLocal(filepath.FromSlash(strings.TrimSuffix(name, "/"))) {
			res.Skipped = append(res.Skipped, f.Name)
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))

		if isDir(name) {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return res, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}

		if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return res, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
		}
		if err := writeEntry(fs, f, target); err != nil {
			return res, err
		}
		res.Files++
	}

	return res, nil
}

// ListEntries enumerates the archive without extracting anything.
func ListEntries(fs afero.Fs, archivePath string) ([]Entry, error) {
	zr, closer, err := open(fs, archivePath)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		name := normalize(f.Name)
		entries = append(entries, Entry{Name: strings.TrimSuffix(name, "/"), IsDir: isDir(name)})
	}
	return entries, nil
}

func open(fs afero.Fs, archivePath string) (*zip.Reader, io.Closer, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat archive %s: %w", archivePath, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	// Unsafe names are filtered per entry.
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read archive %s: %w", archivePath, err)
	}
	return zr, f, nil
}

func writeEntry(fs afero.Fs, f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}

func folderName(first string) string {
	name := normalize(first)
	if isDir(name) {
		return strings.TrimSuffix(name, "/")
	}
	dir := path.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}

func normalize(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

func isDir(name string) bool {
	return strings.HasSuffix(name, "/")
}
