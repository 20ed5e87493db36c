package mods

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotComplete is returned when dismissing a download that is still running.
var ErrNotComplete = errors.New("download is not complete")

// Download is a registry entry keyed by archive file name.
type Download struct {
	FileName   string
	Downloaded int64
	Total      int64
	PackageID  uint64
	FileID     uint64
	Saved      bool // metadata resolved into a package record
	Resolving  bool // a resolution attempt is in flight
	Attempts   int  // failed resolution attempts
}

// Complete reports whether every byte has been received.
func (d Download) Complete() bool {
	return d.Total > 0 && d.Downloaded == d.Total
}

// Percent returns the completion percentage in the range 0-100.
func (d Download) Percent() int {
	if d.Total <= 0 {
		return 0
	}
	return int(d.Downloaded * 100 / d.Total)
}

// Registry tracks in-flight and completed downloads by archive file name.
type Registry struct {
	entries map[string]*Download
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Download)}
}

// Apply records a progress report. The first report for a file creates the
// entry; later reports are applied only when they carry strictly more bytes,
// so the recorded byte count never decreases. Apply reports whether the entry
// changed.
func (r *Registry) Apply(p Progress) bool {
	d, ok := r.entries[p.FileName]
	if !ok {
		r.entries[p.FileName] = &Download{
			FileName:   p.FileName,
			Downloaded: p.Downloaded,
			Total:      p.Total,
			PackageID:  p.PackageID,
			FileID:     p.FileID,
		}
		return true
	}
	if p.Downloaded <= d.Downloaded {
		return false
	}
	d.Downloaded = p.Downloaded
	d.Total = p.Total
	d.PackageID = p.PackageID
	d.FileID = p.FileID
	d.Saved = false
	return true
}

// Get returns a copy of the entry for the file name.
func (r *Registry) Get(name string) (Download, bool) {
	d, ok := r.entries[name]
	if !ok {
		return Download{}, false
	}
	return *d, true
}

// Pending returns the names of complete entries that still need metadata
// resolution and have no attempt in flight, skipping entries that already
// failed maxAttempts times.
func (r *Registry) Pending(maxAttempts int) []string {
	var names []string
	for name, d := range r.entries {
		if !d.Complete() || d.Saved || d.Resolving {
			continue
		}
		if maxAttempts > 0 && d.Attempts >= maxAttempts {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeginResolve marks a resolution attempt as in flight.
func (r *Registry) BeginResolve(name string) {
	if d, ok := r.entries[name]; ok {
		d.Resolving = true
	}
}

// MarkSaved records a successful (or deliberately skipped) resolution.
func (r *Registry) MarkSaved(name string) {
	if d, ok := r.entries[name]; ok {
		d.Saved = true
		d.Resolving = false
	}
}

// MarkFailed records a failed resolution attempt. The entry stays unresolved.
func (r *Registry) MarkFailed(name string) {
	if d, ok := r.entries[name]; ok {
		d.Resolving = false
		d.Attempts++
	}
}

// Dismiss removes a completed entry.
func (r *Registry) Dismiss(name string) error {
	d, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("download %q not found", name)
	}
	if !d.Complete() {
		return fmt.Errorf("%w: %s", ErrNotComplete, name)
	}
	delete(r.entries, name)
	return nil
}

// Forget removes an entry whatever its state. The caller must know that no
// download is still writing to it.
func (r *Registry) Forget(name string) bool {
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return true
}

// Snapshot returns copies of all entries sorted by file name.
func (r *Registry) Snapshot() []Download {
	out := make([]Download, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FileName < out[j].FileName
	})
	return out
}

// Len returns the number of tracked downloads.
func (r *Registry) Len() int {
	return len(r.entries)
}
