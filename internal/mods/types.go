// Package mods holds the in-memory model of installed packages and in-flight
// downloads: package records, the inactive/active collections and the download
// registry. None of these types are safe for concurrent use; they are owned by
// the manager's consumer loop.
package mods

import "fmt"

// Kind distinguishes packages that need bespoke install handling.
type Kind int

const (
	// KindGeneric packages are extracted into the game's mods subdirectory.
	KindGeneric Kind = iota
	// KindLoader is the mod loader dependency. It installs at the game root and
	// is driven through its own installer executable.
	KindLoader
)

// String returns the kind name used in logs and the database.
func (k Kind) String() string {
	switch k {
	case KindLoader:
		return "loader"
	default:
		return "generic"
	}
}

// KindFor resolves the kind of a package once, at record construction time.
func KindFor(id, loaderID uint64) Kind {
	if loaderID != 0 && id == loaderID {
		return KindLoader
	}
	return KindGeneric
}

// State is the activation state of a package record.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
)

// Package is an installed (downloaded) package record.
type Package struct {
	Name    string
	Archive string // archive file name inside the download directory
	Folder  string // installed folder name, empty until first activation
	Version string
	Author  string
	Link    string // detail page URL
	ID      uint64
	FileID  uint64
	Kind    Kind
}

// Key returns the de-duplication identity of the record.
func (p *Package) Key() Key {
	return Key{ID: p.ID, Version: p.Version}
}

// Clone returns a copy of the record.
func (p *Package) Clone() *Package {
	c := *p
	return &c
}

// Key identifies a package record: package ID plus resolved version.
type Key struct {
	ID      uint64
	Version string
}

func (k Key) String() string {
	return fmt.Sprintf("%d@%s", k.ID, k.Version)
}

// Progress is a single progress report emitted by the download engine.
type Progress struct {
	FileName   string
	Downloaded int64
	Total      int64
	PackageID  uint64
	FileID     uint64
}

// Complete reports whether the progress marks a finished download.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Downloaded == p.Total
}
