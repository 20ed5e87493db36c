package mods

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("package not found")
	// ErrAmbiguous is returned when several versions match and none was given.
	ErrAmbiguous = errors.New("several versions installed, specify one")
	// ErrAlreadyActive is returned when a package with the same ID is active.
	ErrAlreadyActive = errors.New("package is already active")
	// ErrWrongState is returned when a transition starts from the wrong collection.
	ErrWrongState = errors.New("package is not in the expected state")
)

// Collections holds the two disjoint ordered sequences of package records.
// A record key never appears in both collections.
type Collections struct {
	Inactive []*Package
	Active   []*Package
}

// NewCollections returns empty collections.
func NewCollections() *Collections {
	return &Collections{}
}

// Contains reports whether a record with the given ID and version exists in
// either collection.
func (c *Collections) Contains(id uint64, version string) bool {
	key := Key{ID: id, Version: version}
	return indexOf(c.Inactive, key) >= 0 || indexOf(c.Active, key) >= 0
}

// ActiveHas reports whether any version of the package is active.
func (c *Collections) ActiveHas(id uint64) bool {
	for _, p := range c.Active {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Select finds a record by package ID and, optionally, version. With an empty
// version it succeeds only when exactly one record carries the ID.
func (c *Collections) Select(id uint64, version string) (*Package, State, error) {
	var (
		found *Package
		state State
		count int
	)
	for _, group := range []struct {
		state State
		pkgs  []*Package
	}{{StateInactive, c.Inactive}, {StateActive, c.Active}} {
		for _, p := range group.pkgs {
			if p.ID != id || (version != "" && p.Version != version) {
				continue
			}
			found, state = p, group.state
			count++
		}
	}

	switch {
	case count == 0:
		if version != "" {
			return nil, "", fmt.Errorf("%w: %d@%s", ErrNotFound, id, version)
		}
		return nil, "", fmt.Errorf("%w: %d", ErrNotFound, id)
	case count > 1:
		return nil, "", fmt.Errorf("%w: %d", ErrAmbiguous, id)
	}
	return found, state, nil
}

// AddInactive appends a record to the inactive collection unless a record with
// the same key already exists in either collection. It reports whether the
// record was added.
func (c *Collections) AddInactive(p *Package) bool {
	if c.Contains(p.ID, p.Version) {
		return false
	}
	c.Inactive = append(c.Inactive, p)
	return true
}

// AddActive appends a record directly to the active collection. It is used when
// loading persisted state and follows the same uniqueness rules as activation.
func (c *Collections) AddActive(p *Package) error {
	if c.Contains(p.ID, p.Version) {
		return fmt.Errorf("duplicate record %s", p.Key())
	}
	if c.ActiveHas(p.ID) {
		return fmt.Errorf("%w: %d", ErrAlreadyActive, p.ID)
	}
	c.Active = append(c.Active, p)
	return nil
}

// MoveToActive moves an inactive record to the end of the active collection.
func (c *Collections) MoveToActive(key Key) error {
	i := indexOf(c.Inactive, key)
	if i < 0 {
		return fmt.Errorf("%w: %s is not inactive", ErrWrongState, key)
	}
	if c.ActiveHas(key.ID) {
		return fmt.Errorf("%w: %d", ErrAlreadyActive, key.ID)
	}
	p := c.Inactive[i]
	c.Inactive = removeAt(c.Inactive, i)
	c.Active = append(c.Active, p)
	return nil
}

// MoveToInactive moves an active record to the end of the inactive collection.
func (c *Collections) MoveToInactive(key Key) error {
	i := indexOf(c.Active, key)
	if i < 0 {
		return fmt.Errorf("%w: %s is not active", ErrWrongState, key)
	}
	p := c.Active[i]
	c.Active = removeAt(c.Active, i)
	c.Inactive = append(c.Inactive, p)
	return nil
}

// Remove deletes the record from whichever collection holds it.
func (c *Collections) Remove(key Key) (*Package, State, bool) {
	if i := indexOf(c.Inactive, key); i >= 0 {
		p := c.Inactive[i]
		c.Inactive = removeAt(c.Inactive, i)
		return p, StateInactive, true
	}
	if i := indexOf(c.Active, key); i >= 0 {
		p := c.Active[i]
		c.Active = removeAt(c.Active, i)
		return p, StateActive, true
	}
	return nil, "", false
}

// Clone returns a deep copy, safe to hand to other goroutines.
func (c *Collections) Clone() *Collections {
	out := &Collections{
		Inactive: make([]*Package, 0, len(c.Inactive)),
		Active:   make([]*Package, 0, len(c.Active)),
	}
	for _, p := range c.Inactive {
		out.Inactive = append(out.Inactive, p.Clone())
	}
	for _, p := range c.Active {
		out.Active = append(out.Active, p.Clone())
	}
	return out
}

// ArchiveInUse reports whether any record references the archive file.
func (c *Collections) ArchiveInUse(name string) bool {
	for _, p := range c.Inactive {
		if p.Archive == name {
			return true
		}
	}
	for _, p := range c.Active {
		if p.Archive == name {
			return true
		}
	}
	return false
}

func indexOf(pkgs []*Package, key Key) int {
	for i, p := range pkgs {
		if p.ID == key.ID && p.Version == key.Version {
			return i
		}
	}
	return -1
}

func removeAt(pkgs []*Package, i int) []*Package {
	out := make([]*Package, 0, len(pkgs)-1)
	out = append(out, pkgs[:i]...)
	return append(out, pkgs[i+1:]...)
}
