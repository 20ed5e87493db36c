package store

import (
	"fmt"

	"github.com/blackwell-systems/modsync/internal/mods"
)

// LoadCollections reads both package collections in their saved order.
func (s *Store) LoadCollections() (*mods.Collections, error) {
	query := `
		SELECT package_id, version, file_id, state, kind, name, archive, folder, author, link
		FROM packages
		ORDER BY state, position
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, wrap(err, "failed to load packages")
	}
	defer rows.Close()

	cols := mods.NewCollections()
	for rows.Next() {
		var (
			p     mods.Package
			state string
			kind  string
		)
		err := rows.Scan(
			&p.ID,
			&p.Version,
			&p.FileID,
			&state,
			&kind,
			&p.Name,
			&p.Archive,
			&p.Folder,
			&p.Author,
			&p.Link,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		if kind == mods.KindLoader.String() {
			p.Kind = mods.KindLoader
		}

		switch mods.State(state) {
		case mods.StateActive:
			if err := cols.AddActive(&p); err != nil {
				return nil, fmt.Errorf("failed to load package %s: %w", p.Key(), err)
			}
		default:
			cols.AddInactive(&p)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}

	return cols, nil
}

// SaveCollections replaces every stored package with the given collections in
// a single transaction.
func (s *Store) SaveCollections(cols *mods.Collections) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM packages`); err != nil {
		return wrap(err, "failed to clear packages")
	}

	stmt, err := tx.Prepare(`
		INSERT INTO packages
		(package_id, version, file_id, state, position, kind, name, archive, folder, author, link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	groups := []struct {
		state mods.State
		pkgs  []*mods.Package
	}{
		{mods.StateInactive, cols.Inactive},
		{mods.StateActive, cols.Active},
	}
	for _, g := range groups {
		for i, p := range g.pkgs {
			_, err := stmt.Exec(
				p.ID,
				p.Version,
				p.FileID,
				string(g.state),
				i,
				p.Kind.String(),
				p.Name,
				p.Archive,
				p.Folder,
				p.Author,
				p.Link,
			)
			if err != nil {
				return fmt.Errorf("failed to save package %s: %w", p.Key(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit packages: %w", err)
	}
	return nil
}
