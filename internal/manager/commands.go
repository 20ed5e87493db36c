package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackwell-systems/modsync/internal/metadata"
	"github.com/blackwell-systems/modsync/internal/mods"
)

// transition is a record checked out of the loop for filesystem work.
type transition struct {
	key   mods.Key
	pkg   *mods.Package
	state mods.State
	// shared is true when another record references the same archive.
	shared bool
}

// checkout selects a record and marks it busy. It must run on the loop.
func (m *Manager) checkout(id uint64, version string) (*transition, error) {
	p, state, err := m.cols.Select(id, version)
	if err != nil {
		return nil, err
	}
	key := p.Key()
	if m.busy[key] {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	shared := false
	for _, group := range [][]*mods.Package{m.cols.Inactive, m.cols.Active} {
		for _, other := range group {
			if other.Key() != key && other.Archive == p.Archive {
				shared = true
			}
		}
	}
	m.busy[key] = true
	m.workers.Add(1)
	return &transition{key: key, pkg: p.Clone(), state: state, shared: shared}, nil
}

// checkin applies fn on the loop and releases the record.
func (m *Manager) checkin(ctx context.Context, t *transition, fn func() error) error {
	defer m.workers.Done()
	return m.call(context.WithoutCancel(ctx), func() error {
		delete(m.busy, t.key)
		return fn()
	})
}

// Activate installs an inactive record and moves it to the active
// collection. On install failure the record stays inactive.
func (m *Manager) Activate(ctx context.Context, id uint64, version string) error {
	if m.installer == nil {
		return errors.New("activation is not available")
	}
	var t *transition
	err := m.call(ctx, func() error {
		p, state, err := m.cols.Select(id, version)
		if err != nil {
			return err
		}
		if state == mods.StateActive {
			return fmt.Errorf("%w: %s", mods.ErrAlreadyActive, p.Key())
		}
		if m.cols.ActiveHas(id) {
			return fmt.Errorf("%w: another version of %d is active", mods.ErrAlreadyActive, id)
		}
		t, err = m.checkout(id, p.Version)
		return err
	})
	if err != nil {
		return err
	}

	log := m.log.With(slog.String("package", t.key.String()), slog.String("name", t.pkg.Name))
	folder, ierr := m.installer.Install(ctx, t.pkg)

	return m.checkin(ctx, t, func() error {
		if ierr != nil {
			log.Error("activation failed", slog.Any("error", ierr))
			return fmt.Errorf("failed to activate %s: %w", t.pkg.Name, ierr)
		}
		p, _, err := m.cols.Select(t.key.ID, t.key.Version)
		if err != nil {
			return err
		}
		if err := m.cols.MoveToActive(t.key); err != nil {
			return err
		}
		p.Folder = folder
		m.save()
		log.Info("package activated", slog.String("folder", folder))
		return nil
	})
}

// Deactivate removes an active record's installed files and moves it to the
// inactive collection. Removal failures are logged; the record becomes
// inactive regardless.
func (m *Manager) Deactivate(ctx context.Context, id uint64, version string) error {
	if m.installer == nil {
		return errors.New("activation is not available")
	}
	var t *transition
	err := m.call(ctx, func() error {
		p, state, err := m.cols.Select(id, version)
		if err != nil {
			return err
		}
		if state != mods.StateActive {
			return fmt.Errorf("%w: %s is not active", mods.ErrWrongState, p.Key())
		}
		t, err = m.checkout(id, p.Version)
		return err
	})
	if err != nil {
		return err
	}

	log := m.log.With(slog.String("package", t.key.String()), slog.String("name", t.pkg.Name))
	uerr := m.installer.Uninstall(ctx, t.pkg)

	return m.checkin(ctx, t, func() error {
		if uerr != nil {
			log.Warn("removal incomplete", slog.Any("error", uerr))
		}
		if err := m.cols.MoveToInactive(t.key); err != nil {
			return err
		}
		m.save()
		log.Info("package deactivated")
		return nil
	})
}

// Delete deactivates the record when needed, forgets it and removes its
// archive unless another record still uses it.
func (m *Manager) Delete(ctx context.Context, id uint64, version string) error {
	var t *transition
	err := m.call(ctx, func() error {
		var err error
		t, err = m.checkout(id, version)
		return err
	})
	if err != nil {
		return err
	}

	log := m.log.With(slog.String("package", t.key.String()), slog.String("name", t.pkg.Name))
	if m.installer != nil {
		if t.state == mods.StateActive {
			if err := m.installer.Uninstall(ctx, t.pkg); err != nil {
				log.Warn("removal incomplete", slog.Any("error", err))
			}
		}
		if !t.shared {
			if err := m.installer.RemoveArchive(t.pkg); err != nil {
				log.Warn("failed to remove archive", slog.Any("error", err))
			}
		}
	}

	return m.checkin(ctx, t, func() error {
		if _, _, ok := m.cols.Remove(t.key); !ok {
			return fmt.Errorf("%w: %s", mods.ErrNotFound, t.key)
		}
		m.save()
		log.Info("package deleted")
		return nil
	})
}

// Dismiss forgets a download entry. Incomplete entries are only dismissed
// while no download job is running, which covers transfers that ended early.
func (m *Manager) Dismiss(ctx context.Context, fileName string) error {
	return m.call(ctx, func() error {
		if d, ok := m.reg.Get(fileName); ok && !d.Complete() && m.jobs == 0 {
			m.reg.Forget(fileName)
			m.log.Info("incomplete download dismissed", slog.String("file", fileName))
			return nil
		}
		return m.reg.Dismiss(fileName)
	})
}

// Snapshot returns copies of the collections and the registry. After Run has
// returned it reads the final state directly.
func (m *Manager) Snapshot(ctx context.Context) (*mods.Collections, []mods.Download, error) {
	var (
		cols      *mods.Collections
		downloads []mods.Download
	)
	err := m.call(ctx, func() error {
		cols = m.cols.Clone()
		downloads = m.reg.Snapshot()
		return nil
	})
	if errors.Is(err, ErrStopped) {
		return m.cols.Clone(), m.reg.Snapshot(), nil
	}
	return cols, downloads, err
}

// Import adds records from a legacy export. Records already present are
// skipped, as are active records whose package already has an active version.
// It returns the number of records added and any file-id lookup failures.
func (m *Manager) Import(ctx context.Context, st *metadata.LegacyState) (int, error) {
	if m.resolver == nil {
		return 0, errors.New("import is not available")
	}
	inactive, ierr := m.resolver.Migrate(ctx, st.Inactive)
	active, aerr := m.resolver.Migrate(ctx, st.Active)

	added := 0
	err := m.call(ctx, func() error {
		for _, p := range inactive {
			if m.cols.AddInactive(p) {
				added++
			}
		}
		for _, p := range active {
			if err := m.cols.AddActive(p); err != nil {
				m.log.Warn("skipped imported record", slog.String("package", p.Key().String()), slog.Any("error", err))
				continue
			}
			added++
		}
		if added > 0 {
			m.save()
		}
		return nil
	})
	if err != nil {
		return added, err
	}
	m.log.Info("import finished", slog.Int("added", added))
	return added, errors.Join(ierr, aerr)
}
