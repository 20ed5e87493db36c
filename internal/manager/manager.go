// Package manager runs the single-writer loop that owns the package
// collections and the download registry. Progress reports, metadata
// resolution results, activation results and user commands are all applied on
// the goroutine running Run; slow work (network, filesystem, installers) runs
// elsewhere and posts its result back as a closure.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackwell-systems/modsync/internal/metadata"
	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/nxm"
	"github.com/blackwell-systems/modsync/internal/store"
	"github.com/blackwell-systems/modsync/internal/watcher"
)

// DefaultPollInterval is how often pending downloads are checked for
// metadata resolution.
const DefaultPollInterval = 250 * time.Millisecond

var (
	// ErrBusy is returned when a transition of the same record is in flight.
	ErrBusy = errors.New("package is busy")
	// ErrStopped is returned when the loop is no longer running.
	ErrStopped = errors.New("manager stopped")
	// ErrNoAPIKey is returned for downloads received without an API key.
	ErrNoAPIKey = errors.New("no API key configured, token kept for the next start")
)

// Downloader runs download jobs. *download.Engine satisfies it.
type Downloader interface {
	Progress() <-chan mods.Progress
	Submit(ctx context.Context, raw string, done func(error))
}

// Resolver turns completed downloads and legacy exports into package
// records. *metadata.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, fileName string, entry mods.Download) (*mods.Package, error)
	Migrate(ctx context.Context, legacy []metadata.LegacyRecord) ([]*mods.Package, error)
}

// Installer performs the filesystem side of transitions.
// *activation.Activator satisfies it.
type Installer interface {
	Install(ctx context.Context, p *mods.Package) (string, error)
	Uninstall(ctx context.Context, p *mods.Package) error
	RemoveArchive(p *mods.Package) error
}

// Deps are the collaborators of a Manager. Downloads, Resolver and Events
// may be nil for offline use.
type Deps struct {
	Store        *store.Store
	Downloads    Downloader
	Resolver     Resolver
	Installer    Installer
	Events       <-chan watcher.Event
	CanDownload  func() bool
	PollInterval time.Duration
	// OnProgress, when set, is called on the loop after a report changed the
	// registry.
	OnProgress func(mods.Download)
}

// Manager owns the package collections and the download registry.
type Manager struct {
	cols *mods.Collections
	reg  *mods.Registry
	busy map[mods.Key]bool

	store       *store.Store
	dl          Downloader
	resolver    Resolver
	installer   Installer
	events      <-chan watcher.Event
	canDownload func() bool
	onProgress  func(mods.Download)
	poll        time.Duration
	log         *slog.Logger
	jobs        int // submitted downloads that have not reported done

	posts   chan func()
	done    chan struct{}
	workers sync.WaitGroup
}

// New creates a manager over previously loaded collections.
func New(cols *mods.Collections, deps Deps, log *slog.Logger) *Manager {
	if cols == nil {
		cols = mods.NewCollections()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	if deps.CanDownload == nil {
		deps.CanDownload = func() bool { return true }
	}
	return &Manager{
		cols:        cols,
		reg:         mods.NewRegistry(),
		busy:        make(map[mods.Key]bool),
		store:       deps.Store,
		dl:          deps.Downloads,
		resolver:    deps.Resolver,
		installer:   deps.Installer,
		events:      deps.Events,
		canDownload: deps.CanDownload,
		onProgress:  deps.OnProgress,
		poll:        deps.PollInterval,
		log:         log.With(slog.String("component", "manager")),
		posts:       make(chan func()),
		done:        make(chan struct{}),
	}
}

// Run applies events until ctx is cancelled, then waits for in-flight work
// and saves the collections.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	var progress <-chan mods.Progress
	if m.dl != nil {
		progress = m.dl.Progress()
	}
	events := m.events

	m.log.Info("manager started", slog.Int("inactive", len(m.cols.Inactive)), slog.Int("active", len(m.cols.Active)))

	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.save()
			m.log.Info("manager stopped")
			return nil
		case p := <-progress:
			m.applyProgress(p)
		case fn := <-m.posts:
			fn()
		case <-ticker.C:
			m.resolvePending(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleEvent(ev)
		}
	}
}

// drain keeps applying posted results until every worker has returned.
func (m *Manager) drain() {
	idle := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(idle)
	}()
	for {
		select {
		case fn := <-m.posts:
			fn()
		case <-idle:
			return
		}
	}
}

// post hands fn to the loop. It reports false when the loop has exited.
func (m *Manager) post(ctx context.Context, fn func()) bool {
	select {
	case m.posts <- fn:
		return true
	case <-m.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (m *Manager) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !m.post(ctx, func() { result <- fn() }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStopped
	}
	return <-result
}

// HandleToken is the IPC entry point. Download tokens are remembered as the
// last token and submitted to the engine; control tokens run the matching
// command.
func (m *Manager) HandleToken(ctx context.Context, raw string) {
	log := m.log.With(slog.String("token", raw))

	if nxm.IsControl(raw) {
		c, err := nxm.ParseControl(raw)
		if err != nil {
			log.Warn("invalid control token", slog.Any("error", err))
			return
		}
		if err := m.Control(ctx, c); err != nil {
			log.Warn("command failed", slog.String("verb", string(c.Verb)), slog.Any("error", err))
		}
		return
	}

	if err := m.Download(ctx, raw); err != nil {
		log.Warn("download not started", slog.Any("error", err))
	}
}

// Control runs a parsed control command.
func (m *Manager) Control(ctx context.Context, c nxm.Control) error {
	switch c.Verb {
	case nxm.VerbActivate:
		return m.Activate(ctx, c.PackageID, c.Version)
	case nxm.VerbDeactivate:
		return m.Deactivate(ctx, c.PackageID, c.Version)
	case nxm.VerbDelete:
		return m.Delete(ctx, c.PackageID, c.Version)
	case nxm.VerbDismiss:
		return m.Dismiss(ctx, c.File)
	}
	return fmt.Errorf("unknown command %q", c.Verb)
}

// Download records raw as the last token and submits it. Without an API key
// the token is only recorded.
func (m *Manager) Download(ctx context.Context, raw string) error {
	if _, err := nxm.Parse(raw); err != nil {
		return err
	}
	return m.call(ctx, func() error {
		m.setSetting(store.SettingLastToken, raw)
		if !m.canDownload() {
			return ErrNoAPIKey
		}
		if m.dl == nil {
			return errors.New("downloads are not available")
		}
		m.submit(ctx, raw)
		return nil
	})
}

// Resume resubmits the last token persisted by a previous run, once.
func (m *Manager) Resume(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	raw, ok, err := m.store.GetSetting(store.SettingLastToken)
	if err != nil || !ok || raw == "" {
		return err
	}
	m.log.Info("resuming last download", slog.String("token", raw))
	return m.call(ctx, func() error {
		if !m.canDownload() {
			return ErrNoAPIKey
		}
		if m.dl == nil {
			return nil
		}
		m.deleteSetting(store.SettingLastToken)
		m.submit(ctx, raw)
		return nil
	})
}

// submit must run on the loop. A successful job clears the last token when it
// still refers to this job.
func (m *Manager) submit(ctx context.Context, raw string) {
	m.jobs++
	m.dl.Submit(ctx, raw, func(err error) {
		m.post(context.WithoutCancel(ctx), func() {
			m.jobs--
			if err != nil || m.store == nil {
				return
			}
			last, ok, err := m.store.GetSetting(store.SettingLastToken)
			if err == nil && ok && last == raw {
				m.deleteSetting(store.SettingLastToken)
			}
		})
	})
}

func (m *Manager) applyProgress(p mods.Progress) {
	if !m.reg.Apply(p) {
		return
	}
	if m.onProgress != nil {
		d, _ := m.reg.Get(p.FileName)
		m.onProgress(d)
	}
	if !p.Complete() {
		return
	}
	m.log.Info("download complete", slog.String("file", p.FileName), slog.Int64("size", p.Total))
	if m.store == nil {
		return
	}
	rec := &store.DownloadRecord{
		FileName:    p.FileName,
		PackageID:   p.PackageID,
		FileID:      p.FileID,
		SizeBytes:   p.Total,
		CompletedAt: time.Now(),
	}
	if err := m.store.InsertDownload(rec); err != nil {
		m.log.Warn("failed to record download", slog.String("file", p.FileName), slog.Any("error", err))
	}
}

// resolvePending starts one resolution worker per complete, unsaved download.
func (m *Manager) resolvePending(ctx context.Context) {
	if m.resolver == nil {
		return
	}
	for _, name := range m.reg.Pending(metadata.MaxAttempts) {
		name := name
		entry, _ := m.reg.Get(name)
		m.reg.BeginResolve(name)
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			p, err := m.resolver.Resolve(ctx, name, entry)
			m.post(context.WithoutCancel(ctx), func() { m.applyResolved(name, p, err) })
		}()
	}
}

func (m *Manager) applyResolved(name string, p *mods.Package, err error) {
	log := m.log.With(slog.String("file", name))
	if err != nil {
		m.reg.MarkFailed(name)
		d, _ := m.reg.Get(name)
		log.Warn("metadata resolution failed", slog.Int("attempt", d.Attempts), slog.Any("error", err))
		return
	}
	m.reg.MarkSaved(name)
	if !m.cols.AddInactive(p) {
		log.Info("package already recorded", slog.String("package", p.Key().String()))
		return
	}
	log.Info("package recorded", slog.String("package", p.Key().String()), slog.String("name", p.Name))
	m.save()
}

func (m *Manager) handleEvent(ev watcher.Event) {
	log := m.log.With(slog.String("file", ev.Name), slog.String("op", ev.Op.String()))
	known := m.cols.ArchiveInUse(ev.Name)
	_, tracked := m.reg.Get(ev.Name)

	switch ev.Op {
	case watcher.Removed, watcher.Renamed:
		if known {
			log.Warn("archive of a recorded package disappeared")
		}
	case watcher.Created:
		switch {
		case known || tracked:
		case m.jobs > 0:
			// Usually the running job's file before its first progress report.
			log.Debug("archive created while downloads are running")
		default:
			log.Info("untracked archive in download directory")
		}
	}
}

func (m *Manager) save() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveCollections(m.cols); err != nil {
		m.log.Error("failed to save packages", slog.Any("error", err))
	}
}

func (m *Manager) setSetting(key, value string) {
	if m.store == nil {
		return
	}
	if err := m.store.SetSetting(key, value); err != nil {
		m.log.Warn("failed to save setting", slog.String("key", key), slog.Any("error", err))
	}
}

func (m *Manager) deleteSetting(key string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteSetting(key); err != nil {
		m.log.Warn("failed to clear setting", slog.String("key", key), slog.Any("error", err))
	}
}
