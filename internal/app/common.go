package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/blackwell-systems/modsync/internal/activation"
	"github.com/blackwell-systems/modsync/internal/config"
	"github.com/blackwell-systems/modsync/internal/download"
	"github.com/blackwell-systems/modsync/internal/manager"
	"github.com/blackwell-systems/modsync/internal/metadata"
	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/nexus"
	"github.com/blackwell-systems/modsync/internal/output"
	"github.com/blackwell-systems/modsync/internal/store"
	"github.com/blackwell-systems/modsync/internal/watcher"
)

// loadConfig reads the config file and environment, then applies the
// persistent flags, which win over both.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	return cfg, nil
}

// runtimeEnv is the opened state shared by commands that touch the database.
type runtimeEnv struct {
	cfg   *config.Config
	store *store.Store
	log   *slog.Logger
}

// openEnv loads the config, opens the database and fills the config from
// persisted settings.
func openEnv() (*runtimeEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	settings, err := st.Settings()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	cfg.ApplySettings(settings)

	return &runtimeEnv{
		cfg:   cfg,
		store: st,
		log:   cfg.NewLogger(os.Stderr),
	}, nil
}

func (e *runtimeEnv) Close() error {
	return e.store.Close()
}

// services are the collaborators wired from one runtimeEnv.
type services struct {
	client    *nexus.Client
	engine    *download.Engine
	resolver  *metadata.Resolver
	activator *activation.Activator
}

func (e *runtimeEnv) services() *services {
	fs := afero.NewOsFs()
	client := nexus.NewClient(e.cfg.APIBase, e.cfg.APIKey)
	return &services{
		client:   client,
		engine:   download.New(client, fs, e.cfg.DownloadDir, e.log, download.WithChunkSize(e.cfg.ChunkSize)),
		resolver: metadata.New(client, e.cfg.Game, e.cfg.SiteBase, e.cfg.Loader.PackageID, e.log),
		activator: activation.New(fs, activation.Options{
			DownloadDir: e.cfg.DownloadDir,
			GameDir:     e.cfg.GameDir,
			ModsSubdir:  e.cfg.ModsSubdir,
			Loader:      e.cfg.Loader,
		}, e.log),
	}
}

// newManager loads the collections and wires a manager. events and
// onProgress may be nil.
func (e *runtimeEnv) newManager(svc *services, events <-chan watcher.Event, onProgress func(mods.Download)) (*manager.Manager, error) {
	cols, err := e.store.LoadCollections()
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	return manager.New(cols, manager.Deps{
		Store:        e.store,
		Downloads:    svc.engine,
		Resolver:     svc.resolver,
		Installer:    svc.activator,
		Events:       events,
		CanDownload:  svc.client.HasKey,
		PollInterval: e.cfg.PollInterval,
		OnProgress:   onProgress,
	}, e.log), nil
}

// withOfflineManager runs fn against a manager whose loop lives only for the
// duration of the call. It is used when no primary instance is running.
// require, when set, validates the loaded config before anything runs.
func withOfflineManager(ctx context.Context, require func(*config.Config) error, fn func(context.Context, *manager.Manager) error) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if require != nil {
		if err := require(env.cfg); err != nil {
			return err
		}
	}

	m, err := env.newManager(env.services(), nil, nil)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		m.Run(loopCtx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	return fn(ctx, m)
}

// getDefaultPIDFile returns the default PID file path
func getDefaultPIDFile() (string, error) {
	return stateFile("serve.pid")
}

// getDefaultLogFile returns the default log file path
func getDefaultLogFile() (string, error) {
	return stateFile("serve.log")
}

func stateFile(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	dir := filepath.Join(home, ".modsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create modsync directory: %w", err)
	}

	return filepath.Join(dir, name), nil
}

// progressBars draws one bar per in-flight download. It is only called from
// the manager loop.
type progressBars map[string]*output.ProgressBar

func (b progressBars) update(d mods.Download) {
	bar, ok := b[d.FileName]
	if !ok {
		bar = output.NewProgress(d.Total, d.FileName)
		b[d.FileName] = bar
	}
	bar.SetCurrent(d.Downloaded)
	if d.Complete() {
		bar.Finish()
		delete(b, d.FileName)
	}
}
