// Package config loads modsync configuration from config.yml, .env files,
// MODSYNC_* environment variables and persisted settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// FileName is the config file name inside Dir().
const FileName = "config.yml"

var (
	// ErrNoGameDir is returned when a command needs the game directory.
	ErrNoGameDir = errors.New("game directory not configured, run 'modsync config set game_dir <path>'")
	// ErrNoAPIKey is returned when a command needs an API key.
	ErrNoAPIKey = errors.New("api key not configured, run 'modsync login'")
)

// LoaderConfig describes the mod loader package and how its installer is driven.
// Paths are relative to the loader's extracted folder. Scripts may contain
// {game_dir}, replaced with the game directory.
type LoaderConfig struct {
	PackageID       uint64 `yaml:"package_id"`
	Bundle          string `yaml:"bundle"`
	Installer       string `yaml:"installer"`
	RunInstaller    bool   `yaml:"run_installer"`
	InstallScript   string `yaml:"install_script"`
	UninstallScript string `yaml:"uninstall_script"`
	DepsSource      string `yaml:"deps_source"`
	DepsTarget      string `yaml:"deps_target"`
}

// Config holds all runtime settings.
type Config struct {
	Game         string        `yaml:"game"`
	APIBase      string        `yaml:"api_base"`
	SiteBase     string        `yaml:"site_base"`
	APIKey       string        `yaml:"api_key"`
	GameDir      string        `yaml:"game_dir"`
	ModsSubdir   string        `yaml:"mods_subdir"`
	DownloadDir  string        `yaml:"download_dir"`
	Socket       string        `yaml:"socket"`
	DBPath       string        `yaml:"db_path"`
	LogLevel     string        `yaml:"log_level"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ChunkSize    int           `yaml:"chunk_size"`
	Loader       LoaderConfig  `yaml:"loader"`
}

// Dir returns the modsync config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/modsync if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "modsync"), nil
}

// Default returns the built-in configuration. DownloadDir is left empty so a
// persisted setting can fill it; ApplySettings supplies the default.
func Default() *Config {
	return &Config{
		Game:         "stardewvalley",
		APIBase:      "https://api.nexusmods.com/v1/games",
		SiteBase:     "https://www.nexusmods.com",
		ModsSubdir:   "Mods",
		Socket:       defaultSocket(),
		DBPath:       defaultDBPath(),
		LogLevel:     "info",
		PollInterval: 250 * time.Millisecond,
		ChunkSize:    32 * 1024,
		Loader:       DefaultLoader(runtime.GOOS),
	}
}

// DefaultLoader returns the SMAPI loader layout for the given GOOS.
func DefaultLoader(goos string) LoaderConfig {
	platform, exe := "linux", "SMAPI.Installer"
	switch goos {
	case "windows":
		platform, exe = "windows", "SMAPI.Installer.exe"
	case "darwin":
		platform = "macOS"
	}
	return LoaderConfig{
		PackageID:       2400,
		Bundle:          filepath.Join("internal", platform, "install.dat"),
		Installer:       filepath.Join("internal", platform, exe),
		RunInstaller:    true,
		InstallScript:   "2\n{game_dir}\n1\n\n",
		UninstallScript: "2\n{game_dir}\n2\n\n",
		DepsSource:      "StardewValley.deps.json",
		DepsTarget:      "StardewModdingAPI.deps.json",
	}
}

// Load reads configuration from path (or Dir()/config.yml when path is
// empty). A missing file yields the defaults. .env files in the config
// directory and the working directory are loaded first without overriding the
// real environment, then MODSYNC_* variables are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		dir, err := Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		path = filepath.Join(dir, FileName)
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.expand()
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) > 0 {
		_ = godotenv.Load(existing...)
	}
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		"MODSYNC_API_KEY":      &c.APIKey,
		"MODSYNC_GAME_DIR":     &c.GameDir,
		"MODSYNC_DOWNLOAD_DIR": &c.DownloadDir,
		"MODSYNC_SOCKET":       &c.Socket,
		"MODSYNC_DB":           &c.DBPath,
		"MODSYNC_LOG_LEVEL":    &c.LogLevel,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

func (c *Config) expand() {
	c.GameDir = expandHome(c.GameDir)
	c.DownloadDir = expandHome(c.DownloadDir)
	c.Socket = expandHome(c.Socket)
	c.DBPath = expandHome(c.DBPath)
}

// ApplySettings fills fields left empty by file and environment from
// persisted settings, then applies the remaining defaults.
func (c *Config) ApplySettings(settings map[string]string) {
	for key, field := range map[string]*string{
		"api_key":      &c.APIKey,
		"game_dir":     &c.GameDir,
		"download_dir": &c.DownloadDir,
	} {
		if *field == "" {
			*field = settings[key]
		}
	}
	if c.DownloadDir == "" {
		c.DownloadDir = defaultDownloadDir()
	}
	c.expand()
}

// RequireGameDir returns ErrNoGameDir when the game directory is unset.
func (c *Config) RequireGameDir() error {
	if c.GameDir == "" {
		return ErrNoGameDir
	}
	return nil
}

// RequireAPIKey returns ErrNoAPIKey when no key is configured.
func (c *Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ModsDir returns the directory generic packages install into.
func (c *Config) ModsDir() string {
	return filepath.Join(c.GameDir, c.ModsSubdir)
}

// Save writes the configuration as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(c.LogLevel)}))
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "modsync.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("modsync-%d.sock", os.Getuid()))
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "modsync.db"
	}
	return filepath.Join(home, ".modsync", "modsync.db")
}

func defaultDownloadDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "mods"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "modsync", "mods")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
