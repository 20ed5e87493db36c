package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/modsync/internal/config"
	"github.com/blackwell-systems/modsync/internal/ipc"
	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/nxm"
	"github.com/blackwell-systems/modsync/internal/store"
)

// isolate points every path the commands touch at temp directories and
// restores the global flags afterwards.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, key := range []string{"MODSYNC_API_KEY", "MODSYNC_GAME_DIR", "MODSYNC_DOWNLOAD_DIR", "MODSYNC_SOCKET", "MODSYNC_DB"} {
		t.Setenv(key, "")
	}

	sockDir, err := os.MkdirTemp("", "ms")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	oldConfig, oldDB, oldSocket, oldVersion := configPath, dbPath, socketPath, packageVersion
	configPath = filepath.Join(dir, "config.yml")
	dbPath = filepath.Join(dir, "modsync.db")
	socketPath = filepath.Join(sockDir, "s.sock")
	packageVersion = ""
	t.Cleanup(func() {
		configPath, dbPath, socketPath, packageVersion = oldConfig, oldDB, oldSocket, oldVersion
	})
	return dir
}

func newCmd() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

func TestRootCommand(t *testing.T) {
	if !strings.HasPrefix(RootCmd.Use, "modsync") {
		t.Errorf("expected Use to start with 'modsync', got '%s'", RootCmd.Use)
	}
	if RootCmd.Short == "" || RootCmd.Long == "" {
		t.Error("expected Short and Long descriptions to be set")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"serve", "list", "activate", "deactivate", "delete", "downloads", "dismiss", "config", "login", "import"} {
		if !found[expected] {
			t.Errorf("expected command '%s' to be registered", expected)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "db", "socket"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}
}

func TestServeCommandFlags(t *testing.T) {
	tests := []struct {
		flagName     string
		shouldHidden bool
	}{
		{"daemon", false},
		{"daemon-child", true},
		{"pid-file", false},
		{"log-file", false},
		{"stop", false},
	}
	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			flag := serveCmd.Flags().Lookup(tt.flagName)
			if flag == nil {
				t.Fatalf("expected flag '%s' to be registered", tt.flagName)
			}
			if flag.Hidden != tt.shouldHidden {
				t.Errorf("flag '%s' hidden = %v, want %v", tt.flagName, flag.Hidden, tt.shouldHidden)
			}
		})
	}
}

func TestTransitionCommandsHaveVersionFlag(t *testing.T) {
	for _, cmd := range []*cobra.Command{activateCmd, deactivateCmd, deleteCmd} {
		if cmd.Flags().Lookup("version") == nil {
			t.Errorf("%s: expected --version flag", cmd.Name())
		}
		if cmd.Args == nil {
			t.Errorf("%s: expected argument validation", cmd.Name())
		}
	}
}

func TestGetDefaultStateFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	pid, err := getDefaultPIDFile()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pid, filepath.Join(".modsync", "serve.pid")))

	logFile, err := getDefaultLogFile()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(logFile, "serve.log"))

	_, err = os.Stat(filepath.Dir(pid))
	assert.NoError(t, err)
}

func TestParsePackageID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"2400", 2400, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePackageID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePackageID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parsePackageID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("abc"))
	assert.Equal(t, "******7890", maskKey("1234567890"))
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	isolate(t)
	t.Setenv("MODSYNC_SOCKET", "/from/env.sock")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, dbPath, cfg.DBPath)
	assert.Equal(t, socketPath, cfg.Socket)
}

func TestConfigSet_PersistsSetting(t *testing.T) {
	dir := isolate(t)
	game := filepath.Join(dir, "game")

	require.NoError(t, runConfigSet(newCmd(), []string{"GAME_DIR", game}))
	assert.Error(t, runConfigSet(newCmd(), []string{"colour", "blue"}))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	got, ok, err := st.GetSetting(store.SettingGameDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, game, got)

	env, err := openEnv()
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, game, env.cfg.GameDir)
	assert.Equal(t, filepath.Join(dir, "data", "modsync", "mods"), env.cfg.DownloadDir)
}

func TestTransition_OfflineAppliesDirectly(t *testing.T) {
	isolate(t)

	err := transitionRunner(nxm.VerbDelete)(newCmd(), []string{"7"})
	assert.ErrorIs(t, err, mods.ErrNotFound)
}

func TestTransition_OfflineActivationNeedsGameDir(t *testing.T) {
	isolate(t)

	for _, verb := range []nxm.Verb{nxm.VerbActivate, nxm.VerbDeactivate} {
		err := transitionRunner(verb)(newCmd(), []string{"7"})
		assert.ErrorIs(t, err, config.ErrNoGameDir, "verb %s", verb)
	}
}

func TestDismiss_ForwardsToRunningInstance(t *testing.T) {
	isolate(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ln, err := ipc.Listen(socketPath, log)
	require.NoError(t, err)

	got := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx, func(_ context.Context, token string) { got <- token })

	require.NoError(t, runDismiss(newCmd(), []string{"Content Patcher.zip"}))

	select {
	case token := <-got:
		c, err := nxm.ParseControl(token)
		require.NoError(t, err)
		assert.Equal(t, nxm.VerbDismiss, c.Verb)
		assert.Equal(t, "Content Patcher.zip", c.File)
	case <-time.After(2 * time.Second):
		t.Fatal("no token received")
	}
}

func TestDismiss_NoInstance(t *testing.T) {
	isolate(t)

	err := runDismiss(newCmd(), []string{"a.zip"})
	assert.ErrorIs(t, err, ipc.ErrNoInstance)
}

func TestTransition_ForwardsToRunningInstance(t *testing.T) {
	isolate(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ln, err := ipc.Listen(socketPath, log)
	require.NoError(t, err)

	got := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx, func(_ context.Context, token string) { got <- token })

	packageVersion = "1.2 beta"
	require.NoError(t, transitionRunner("deactivate")(newCmd(), []string{"2400"}))

	select {
	case token := <-got:
		assert.Equal(t, "modsync://deactivate/2400?version=1.2+beta", token)
	case <-time.After(2 * time.Second):
		t.Fatal("no token received")
	}
}

func TestImport_RefusedWhileRunning(t *testing.T) {
	isolate(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ln, err := ipc.Listen(socketPath, log)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx, func(context.Context, string) {})

	err = runImport(newCmd(), []string{"missing.json"})
	assert.True(t, errors.Is(err, ipc.ErrInstanceRunning), "error = %v", err)
}

func TestImport_Offline(t *testing.T) {
	dir := isolate(t)
	export := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(export, []byte(`{
		"inactive_mods": [{"name": "A", "zip_name": "a.zip", "version": "1.0", "id": 10, "file_id": 5}],
		"active_mods": [{"name": "B", "zip_name": "b.zip", "folder_name": "B", "version": "2.0", "mod_id": 11, "file_id": 6}]
	}`), 0o644))

	require.NoError(t, runImport(newCmd(), []string{export}))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	cols, err := st.LoadCollections()
	require.NoError(t, err)
	require.Len(t, cols.Inactive, 1)
	require.Len(t, cols.Active, 1)
	assert.Equal(t, "B", cols.Active[0].Folder)
	assert.Equal(t, uint64(6), cols.Active[0].FileID)
}
