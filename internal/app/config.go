package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/blackwell-systems/modsync/internal/store"
)

// settingKeys are the config keys persisted in the database.
var settingKeys = map[string]string{
	"api_key":      store.SettingAPIKey,
	"game_dir":     store.SettingGameDir,
	"download_dir": store.SettingDownloadDir,
}

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Show the effective configuration or persist a setting.

Configuration is layered: built-in defaults, then config.yml, then .env files,
then MODSYNC_* environment variables, then command-line flags. Settings stored
with 'config set' fill api_key, game_dir and download_dir when no other layer
provides them.`,
	}

	configShowCmd = &cobra.Command{
		Use:     "show",
		Short:   "Print the effective configuration",
		Example: `  modsync config show`,
		Args:    cobra.NoArgs,
		RunE:    runConfigShow,
	}

	configSetCmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a setting (api_key, game_dir, download_dir)",
		Example: `  modsync config set game_dir ~/.steam/steam/steamapps/common/Stardew\ Valley
  modsync config set download_dir ~/Downloads/mods`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	shown := *env.cfg
	shown.APIKey = maskKey(shown.APIKey)
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fmt.Print(string(data))
	if env.cfg.GameDir != "" {
		fmt.Printf("# packages install into %s\n", env.cfg.ModsDir())
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := strings.ToLower(args[0]), strings.TrimSpace(args[1])
	setting, ok := settingKeys[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: api_key, game_dir, download_dir)", args[0])
	}
	if setting != store.SettingAPIKey && value != "" {
		abs, err := filepath.Abs(expandTilde(value))
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", value, err)
		}
		value = abs
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if value == "" {
		if err := env.store.DeleteSetting(setting); err != nil {
			return err
		}
		fmt.Printf("✓ Cleared %s\n", key)
		return nil
	}
	if err := env.store.SetSetting(setting, value); err != nil {
		return err
	}
	fmt.Printf("✓ Saved %s\n", key)
	fmt.Println("Restart a running instance for the change to take effect.")
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func expandTilde(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
