package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blackwell-systems/modsync/internal/store"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the remote API key",
	Long: `Prompt for the personal API key and store it in the database. The key is
read without echo when stdin is a terminal, otherwise from the first line of
stdin.`,
	Example: `  modsync login
  echo "$NEXUS_KEY" | modsync login`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	key, err := readAPIKey()
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("no API key entered")
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.SetSetting(store.SettingAPIKey, key); err != nil {
		return err
	}
	fmt.Println("✓ API key saved")
	fmt.Println("Restart a running instance for the key to take effect.")
	return nil
}

func readAPIKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
