package activation

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external installer, feeding stdin as scripted answers.
type Runner interface {
	Run(ctx context.Context, exe, dir, stdin string) error
}

// ExecRunner runs installers with os/exec.
type ExecRunner struct{}

// Run executes exe in dir. The combined output is attached to the error.
func (ExecRunner) Run(ctx context.Context, exe, dir, stdin string) error {
	cmd := exec.CommandContext(ctx, exe)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (output: %s)", filepath.Base(exe), err, strings.TrimSpace(string(output)))
	}
	return nil
}
