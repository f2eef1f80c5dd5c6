// Package check defines validation checks: named, shell-executed
// procedures with a criticality class. Suites are YAML-defined so a
// project can declare its build/test/lint gauntlet next to its code.
// A critical check failing halts scheduling; a non-critical failure is
// recorded and never blocks.
package check

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Critical check names per the validation taxonomy. Anything else
// defaults to non-critical.
var criticalByName = map[string]bool{
	"build":            true,
	"typecheck":        true,
	"unit-test":        true,
	"integration-test": true,
	"lint":             false,
	"security-audit":   false,
	"e2e":              false,
}

// Check is a single validation procedure.
type Check struct {
	Name       string `yaml:"name" json:"name"`
	Command    string `yaml:"command" json:"command"`
	TimeoutSec int    `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`

	// Critical overrides the name-based default when set in YAML.
	Critical *bool `yaml:"critical,omitempty" json:"critical,omitempty"`
}

// IsCritical resolves the effective criticality class.
func (c Check) IsCritical() bool {
	if c.Critical != nil {
		return *c.Critical
	}
	return criticalByName[strings.ToLower(strings.TrimSpace(c.Name))]
}

// Timeout resolves the effective per-check timeout.
func (c Check) Timeout() time.Duration {
	if c.TimeoutSec > 0 {
		return time.Duration(c.TimeoutSec) * time.Second
	}
	return 5 * time.Minute
}

// Suite is a YAML-defined collection of validation checks.
type Suite struct {
	Version int     `yaml:"version"`
	Checks  []Check `yaml:"checks"`
}

// LoadSuite reads a YAML suite file from disk.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse check suite YAML: %w", err)
	}
	for i, c := range s.Checks {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("check[%d]: name is required", i)
		}
		if strings.TrimSpace(c.Command) == "" {
			return nil, fmt.Errorf("check[%d] (%s): command is required", i, c.Name)
		}
	}
	return &s, nil
}

// DefaultSuitePath returns the canonical suite path for a workspace.
func DefaultSuitePath(workspace string) string {
	return filepath.Join(workspace, ".gate", "checks.yaml")
}

// RunShell executes a command through the platform shell and returns
// its combined output. A context error takes precedence over the
// command's own exit status.
func RunShell(ctx context.Context, command, workdir string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("empty command")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-lc", command)
	}
	if workdir != "" {
		cmd.Dir = workdir
	}

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	if err != nil {
		return string(out), fmt.Errorf("command failed (%s): %w", command, err)
	}
	return string(out), nil
}
