package verify

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// TestOutcome is what a Test Runner reports for one selector.
type TestOutcome struct {
	Total  int    `json:"total"`
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
	Output string `json:"output,omitempty"`
}

// TestRunner executes the tests matching a selector pattern.
type TestRunner interface {
	Run(ctx context.Context, pattern string) (*TestOutcome, error)
}

// Confirmer collects a human yes/no confirmation for a statement. It
// may block indefinitely; implementations must honor ctx cancellation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ProbeOutcome is what a runtime probe reports.
type ProbeOutcome struct {
	Success  bool   `json:"success"`
	Evidence string `json:"evidence,omitempty"`
}

// Prober checks a runtime property of the running system.
type Prober interface {
	Probe(ctx context.Context, check string) (*ProbeOutcome, error)
}

// ShellTestRunner runs a test command through the local shell, with the
// selector substituted for every "{pattern}" placeholder. The command's
// exit status decides pass/fail.
//
// NoTestsPattern downgrades a clean exit to "zero tests matched".
// Multi-package runners flag each empty package separately (go test
// prints "ok pkg 0.01s [no tests to run]" per package), so a bare
// substring match would misreport a run where the selector matched in
// one package but not another. When ResultPattern is set it identifies
// the per-package result lines, and the run counts as zero-matched only
// if every result line carries the NoTestsPattern marker. Without a
// ResultPattern, NoTestsPattern matching anywhere means zero matched.
//
// Counts are parsed from the output when CountsPattern is set; it must
// capture passed and failed totals in groups 1 and 2. Without it the
// runner reports a single aggregate test.
type ShellTestRunner struct {
	Command        string // e.g. `go test ./... -run '{pattern}'`
	Dir            string
	ResultPattern  string // e.g. `^(?:ok|FAIL)[ \t].*`
	NoTestsPattern string // e.g. `\[no tests to run\]`
	CountsPattern  string // e.g. `(\d+) passed, (\d+) failed`
}

// Run implements TestRunner.
func (r *ShellTestRunner) Run(ctx context.Context, pattern string) (*TestOutcome, error) {
	if strings.TrimSpace(r.Command) == "" {
		return nil, fmt.Errorf("test command is empty")
	}

	command := strings.ReplaceAll(r.Command, "{pattern}", pattern)
	out, runErr := runShell(ctx, command, r.Dir)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	outcome := &TestOutcome{Output: out}

	if r.NoTestsPattern != "" {
		noTests, err := regexp.Compile("(?mi)" + r.NoTestsPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid no-tests pattern: %w", err)
		}
		if noTests.MatchString(out) {
			if r.ResultPattern == "" {
				return outcome, nil // Total stays 0: no evidence
			}
			results, err := regexp.Compile("(?mi)" + r.ResultPattern)
			if err != nil {
				return nil, fmt.Errorf("invalid result pattern: %w", err)
			}
			ran := false
			for _, line := range results.FindAllString(out, -1) {
				if !noTests.MatchString(line) {
					ran = true
					break
				}
			}
			if !ran {
				return outcome, nil // no package ran a matching test
			}
		}
	}

	if r.CountsPattern != "" {
		re, err := regexp.Compile("(?mi)" + r.CountsPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid counts pattern: %w", err)
		}
		if m := re.FindStringSubmatch(out); len(m) >= 3 {
			fmt.Sscanf(m[1], "%d", &outcome.Passed)
			fmt.Sscanf(m[2], "%d", &outcome.Failed)
			outcome.Total = outcome.Passed + outcome.Failed
			return outcome, nil
		}
	}

	// No counts available: the whole selector is one aggregate test.
	outcome.Total = 1
	if runErr != nil {
		outcome.Failed = 1
	} else {
		outcome.Passed = 1
	}
	return outcome, nil
}

// ShellProber runs a probe command; exit zero means the runtime
// property holds. Output is returned as evidence either way.
type ShellProber struct {
	Command string
	Dir     string
}

// Probe implements Prober. The check string substitutes "{check}" in
// the command when present, otherwise it is appended as an argument.
func (p *ShellProber) Probe(ctx context.Context, check string) (*ProbeOutcome, error) {
	command := p.Command
	if strings.Contains(command, "{check}") {
		command = strings.ReplaceAll(command, "{check}", check)
	}
	out, err := runShell(ctx, command, p.Dir)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &ProbeOutcome{Success: err == nil, Evidence: strings.TrimSpace(out)}, nil
}

// runShell executes a command through the platform shell and returns
// combined output.
func runShell(ctx context.Context, command, workdir string) (string, error) {
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
