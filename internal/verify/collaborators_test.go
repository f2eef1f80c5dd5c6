package verify

import (
	"context"
	"testing"
)

const (
	goResultPattern  = `^(?:ok|FAIL)[ \t].*`
	goNoTestsPattern = `\[no tests to run\]`
)

func TestShellRunnerPartialNoTestsStillCounts(t *testing.T) {
	// One package ran matching tests, another had none. The selector
	// matched somewhere, so this is evidence, not "zero tests matched".
	r := &ShellTestRunner{
		Command:        `printf 'ok  \tpkg/a\t0.012s\nok  \tpkg/b\t0.004s [no tests to run]\n'`,
		ResultPattern:  goResultPattern,
		NoTestsPattern: goNoTestsPattern,
	}

	out, err := r.Run(context.Background(), "TestLogin")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Total != 1 || out.Passed != 1 || out.Failed != 0 {
		t.Fatalf("tests ran in pkg/a, outcome = %+v", out)
	}
}

func TestShellRunnerAllNoTestsIsNoEvidence(t *testing.T) {
	r := &ShellTestRunner{
		Command:        `printf 'ok  \tpkg/a\t0.002s [no tests to run]\nok  \tpkg/b\t(cached) [no tests to run]\n'`,
		ResultPattern:  goResultPattern,
		NoTestsPattern: goNoTestsPattern,
	}

	out, err := r.Run(context.Background(), "TestNothingMatches")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Total != 0 {
		t.Fatalf("no package ran a test, outcome = %+v", out)
	}
}

func TestShellRunnerNoTestsWithoutResultPattern(t *testing.T) {
	// Single-suite runners without per-package result lines fall back
	// to matching the whole output.
	r := &ShellTestRunner{
		Command:        `printf 'no tests found, exiting with code 0\n'`,
		NoTestsPattern: "no tests found",
	}

	out, err := r.Run(context.Background(), "login")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Total != 0 {
		t.Fatalf("expected zero tests matched, outcome = %+v", out)
	}
}

func TestShellRunnerCountsCapture(t *testing.T) {
	r := &ShellTestRunner{
		Command:       `printf 'Tests: 3 passed, 1 failed\n'`,
		CountsPattern: `(\d+) passed, (\d+) failed`,
	}

	out, err := r.Run(context.Background(), "auth")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Total != 4 || out.Passed != 3 || out.Failed != 1 {
		t.Fatalf("counts not parsed, outcome = %+v", out)
	}
}

func TestShellRunnerAggregateFailure(t *testing.T) {
	r := &ShellTestRunner{Command: `exit 1`}

	out, err := r.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Total != 1 || out.Failed != 1 {
		t.Fatalf("failing command should count as one failed test, outcome = %+v", out)
	}
}
