package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"goalgate/internal/schedule"
	"goalgate/internal/spec"
	"goalgate/internal/store"
	"goalgate/internal/verify"
)

type greenRunner struct{}

func (greenRunner) Run(ctx context.Context, pattern string) (*verify.TestOutcome, error) {
	return &verify.TestOutcome{Total: 1, Passed: 1}, nil
}

type yesConfirmer struct{}

func (yesConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, nil
}

type okProber struct{}

func (okProber) Probe(ctx context.Context, check string) (*verify.ProbeOutcome, error) {
	return &verify.ProbeOutcome{Success: true, Evidence: "probed"}, nil
}

// creatingExecutor closes artifact gaps by writing the target file.
type creatingExecutor struct {
	root  string
	lines int
}

func (e *creatingExecutor) Execute(ctx context.Context, task *schedule.Task) (string, error) {
	for _, rel := range task.FilesModified {
		path := filepath.Join(e.root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		content := ""
		for i := 0; i < e.lines; i++ {
			content += "line\n"
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return "created", nil
}

// idleExecutor succeeds without changing anything.
type idleExecutor struct{}

func (idleExecutor) Execute(ctx context.Context, task *schedule.Task) (string, error) {
	return "", nil
}

func artifactSpec() *spec.MustHaveSpec {
	return &spec.MustHaveSpec{
		Name: "loop-demo",
		Artifacts: []spec.Artifact{
			{Path: "src/auth.go", MinLines: 3},
		},
	}
}

func newTestVerifier() *verify.Verifier {
	return verify.New(greenRunner{}, yesConfirmer{}, okProber{})
}

func TestCloseGapsConverges(t *testing.T) {
	root := t.TempDir()
	e := New(newTestVerifier(), &creatingExecutor{root: root, lines: 5}, Options{Workdir: root})

	result, err := e.CloseGaps(context.Background(), artifactSpec(), root, nil)
	if err != nil {
		t.Fatalf("CloseGaps failed: %v", err)
	}
	if !result.Passed {
		t.Fatal("loop should converge once the artifact exists")
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("expected 2 iterations (fail, then pass), got %d", len(result.Iterations))
	}
	if result.Iterations[0].Plan == nil || len(result.Iterations[0].Plan.Tasks) != 1 {
		t.Fatalf("first iteration should plan one gap-closure task: %+v", result.Iterations[0].Plan)
	}
	if result.Final == nil || !result.Final.Passed {
		t.Fatal("final summary should pass")
	}
}

func TestCloseGapsAlreadyPassing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "src", "auth.go")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := New(newTestVerifier(), idleExecutor{}, Options{Workdir: root})
	result, err := e.CloseGaps(context.Background(), artifactSpec(), root, nil)
	if err != nil {
		t.Fatalf("CloseGaps failed: %v", err)
	}
	if !result.Passed || len(result.Iterations) != 1 {
		t.Fatalf("clean spec should pass on the first iteration: %+v", result)
	}
}

func TestCloseGapsNoProgress(t *testing.T) {
	root := t.TempDir()
	e := New(newTestVerifier(), idleExecutor{}, Options{
		Workdir:          root,
		MaxIterations:    5,
		StopOnNoProgress: true,
	})

	result, err := e.CloseGaps(context.Background(), artifactSpec(), root, nil)
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
	if result.Passed {
		t.Fatal("result must not pass")
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("no-progress should stop after the second identical gap set, got %d iterations", len(result.Iterations))
	}
}

func TestCloseGapsMaxIterations(t *testing.T) {
	root := t.TempDir()
	e := New(newTestVerifier(), idleExecutor{}, Options{
		Workdir:       root,
		MaxIterations: 2,
	})

	result, err := e.CloseGaps(context.Background(), artifactSpec(), root, nil)
	if !errors.Is(err, ErrMaxIterationsExceeded) {
		t.Fatalf("expected ErrMaxIterationsExceeded, got %v", err)
	}
	if len(result.Iterations) != 3 {
		t.Fatalf("expected 2 iterations plus a closing pass, got %d", len(result.Iterations))
	}
	if result.Final == nil || result.Final.Passed {
		t.Fatalf("closing pass must report the gap still open: %+v", result.Final)
	}
}

func TestCloseGapsLastIterationRemediationVerified(t *testing.T) {
	// The budget allows one remediation run; its effect must still be
	// verified before the loop declares failure.
	root := t.TempDir()
	e := New(newTestVerifier(), &creatingExecutor{root: root, lines: 5}, Options{
		Workdir:       root,
		MaxIterations: 1,
	})

	result, err := e.CloseGaps(context.Background(), artifactSpec(), root, nil)
	if err != nil {
		t.Fatalf("CloseGaps failed: %v", err)
	}
	if !result.Passed {
		t.Fatal("the only remediation run closed the gap; the loop must report success")
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("expected 1 iteration plus a closing pass, got %d", len(result.Iterations))
	}
	if result.Final == nil || !result.Final.Passed {
		t.Fatal("final summary must reflect the post-remediation state")
	}
}

func TestCloseGapsMalformedSpecFailsFast(t *testing.T) {
	root := t.TempDir()
	bad := &spec.MustHaveSpec{
		Truths: []spec.Truth{{Statement: "x", Method: "banana"}},
	}
	e := New(newTestVerifier(), idleExecutor{}, Options{Workdir: root})

	var cfgErr *spec.ConfigurationError
	_, err := e.CloseGaps(context.Background(), bad, root, nil)
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestCloseGapsRecordsHistory(t *testing.T) {
	root := t.TempDir()
	st, err := store.New(filepath.Join(root, ".gate", "gate.db"))
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	defer st.Close()

	e := New(newTestVerifier(), &creatingExecutor{root: root, lines: 5}, Options{
		Workdir: root,
		Store:   st,
	})
	if _, err := e.CloseGaps(context.Background(), artifactSpec(), root, nil); err != nil {
		t.Fatalf("CloseGaps failed: %v", err)
	}

	hist, err := st.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(hist))
	}
}
