package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"goalgate/internal/spec"
)

// fakeRunner returns a canned outcome per pattern.
type fakeRunner struct {
	outcomes map[string]*TestOutcome
	err      error
}

func (f *fakeRunner) Run(_ context.Context, pattern string) (*TestOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	if o, ok := f.outcomes[pattern]; ok {
		return o, nil
	}
	return &TestOutcome{}, nil
}

// fakeConfirmer answers from a fixed map, or blocks until ctx is done.
type fakeConfirmer struct {
	answers map[string]bool
	block   bool
}

func (f *fakeConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.answers[prompt], nil
}

type fakeProber struct {
	success  bool
	evidence string
}

func (f *fakeProber) Probe(context.Context, string) (*ProbeOutcome, error) {
	return &ProbeOutcome{Success: f.success, Evidence: f.evidence}, nil
}

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestVerifyEmptySpecPasses(t *testing.T) {
	v := New(nil, nil, nil)
	summary, err := v.Verify(context.Background(), &spec.MustHaveSpec{}, t.TempDir())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !summary.Passed {
		t.Fatal("empty spec must pass")
	}
	if summary.FailedCount() != 0 {
		t.Fatalf("FailedCount = %d, want 0", summary.FailedCount())
	}
}

func TestVerifyMalformedSpecFailsFast(t *testing.T) {
	v := New(nil, nil, nil)
	s := &spec.MustHaveSpec{Truths: []spec.Truth{{Statement: "x", Method: spec.MethodTest}}}
	if _, err := v.Verify(context.Background(), s, t.TempDir()); err == nil {
		t.Fatal("expected configuration error for missing test_pattern")
	}
}

// Scenario A: 45 lines, no export Foo -> exports=false, min_lines=true.
func TestVerifyArtifactMissingExport(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("const filler = 1;\n", 45)
	writeFile(t, root, "a.ts", content)

	s := &spec.MustHaveSpec{Artifacts: []spec.Artifact{{
		Path:            "a.ts",
		MinLines:        30,
		RequiredExports: []string{"Foo"},
	}}}

	summary, err := New(nil, nil, nil).Verify(context.Background(), s, root)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	res := summary.Artifacts[0]
	if !res.Exists || !res.MinLines {
		t.Fatalf("exists=%v min_lines=%v, want both true", res.Exists, res.MinLines)
	}
	if res.Exports {
		t.Fatal("exports should be false")
	}
	if len(res.MissingExports) != 1 || res.MissingExports[0] != "Foo" {
		t.Fatalf("MissingExports = %v, want [Foo]", res.MissingExports)
	}
	if res.LineCount != 45 {
		t.Fatalf("LineCount = %d, want 45", res.LineCount)
	}
	if summary.Passed {
		t.Fatal("summary should fail")
	}
}

func TestVerifyArtifactMissingFileNeverThrows(t *testing.T) {
	s := &spec.MustHaveSpec{Artifacts: []spec.Artifact{{
		Path:              "gone.ts",
		MinLines:          10,
		RequiredExports:   []string{"X"},
		RequiredFunctions: []string{"y"},
	}}}

	summary, err := New(nil, nil, nil).Verify(context.Background(), s, t.TempDir())
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}

	res := summary.Artifacts[0]
	if res.Exists || res.MinLines || res.Exports || res.Functions {
		t.Fatalf("all sub-checks must be false: %+v", res)
	}
	if res.Result.Passed {
		t.Fatal("missing artifact must fail")
	}
}

// Scenario B: key link matched at line 10 with evidence.
func TestVerifyKeyLinkEvidence(t *testing.T) {
	root := t.TempDir()
	var sb strings.Builder
	for i := 1; i < 10; i++ {
		fmt.Fprintf(&sb, "// line %d\n", i)
	}
	sb.WriteString("const res = await fetch('/api/x');\n")
	writeFile(t, root, "a.ts", sb.String())

	s := &spec.MustHaveSpec{KeyLinks: []spec.KeyLink{{
		From:    "a.ts",
		To:      "/api/x",
		Pattern: `fetch.*api/x`,
	}}}

	summary, err := New(nil, nil, nil).Verify(context.Background(), s, root)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	res := summary.KeyLinks[0]
	if !res.Result.Passed {
		t.Fatalf("key link should pass: %s", res.Result.Error)
	}
	if len(res.Matches) != 1 || res.Matches[0].Line != 10 {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
	if !strings.Contains(res.Result.Evidence[0], "line 10") {
		t.Fatalf("evidence should name line 10: %v", res.Result.Evidence)
	}
}

func TestVerifyKeyLinkSourceMissing(t *testing.T) {
	s := &spec.MustHaveSpec{KeyLinks: []spec.KeyLink{{
		From: "nope.ts", To: "/api/x", Pattern: "fetch",
	}}}
	summary, err := New(nil, nil, nil).Verify(context.Background(), s, t.TempDir())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !strings.Contains(summary.KeyLinks[0].Result.Error, "source missing") {
		t.Fatalf("unexpected error: %s", summary.KeyLinks[0].Result.Error)
	}
}

func TestVerifyBadLinkPatternScopedToOneCheck(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "fetch('/api/x')\n")

	// Validate() catches bad patterns up front, so exercise the scoped
	// path the way a caller constructing results directly would.
	res := checkKeyLink(spec.KeyLink{From: "a.ts", To: "/x", Pattern: "fetch("}, root)
	if !res.Result.ConfigError {
		t.Fatal("expected config error to be flagged")
	}
	if res.Result.Passed {
		t.Fatal("config error must not pass")
	}

	good := checkKeyLink(spec.KeyLink{From: "a.ts", To: "/x", Pattern: "fetch"}, root)
	if !good.Result.Passed {
		t.Fatal("sibling check must be unaffected")
	}
}

func TestVerifyTestTruth(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]*TestOutcome{
		"green":  {Total: 4, Passed: 4},
		"red":    {Total: 4, Passed: 2, Failed: 2, Output: "assertion failed"},
		"absent": {},
	}}
	v := New(runner, nil, nil)

	s := &spec.MustHaveSpec{Truths: []spec.Truth{
		{Statement: "green path works", Method: spec.MethodTest, TestPattern: "green"},
		{Statement: "red path works", Method: spec.MethodTest, TestPattern: "red"},
		{Statement: "selector matches nothing", Method: spec.MethodTest, TestPattern: "absent"},
	}}

	summary, err := v.Verify(context.Background(), s, t.TempDir())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !summary.Truths[0].Result.Passed {
		t.Fatalf("green truth failed: %s", summary.Truths[0].Result.Error)
	}
	if summary.Truths[1].Result.Passed {
		t.Fatal("red truth should fail")
	}
	if summary.Truths[2].Result.Passed {
		t.Fatal("zero matched tests is no evidence and must fail")
	}
	if !strings.Contains(summary.Truths[2].Result.Error, "no evidence") {
		t.Fatalf("unexpected error: %s", summary.Truths[2].Result.Error)
	}
}

func TestVerifyManualTruth(t *testing.T) {
	confirmer := &fakeConfirmer{answers: map[string]bool{"approved": true, "rejected": false}}
	v := New(nil, confirmer, nil)

	s := &spec.MustHaveSpec{Truths: []spec.Truth{
		{Statement: "approved", Method: spec.MethodManual},
		{Statement: "rejected", Method: spec.MethodManual},
	}}

	summary, err := v.Verify(context.Background(), s, t.TempDir())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !summary.Truths[0].Result.Passed || summary.Truths[1].Result.Passed {
		t.Fatalf("unexpected manual results: %+v", summary.Truths)
	}
}

func TestVerifyManualCancellationPreservesOtherResults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "export const Foo = 1;\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Pending manual confirmation is already cancelled.

	v := New(nil, &fakeConfirmer{block: true}, nil)
	s := &spec.MustHaveSpec{
		Truths:    []spec.Truth{{Statement: "needs a human", Method: spec.MethodManual}},
		Artifacts: []spec.Artifact{{Path: "a.ts", RequiredExports: []string{"Foo"}}},
	}

	summary, err := v.Verify(ctx, s, root)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if summary.Truths[0].Result.Passed {
		t.Fatal("cancelled manual check must fail")
	}
	if !summary.Artifacts[0].Result.Passed {
		t.Fatal("artifact result must be preserved despite cancellation")
	}
}

func TestVerifyRuntimeTruth(t *testing.T) {
	v := New(nil, nil, &fakeProber{success: true, evidence: "health endpoint returned 200"})
	s := &spec.MustHaveSpec{Truths: []spec.Truth{{Statement: "service is up", Method: spec.MethodRuntime}}}

	summary, err := v.Verify(context.Background(), s, t.TempDir())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !summary.Truths[0].Result.Passed {
		t.Fatalf("runtime truth failed: %s", summary.Truths[0].Result.Error)
	}
	if summary.Truths[0].Result.Evidence[0] != "health endpoint returned 200" {
		t.Fatalf("unexpected evidence: %v", summary.Truths[0].Result.Evidence)
	}
}

func TestVerifyIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "export const Foo = 1;\nfetch('/api/x')\n")

	s := &spec.MustHaveSpec{
		Artifacts: []spec.Artifact{{Path: "a.ts", MinLines: 1, RequiredExports: []string{"Foo", "Bar"}}},
		KeyLinks:  []spec.KeyLink{{From: "a.ts", To: "/api/x", Pattern: "fetch.*api/x"}},
	}

	v := New(nil, nil, nil)
	first, err := v.Verify(context.Background(), s, root)
	if err != nil {
		t.Fatalf("first Verify failed: %v", err)
	}
	second, err := v.Verify(context.Background(), s, root)
	if err != nil {
		t.Fatalf("second Verify failed: %v", err)
	}

	ignoreTiming := cmpopts.IgnoreFields(Summary{}, "StartedAt", "Duration")
	if diff := cmp.Diff(first, second, ignoreTiming); diff != "" {
		t.Fatalf("summaries differ with no on-disk change (-first +second):\n%s", diff)
	}
}

func TestCountLines(t *testing.T) {
	cases := []struct {
		src  string
		want int
	}{
		{"", 0},
		{"one line", 1},
		{"one line\n", 1},
		{"a\nb\nc", 3},
		{"a\nb\nc\n", 3},
	}
	for _, tc := range cases {
		if got := countLines(tc.src); got != tc.want {
			t.Errorf("countLines(%q) = %d, want %d", tc.src, got, tc.want)
		}
	}
}
