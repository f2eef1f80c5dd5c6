// Package verify implements the goal-backward verification engine. It
// evaluates a Must-Have Specification against the current project state
// and reports, per item, whether the declared outcome actually holds.
// Verification is read-only and carries no cross-call caching: every
// pass reflects the on-disk and test state at the moment of the call,
// so re-verification after gap closure detects drift.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"goalgate/internal/logging"
	"goalgate/internal/patterns"
	"goalgate/internal/spec"
)

// Result is the per-item verification outcome.
type Result struct {
	Passed      bool     `json:"passed"`
	Evidence    []string `json:"evidence,omitempty"`
	Error       string   `json:"error,omitempty"`
	ConfigError bool     `json:"config_error,omitempty"` // Malformed check, not a gap
}

// TruthResult is the outcome of one Truth check.
type TruthResult struct {
	Truth  spec.Truth `json:"truth"`
	Result Result     `json:"result"`
}

// ArtifactResult is the outcome of one Artifact check. The four
// sub-results are retained independently: a missing file fails every
// dependent sub-check without aborting the pass.
type ArtifactResult struct {
	Artifact spec.Artifact `json:"artifact"`
	Result   Result        `json:"result"`

	Exists    bool `json:"exists"`
	MinLines  bool `json:"min_lines"`
	Exports   bool `json:"exports"`
	Functions bool `json:"functions"`

	LineCount        int      `json:"line_count"`
	MissingExports   []string `json:"missing_exports,omitempty"`
	MissingFunctions []string `json:"missing_functions,omitempty"`
}

// KeyLinkResult is the outcome of one KeyLink check.
type KeyLinkResult struct {
	Link    spec.KeyLink    `json:"link"`
	Result  Result          `json:"result"`
	Matches []patterns.Match `json:"matches,omitempty"`
}

// Summary aggregates one verification pass. Passed is true iff every
// item in every category passed.
type Summary struct {
	SpecName  string           `json:"spec_name,omitempty"`
	Root      string           `json:"root"`
	Passed    bool             `json:"passed"`
	Truths    []TruthResult    `json:"truths,omitempty"`
	Artifacts []ArtifactResult `json:"artifacts,omitempty"`
	KeyLinks  []KeyLinkResult  `json:"key_links,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// FailedCount returns the number of failed items across all categories.
func (s *Summary) FailedCount() int {
	n := 0
	for _, r := range s.Truths {
		if !r.Result.Passed {
			n++
		}
	}
	for _, r := range s.Artifacts {
		if !r.Result.Passed {
			n++
		}
	}
	for _, r := range s.KeyLinks {
		if !r.Result.Passed {
			n++
		}
	}
	return n
}

// Verifier evaluates Must-Have Specifications. Collaborators are
// injected; a nil collaborator fails the truths that need it rather
// than panicking.
type Verifier struct {
	tests     TestRunner
	confirmer Confirmer
	prober    Prober
}

// New creates a Verifier with the given collaborators. Any of them may
// be nil when the corresponding verification method is not in play.
func New(tests TestRunner, confirmer Confirmer, prober Prober) *Verifier {
	return &Verifier{tests: tests, confirmer: confirmer, prober: prober}
}

// Verify evaluates the spec against the project rooted at root.
// A malformed spec fails fast with a *spec.ConfigurationError before
// any check runs. Item failures never surface as errors; they are
// recorded in the summary. Cancellation of a pending check (typically a
// blocked manual confirmation) marks that item failed and preserves the
// results already computed in this pass.
func (v *Verifier) Verify(ctx context.Context, s *spec.MustHaveSpec, root string) (*Summary, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryVerify, "Verify")
	defer timer.Stop()

	summary := &Summary{
		SpecName:  s.Name,
		Root:      root,
		StartedAt: time.Now(),
	}

	for _, truth := range s.Truths {
		summary.Truths = append(summary.Truths, TruthResult{
			Truth:  truth,
			Result: v.checkTruth(ctx, truth),
		})
	}
	for _, artifact := range s.Artifacts {
		summary.Artifacts = append(summary.Artifacts, v.checkArtifact(artifact, root))
	}
	for _, link := range s.KeyLinks {
		summary.KeyLinks = append(summary.KeyLinks, checkKeyLink(link, root))
	}

	summary.Passed = summary.FailedCount() == 0
	summary.Duration = time.Since(summary.StartedAt)

	logging.Verify("verified spec %q: passed=%v items=%d failed=%d",
		s.Name, summary.Passed, s.ItemCount(), summary.FailedCount())

	return summary, nil
}

// checkTruth dispatches on the truth's verification method.
func (v *Verifier) checkTruth(ctx context.Context, truth spec.Truth) Result {
	switch truth.Method {
	case spec.MethodTest, spec.MethodIntegrationTest:
		return v.checkTestTruth(ctx, truth)
	case spec.MethodManual:
		return v.checkManualTruth(ctx, truth)
	case spec.MethodRuntime:
		return v.checkRuntimeTruth(ctx, truth)
	default:
		// Unreachable after Validate, kept for direct construction.
		return Result{Error: fmt.Sprintf("unknown verification method %q", truth.Method), ConfigError: true}
	}
}

// checkTestTruth passes iff the runner reports zero failures AND at
// least one test matched the selector. A selector matching zero tests
// is itself a failure: no evidence is not evidence.
func (v *Verifier) checkTestTruth(ctx context.Context, truth spec.Truth) Result {
	if v.tests == nil {
		return Result{Error: "no test runner configured"}
	}

	outcome, err := v.tests.Run(ctx, truth.TestPattern)
	if err != nil {
		return Result{Error: fmt.Sprintf("test runner failed: %v", err)}
	}
	if outcome.Total == 0 {
		return Result{Error: fmt.Sprintf("no tests matched pattern %q: no evidence", truth.TestPattern)}
	}
	if outcome.Failed > 0 {
		return Result{
			Error:    fmt.Sprintf("%d/%d tests failed", outcome.Failed, outcome.Total),
			Evidence: []string{tail(outcome.Output, 2000)},
		}
	}
	return Result{
		Passed:   true,
		Evidence: []string{fmt.Sprintf("%d tests passed for pattern %q", outcome.Passed, truth.TestPattern)},
	}
}

// checkManualTruth delegates to the human-confirmation collaborator.
// It may block indefinitely; ctx cancellation fails just this item.
func (v *Verifier) checkManualTruth(ctx context.Context, truth spec.Truth) Result {
	if v.confirmer == nil {
		return Result{Error: "no confirmer configured for manual verification"}
	}

	confirmed, err := v.confirmer.Confirm(ctx, truth.Statement)
	if err != nil {
		return Result{Error: fmt.Sprintf("confirmation unavailable: %v", err)}
	}
	if !confirmed {
		return Result{Error: "human reviewer rejected the statement"}
	}
	return Result{Passed: true, Evidence: []string{"confirmed by human reviewer"}}
}

func (v *Verifier) checkRuntimeTruth(ctx context.Context, truth spec.Truth) Result {
	if v.prober == nil {
		return Result{Error: "no runtime prober configured"}
	}

	outcome, err := v.prober.Probe(ctx, truth.Statement)
	if err != nil {
		return Result{Error: fmt.Sprintf("runtime probe failed: %v", err)}
	}
	if !outcome.Success {
		return Result{Error: "runtime probe reported failure", Evidence: evidenceList(outcome.Evidence)}
	}
	return Result{Passed: true, Evidence: evidenceList(outcome.Evidence)}
}

// checkArtifact runs the four sub-checks. A missing file is an
// immediate fail for this artifact; the remaining sub-checks are
// recorded as false without being attempted.
func (v *Verifier) checkArtifact(artifact spec.Artifact, root string) ArtifactResult {
	res := ArtifactResult{Artifact: artifact}

	data, err := os.ReadFile(filepath.Join(root, artifact.Path))
	if err != nil {
		res.Result = Result{Error: fmt.Sprintf("file not found: %s", artifact.Path)}
		return res
	}
	res.Exists = true
	src := string(data)

	res.LineCount = countLines(src)
	res.MinLines = res.LineCount >= artifact.MinLines

	found := patterns.Names(patterns.ExtractExports(src))
	res.MissingExports = missingFrom(artifact.RequiredExports, found)
	res.Exports = len(res.MissingExports) == 0

	foundFns := patterns.Names(patterns.ExtractFunctions(src))
	res.MissingFunctions = missingFrom(artifact.RequiredFunctions, foundFns)
	res.Functions = len(res.MissingFunctions) == 0

	res.Result.Passed = res.MinLines && res.Exports && res.Functions
	if res.Result.Passed {
		res.Result.Evidence = []string{fmt.Sprintf("%s: %d lines, all required exports and functions present", artifact.Path, res.LineCount)}
		return res
	}

	var problems []string
	if !res.MinLines {
		problems = append(problems, fmt.Sprintf("%d lines, need >= %d", res.LineCount, artifact.MinLines))
	}
	if !res.Exports {
		problems = append(problems, fmt.Sprintf("missing exports: %s", strings.Join(res.MissingExports, ", ")))
	}
	if !res.Functions {
		problems = append(problems, fmt.Sprintf("missing functions: %s", strings.Join(res.MissingFunctions, ", ")))
	}
	res.Result.Error = strings.Join(problems, "; ")
	return res
}

// checkKeyLink requires the source file to exist and the pattern to
// match at least once. A pattern that does not compile is recorded as a
// configuration error scoped to this one check; the rest of the pass
// is unaffected.
func checkKeyLink(link spec.KeyLink, root string) KeyLinkResult {
	res := KeyLinkResult{Link: link}

	data, err := os.ReadFile(filepath.Join(root, link.From))
	if err != nil {
		res.Result = Result{Error: fmt.Sprintf("source missing: %s", link.From)}
		return res
	}

	matches, err := patterns.FindLinks(string(data), link.Pattern)
	if err != nil {
		res.Result = Result{Error: err.Error(), ConfigError: true}
		return res
	}
	if len(matches) == 0 {
		res.Result = Result{Error: fmt.Sprintf("pattern not found: %s -> %s", link.From, link.To)}
		return res
	}

	res.Matches = matches
	evidence := make([]string, 0, len(matches))
	for _, m := range matches {
		evidence = append(evidence, fmt.Sprintf("line %d: %s", m.Line, strings.TrimSpace(m.Text)))
	}
	res.Result = Result{Passed: true, Evidence: evidence}
	return res
}

// countLines counts lines the way an editor does: a trailing newline
// does not start an extra line.
func countLines(src string) int {
	if src == "" {
		return 0
	}
	n := strings.Count(src, "\n")
	if !strings.HasSuffix(src, "\n") {
		n++
	}
	return n
}

func missingFrom(required, found []string) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]bool, len(found))
	for _, name := range found {
		have[name] = true
	}
	var missing []string
	for _, name := range required {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func evidenceList(evidence string) []string {
	if evidence == "" {
		return nil
	}
	return []string{evidence}
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "... [truncated]\n" + s[len(s)-maxLen:]
}
