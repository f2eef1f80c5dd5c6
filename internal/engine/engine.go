// Package engine drives the gap-closure loop: verify, derive gaps,
// schedule remediation, execute, and verify again. The loop is bounded
// by a maximum iteration count and by a no-progress check, so a gap no
// executor can close escalates instead of spinning.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"goalgate/internal/check"
	"goalgate/internal/gap"
	"goalgate/internal/logging"
	"goalgate/internal/schedule"
	"goalgate/internal/spec"
	"goalgate/internal/store"
	"goalgate/internal/verify"
)

// ErrMaxIterationsExceeded is returned when gaps remain after the last
// allowed iteration.
var ErrMaxIterationsExceeded = errors.New("max iterations exceeded - escalating to user")

// ErrNoProgress is returned when two consecutive iterations leave the
// exact same gap set, meaning remediation is not converging.
var ErrNoProgress = errors.New("no progress between iterations")

// Engine owns one gap-closure loop. The store is optional; without it
// the loop simply runs unaudited.
type Engine struct {
	verifier *verify.Verifier
	executor schedule.Executor
	store    *store.Store

	workdir          string
	maxIterations    int
	stopOnNoProgress bool
}

// Options configures an Engine.
type Options struct {
	Workdir          string
	MaxIterations    int
	StopOnNoProgress bool
	Store            *store.Store
}

// Iteration is the record of one loop cycle.
type Iteration struct {
	Index   int                        `json:"index"`
	RunID   string                     `json:"run_id,omitempty"`
	Summary *verify.Summary            `json:"summary"`
	Plan    *gap.ClosurePlan           `json:"plan,omitempty"`
	Report  *schedule.ValidationReport `json:"report,omitempty"`
}

// LoopResult aggregates every iteration plus the final verdict.
type LoopResult struct {
	Iterations []Iteration     `json:"iterations"`
	Passed     bool            `json:"passed"`
	Final      *verify.Summary `json:"final"`
}

// New creates an Engine.
func New(verifier *verify.Verifier, executor schedule.Executor, opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 3
	}
	return &Engine{
		verifier:         verifier,
		executor:         executor,
		store:            opts.Store,
		workdir:          opts.Workdir,
		maxIterations:    opts.MaxIterations,
		stopOnNoProgress: opts.StopOnNoProgress,
	}
}

// CloseGaps runs the loop until the spec verifies clean, the iteration
// budget is spent, or the gap set stops shrinking. The returned
// LoopResult is valid even when the error is non-nil.
func (e *Engine) CloseGaps(ctx context.Context, s *spec.MustHaveSpec, root string, checks []check.Check) (*LoopResult, error) {
	result := &LoopResult{}
	lastFingerprint := ""

	for attempt := 0; attempt < e.maxIterations; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		logging.Engine("iteration %d/%d starting", attempt+1, e.maxIterations)

		summary, err := e.verifier.Verify(ctx, s, root)
		if err != nil {
			// Malformed spec: fail fast, never remediate.
			return result, err
		}

		iter := Iteration{Index: attempt, Summary: summary}
		result.Final = summary

		if e.store != nil {
			runID, serr := e.store.SaveSummary("loop", summary)
			if serr != nil {
				logging.EngineWarn("failed to record iteration %d: %v", attempt, serr)
			}
			iter.RunID = runID
		}

		if summary.Passed {
			result.Iterations = append(result.Iterations, iter)
			result.Passed = true
			logging.Engine("iteration %d: spec verified clean", attempt+1)
			return result, nil
		}

		gaps := gap.FromSummary(summary)
		if len(gaps) == 0 {
			// Failures without gaps are all configuration errors.
			result.Iterations = append(result.Iterations, iter)
			return result, fmt.Errorf("verification failed with no closable gaps")
		}

		fp := fingerprint(gaps)
		if e.stopOnNoProgress && fp == lastFingerprint {
			result.Iterations = append(result.Iterations, iter)
			logging.EngineWarn("iteration %d: identical gap set, stopping", attempt+1)
			return result, ErrNoProgress
		}
		lastFingerprint = fp

		plan := gap.Plan(gaps)
		iter.Plan = plan
		if e.store != nil && iter.RunID != "" {
			if serr := e.store.SavePlan(iter.RunID, plan); serr != nil {
				logging.EngineWarn("failed to record plan: %v", serr)
			}
		}

		tasks := toTasks(plan)
		waves, err := schedule.Partition(schedule.PrioritizeGapClosure(tasks))
		if err != nil {
			result.Iterations = append(result.Iterations, iter)
			return result, fmt.Errorf("failed to partition gap-closure tasks: %w", err)
		}

		runner := schedule.NewRunner(e.executor, e.workdir)
		report, err := runner.Run(ctx, waves, checks)
		iter.Report = report
		result.Iterations = append(result.Iterations, iter)
		if err != nil {
			return result, err
		}
		if e.store != nil && iter.RunID != "" {
			if serr := e.store.SaveReport(iter.RunID, report); serr != nil {
				logging.EngineWarn("failed to record report: %v", serr)
			}
		}

		// Even a failed remediation run gets re-verified: partial
		// closure still shrinks the next gap set.
	}

	// The last remediation run has not been verified yet; one closing
	// pass decides whether it actually converged.
	summary, err := e.verifier.Verify(ctx, s, root)
	if err != nil {
		return result, err
	}
	iter := Iteration{Index: e.maxIterations, Summary: summary}
	result.Final = summary
	if e.store != nil {
		runID, serr := e.store.SaveSummary("loop", summary)
		if serr != nil {
			logging.EngineWarn("failed to record closing pass: %v", serr)
		}
		iter.RunID = runID
	}
	result.Iterations = append(result.Iterations, iter)

	if summary.Passed {
		result.Passed = true
		logging.Engine("closing pass: spec verified clean")
		return result, nil
	}

	logging.EngineWarn("gap closure did not converge within %d iterations", e.maxIterations)
	return result, ErrMaxIterationsExceeded
}

// toTasks converts a closure plan into schedulable tasks. File claims
// come from the gap's subject so conflicting fixes serialize.
func toTasks(plan *gap.ClosurePlan) []schedule.Task {
	tasks := make([]schedule.Task, 0, len(plan.Tasks))
	for _, ct := range plan.Tasks {
		t := schedule.Task{
			ID:         ct.ID,
			Title:      ct.Title,
			GapClosure: true,
		}
		switch {
		case ct.Gap.Artifact != nil:
			t.FilesModified = []string{ct.Gap.Artifact.Path}
		case ct.Gap.Link != nil:
			t.FilesModified = []string{ct.Gap.Link.From, ct.Gap.Link.To}
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// fingerprint hashes the gap set independent of discovery order.
func fingerprint(gaps []gap.Gap) string {
	keys := make([]string, 0, len(gaps))
	for _, g := range gaps {
		keys = append(keys, string(g.Type)+"\x00"+g.SourceItem)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
