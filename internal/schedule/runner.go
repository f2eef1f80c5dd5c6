package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"goalgate/internal/check"
	"goalgate/internal/logging"
)

// errCriticalFailure aborts the remaining schedule. It carries no
// detail of its own; the offending unit's result does.
var errCriticalFailure = errors.New("critical failure")

// Executor runs one task. Agent invocation lives behind this interface;
// the core never talks to a model itself.
type Executor interface {
	Execute(ctx context.Context, task *Task) (string, error)
}

// ShellExecutor executes tasks that declare a command via the local
// shell. Tasks without a command succeed as no-ops, which keeps dry
// runs and agent-delegated plans schedulable.
type ShellExecutor struct {
	Dir string
}

// Execute implements Executor.
func (e *ShellExecutor) Execute(ctx context.Context, task *Task) (string, error) {
	if task.Command == "" {
		return "", nil
	}
	return check.RunShell(ctx, task.Command, e.Dir)
}

// Runner executes waves with barrier synchronization. All units of a
// wave start concurrently; the wave completes when its last unit
// finishes. A critical failure cancels still-running siblings
// best-effort and skips every subsequent wave.
type Runner struct {
	executor Executor
	checkDir string
}

// NewRunner creates a Runner. checkDir is the working directory for
// validation check commands.
func NewRunner(executor Executor, checkDir string) *Runner {
	return &Runner{executor: executor, checkDir: checkDir}
}

// Run executes the task waves and then the validation checks as a
// final wave of their own. Completed waves' results are always
// retained, including on abort.
func (r *Runner) Run(ctx context.Context, waves []Wave, checks []check.Check) (*ValidationReport, error) {
	report := &ValidationReport{Passed: true}
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aborted := false
	for i := range waves {
		if aborted {
			report.Waves = append(report.Waves, WaveResult{Index: waves[i].Index, Status: WaveSkipped})
			continue
		}
		wr := r.runTaskWave(runCtx, &waves[i])
		report.Waves = append(report.Waves, wr)
		r.accumulate(report, wr)
		if wr.Status == WaveFailed {
			idx := waves[i].Index
			report.FailedAt = &idx
			report.Passed = false
			aborted = true
			logging.Schedule("critical failure in wave %d, aborting remaining waves", idx)
		}
	}

	if len(checks) > 0 {
		checkIndex := len(waves)
		if aborted {
			report.Waves = append(report.Waves, WaveResult{Index: checkIndex, Status: WaveSkipped})
		} else {
			wr := r.runCheckWave(runCtx, checkIndex, checks)
			report.Waves = append(report.Waves, wr)
			r.accumulate(report, wr)
			if wr.Status == WaveFailed {
				report.FailedAt = &wr.Index
				report.Passed = false
			}
		}
	}

	report.ParallelDuration = time.Since(start)
	if report.SequentialEstimate > 0 {
		report.SavingsPercent = (1 - float64(report.ParallelDuration)/float64(report.SequentialEstimate)) * 100
	}

	logging.Schedule("run finished: passed=%v waves=%d parallel=%v sequential=%v savings=%.1f%%",
		report.Passed, len(report.Waves), report.ParallelDuration, report.SequentialEstimate, report.SavingsPercent)

	return report, ctx.Err()
}

// runTaskWave starts every task in the wave concurrently and blocks at
// the barrier until the last one finishes or a critical failure
// cancels the group.
func (r *Runner) runTaskWave(ctx context.Context, wave *Wave) WaveResult {
	wr := WaveResult{Index: wave.Index, Status: WaveRunning}
	waveStart := time.Now()

	logging.Schedule("wave %d starting with %d tasks", wave.Index, len(wave.Tasks))

	results := make([]UnitResult, len(wave.Tasks))
	eg, egCtx := errgroup.WithContext(ctx)

	for i := range wave.Tasks {
		task := &wave.Tasks[i]
		task.Status = TaskRunning
		i := i
		eg.Go(func() error {
			results[i] = r.runTask(egCtx, task)
			if !results[i].Success {
				task.Status = TaskFailed
				if task.Critical || results[i].Critical {
					return errCriticalFailure
				}
				return nil
			}
			task.Status = TaskCompleted
			return nil
		})
	}

	err := eg.Wait() // Barrier: the wave completes here.

	wr.Units = results
	wr.Duration = time.Since(waveStart)
	if err != nil {
		wr.Status = WaveFailed
	} else {
		wr.Status = WaveCompleted
	}
	return wr
}

// runTask executes one task with its own timeout. A timeout is treated
// exactly like a failure of the task's own criticality class.
func (r *Runner) runTask(ctx context.Context, task *Task) UnitResult {
	res := UnitResult{
		Name:     task.ID,
		Kind:     UnitTask,
		Critical: task.Critical,
	}
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	out, err := r.executor.Execute(tctx, task)
	res.Output = out
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Success = true
	case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.Error = fmt.Sprintf("task %s timed out after %v", task.ID, task.Timeout())
	case ctx.Err() != nil:
		res.Cancelled = true
		res.Error = "cancelled"
	default:
		res.Error = err.Error()
	}
	return res
}

// runCheckWave runs all validation checks concurrently as one wave.
func (r *Runner) runCheckWave(ctx context.Context, index int, checks []check.Check) WaveResult {
	wr := WaveResult{Index: index, Status: WaveRunning}
	waveStart := time.Now()

	logging.Schedule("validation wave %d starting with %d checks", index, len(checks))

	results := make([]UnitResult, len(checks))
	eg, egCtx := errgroup.WithContext(ctx)

	for i := range checks {
		c := checks[i]
		i := i
		eg.Go(func() error {
			results[i] = r.runCheck(egCtx, c)
			if !results[i].Success && c.IsCritical() {
				return errCriticalFailure
			}
			return nil
		})
	}

	err := eg.Wait()

	wr.Units = results
	wr.Duration = time.Since(waveStart)
	if err != nil {
		wr.Status = WaveFailed
	} else {
		wr.Status = WaveCompleted
	}
	return wr
}

func (r *Runner) runCheck(ctx context.Context, c check.Check) UnitResult {
	res := UnitResult{
		Name:     c.Name,
		Kind:     UnitCheck,
		Critical: c.IsCritical(),
	}
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	out, err := check.RunShell(tctx, c.Command, r.checkDir)
	res.Output = out
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Success = true
	case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.Error = fmt.Sprintf("check %s timed out after %v", c.Name, c.Timeout())
	case ctx.Err() != nil:
		res.Cancelled = true
		res.Error = "cancelled"
	default:
		res.Error = err.Error()
	}
	return res
}

// accumulate folds a wave's unit durations and warnings into the report.
func (r *Runner) accumulate(report *ValidationReport, wr WaveResult) {
	for _, u := range wr.Units {
		report.SequentialEstimate += u.Duration
		if !u.Success && !u.Critical && !u.Cancelled {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s %s failed (non-critical): %s", u.Kind, u.Name, u.Error))
		}
	}
}
