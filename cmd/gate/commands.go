package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goalgate/internal/check"
	"goalgate/internal/engine"
	"goalgate/internal/gap"
	"goalgate/internal/schedule"
	"goalgate/internal/spec"
	"goalgate/internal/store"
	"goalgate/internal/verify"
	"goalgate/internal/watch"
)

// verifyCmd runs one verification pass.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the workspace against the must-have spec",
	Long: `Runs every truth, artifact, and key-link check in the spec and
reports pass/fail with evidence. The pass has no side effects on the
workspace and caches nothing; rerunning it always re-checks reality.`,
	RunE: runVerify,
}

// planCmd derives gap-closure tasks from a failing verification.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Derive gap-closure tasks from verification failures",
	Long: `Verifies the spec, converts each failed item into a gap, and emits
one remediation task per gap. Tasks name the fix; they never contain
generated code.`,
	RunE: runPlan,
}

// partitionCmd previews the wave schedule for a task file.
var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Partition a task file into parallel waves",
	Long: `Groups tasks into waves where no two tasks touch the same file and
every dependency lands in an earlier wave. Prints the schedule without
executing anything.`,
	RunE: runPartition,
}

// runCmd executes a task file wave by wave.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task file in parallel waves, then the validation checks",
	RunE:  runRun,
}

// loopCmd runs the bounded verify-plan-execute loop.
var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Close spec gaps iteratively until the spec verifies clean",
	Long: `Repeats verify, plan, execute until every check passes or the
iteration budget runs out. Stops early when two consecutive passes
leave an identical gap set.`,
	RunE: runLoop,
}

// checkCmd runs only the validation check suite.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the validation check suite",
	RunE:  runCheck,
}

// watchCmd re-verifies when spec-referenced files change.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch spec-referenced files and re-verify on drift",
	RunE:  runWatch,
}

// historyCmd lists past runs from the audit store.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent verification and execution runs",
	RunE:  runHistory,
}

// newRunContext returns a context cancelled by SIGINT/SIGTERM.
func newRunContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func inWorkspace(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

func loadSpec() (*spec.MustHaveSpec, error) {
	return spec.Load(inWorkspace(specPath))
}

func newVerifier() *verify.Verifier {
	return verify.New(
		&verify.ShellTestRunner{
			Command:        cfg.Verify.TestCommand,
			Dir:            workspace,
			ResultPattern:  cfg.Verify.ResultPattern,
			NoTestsPattern: cfg.Verify.NoTestsPattern,
			CountsPattern:  cfg.Verify.CountsPattern,
		},
		&ConsoleConfirmer{},
		&verify.ShellProber{Command: "{check}", Dir: workspace},
	)
}

func openStore() (*store.Store, error) {
	return store.New(inWorkspace(cfg.Store.DatabasePath))
}

// loadChecks returns the configured check suite, or no checks when the
// suite file does not exist.
func loadChecks() ([]check.Check, error) {
	path := inWorkspace(cfg.Schedule.ChecksPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	suite, err := check.LoadSuite(path)
	if err != nil {
		return nil, err
	}
	return suite.Checks, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRunContext()
	defer cancel()

	s, err := loadSpec()
	if err != nil {
		return err
	}

	summary, err := newVerifier().Verify(ctx, s, workspace)
	if err != nil {
		return err
	}

	if st, serr := openStore(); serr == nil {
		if _, serr := st.SaveSummary("verify", summary); serr != nil {
			logger.Warn("failed to record run", zap.Error(serr))
		}
		st.Close()
	}

	if asJSON {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		printSummary(summary)
	}

	if !summary.Passed {
		return fmt.Errorf("verification failed: %d item(s)", summary.FailedCount())
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRunContext()
	defer cancel()

	s, err := loadSpec()
	if err != nil {
		return err
	}

	summary, err := newVerifier().Verify(ctx, s, workspace)
	if err != nil {
		return err
	}

	gaps := gap.FromSummary(summary)
	plan := gap.Plan(gaps)

	if st, serr := openStore(); serr == nil {
		if runID, serr := st.SaveSummary("plan", summary); serr == nil {
			if serr := st.SavePlan(runID, plan); serr != nil {
				logger.Warn("failed to record plan", zap.Error(serr))
			}
		}
		st.Close()
	}

	if asJSON {
		return printJSON(plan)
	}

	if len(plan.Tasks) == 0 {
		fmt.Println("No gaps: spec verifies clean.")
		return nil
	}
	fmt.Printf("%d gap-closure task(s):\n", len(plan.Tasks))
	for i, t := range plan.Tasks {
		fmt.Printf("%2d. [%s] %s\n    target: %s\n    fix: %s\n", i+1, t.Gap.Type, t.Title, t.Target, t.Fix)
	}
	return nil
}

func runPartition(cmd *cobra.Command, args []string) error {
	tasks, err := schedule.LoadTasks(inWorkspace(tasksPath))
	if err != nil {
		return err
	}

	waves, err := schedule.Partition(schedule.PrioritizeGapClosure(tasks))
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(waves)
	}

	for _, w := range waves {
		fmt.Printf("wave %d:\n", w.Index)
		for _, t := range w.Tasks {
			fmt.Printf("  - %s", t.ID)
			if len(t.FilesModified) > 0 {
				fmt.Printf(" (%v)", t.FilesModified)
			}
			fmt.Println()
		}
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRunContext()
	defer cancel()

	tasks, err := schedule.LoadTasks(inWorkspace(tasksPath))
	if err != nil {
		return err
	}
	checks, err := loadChecks()
	if err != nil {
		return err
	}

	waves, err := schedule.Partition(schedule.PrioritizeGapClosure(tasks))
	if err != nil {
		return err
	}

	runner := schedule.NewRunner(&schedule.ShellExecutor{Dir: workspace}, workspace)
	report, err := runner.Run(ctx, waves, checks)
	if err != nil {
		return err
	}

	if asJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.Passed {
		return fmt.Errorf("run failed at wave %d", *report.FailedAt)
	}
	return nil
}

func runLoop(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRunContext()
	defer cancel()

	s, err := loadSpec()
	if err != nil {
		return err
	}
	checks, err := loadChecks()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		logger.Warn("audit store unavailable", zap.Error(err))
		st = nil
	} else {
		defer st.Close()
	}

	eng := engine.New(newVerifier(), &schedule.ShellExecutor{Dir: workspace}, engine.Options{
		Workdir:          workspace,
		MaxIterations:    cfg.Engine.MaxIterations,
		StopOnNoProgress: cfg.Engine.StopOnNoProgress,
		Store:            st,
	})

	result, err := eng.CloseGaps(ctx, s, workspace, checks)
	if asJSON {
		if perr := printJSON(result); perr != nil {
			return perr
		}
	} else {
		for _, it := range result.Iterations {
			status := "failed"
			if it.Summary.Passed {
				status = "passed"
			}
			gaps := 0
			if it.Plan != nil {
				gaps = len(it.Plan.Tasks)
			}
			fmt.Printf("iteration %d: %s (%d gap(s))\n", it.Index+1, status, gaps)
		}
	}

	switch {
	case err == nil:
		fmt.Println("spec verifies clean")
		return nil
	case errors.Is(err, engine.ErrNoProgress):
		return fmt.Errorf("gap closure stalled: %w", err)
	case errors.Is(err, engine.ErrMaxIterationsExceeded):
		return fmt.Errorf("gaps remain after %d iteration(s): %w", len(result.Iterations), err)
	default:
		return err
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRunContext()
	defer cancel()

	checks, err := loadChecks()
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		fmt.Printf("no checks configured (%s)\n", cfg.Schedule.ChecksPath)
		return nil
	}

	runner := schedule.NewRunner(&schedule.ShellExecutor{Dir: workspace}, workspace)
	report, err := runner.Run(ctx, nil, checks)
	if err != nil {
		return err
	}

	if asJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.Passed {
		return fmt.Errorf("validation checks failed")
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRunContext()
	defer cancel()

	s, err := loadSpec()
	if err != nil {
		return err
	}

	verifier := newVerifier()
	w, err := watch.New(workspace, s, cfg.GetDebounce(), func(ctx context.Context, changed []string) {
		fmt.Printf("drift: %d file(s) changed, re-verifying\n", len(changed))
		summary, verr := verifier.Verify(ctx, s, workspace)
		if verr != nil {
			fmt.Fprintf(os.Stderr, "verification error: %v\n", verr)
			return
		}
		printSummary(summary)
	})
	if err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("watching %d file(s); Ctrl-C to stop\n", len(s.Artifacts)+2*len(s.KeyLinks))
	<-ctx.Done()
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.History(20)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	fmt.Printf("%-36s  %-8s  %-6s  %6s  %5s  %s\n", "RUN", "KIND", "PASSED", "FAILED", "GAPS", "WHEN")
	for _, r := range runs {
		fmt.Printf("%-36s  %-8s  %-6v  %6d  %5d  %s\n",
			r.ID, r.Kind, r.Passed, r.FailedCount, r.GapCount, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printSummary(s *verify.Summary) {
	mark := func(ok bool) string {
		if ok {
			return "PASS"
		}
		return "FAIL"
	}

	for _, r := range s.Truths {
		fmt.Printf("[%s] truth: %s\n", mark(r.Result.Passed), r.Truth.Statement)
		if r.Result.Error != "" {
			fmt.Printf("       %s\n", r.Result.Error)
		}
	}
	for _, r := range s.Artifacts {
		fmt.Printf("[%s] artifact: %s\n", mark(r.Result.Passed), r.Artifact.Path)
		if r.Result.Error != "" {
			fmt.Printf("       %s\n", r.Result.Error)
		}
	}
	for _, r := range s.KeyLinks {
		fmt.Printf("[%s] link: %s -> %s\n", mark(r.Result.Passed), r.Link.From, r.Link.To)
		if r.Result.Error != "" {
			fmt.Printf("       %s\n", r.Result.Error)
		}
	}
	fmt.Printf("%s: %d failed of %d item(s) in %v\n",
		mark(s.Passed), s.FailedCount(),
		len(s.Truths)+len(s.Artifacts)+len(s.KeyLinks), s.Duration.Round(time.Millisecond))
}

func printReport(r *schedule.ValidationReport) {
	for _, w := range r.Waves {
		fmt.Printf("wave %d: %s (%v)\n", w.Index, w.Status, w.Duration.Round(time.Millisecond))
		for _, u := range w.Units {
			status := "ok"
			switch {
			case u.TimedOut:
				status = "timeout"
			case u.Cancelled:
				status = "cancelled"
			case !u.Success:
				status = "failed"
			}
			fmt.Printf("  %-5s %-30s %s\n", u.Kind, u.Name, status)
		}
	}
	for _, warning := range r.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	fmt.Printf("parallel %v vs sequential %v (%.1f%% saved)\n",
		r.ParallelDuration.Round(time.Millisecond), r.SequentialEstimate.Round(time.Millisecond), r.SavingsPercent)
}
