package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"goalgate/internal/config"
	"goalgate/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	specPath  string
	tasksPath string
	asJSON    bool
	timeout   time.Duration

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gate",
	Short: "gate - goal-backward verification and wave scheduling",
	Long: `gate verifies a codebase against a must-have spec and closes the gaps.

A must-have spec declares what done means: truths that must hold,
artifacts that must exist, and key links that must connect them.
gate works backward from that goal: verify everything, turn each
failure into a concrete gap-closure task, and execute the tasks in
file-disjoint parallel waves until the spec verifies clean.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace = "."
		}
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return fmt.Errorf("failed to resolve workspace: %w", err)
		}
		workspace = abs

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}

		cfg, err = config.Load(config.DefaultPath(workspace))
		if err != nil {
			return err
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&specPath, "spec", "s", "must-have.yaml", "Must-have spec file (relative to workspace)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	runCmd.Flags().StringVarP(&tasksPath, "tasks", "t", "tasks.yaml", "Task file (relative to workspace)")
	partitionCmd.Flags().StringVarP(&tasksPath, "tasks", "t", "tasks.yaml", "Task file (relative to workspace)")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(partitionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
