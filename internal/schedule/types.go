// Package schedule partitions tasks into file-disjoint, dependency
// respecting concurrency waves and executes them with barrier
// synchronization. File-disjointness inside a wave is the central
// correctness invariant: concurrent write conflicts are impossible by
// construction, so tasks in a wave need no locking between them.
package schedule

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskStatus tracks a task through the wave state machine.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Task is an atomic unit of work. FilesModified declares the task's
// mutation rights; the scheduler enforces them as a precondition
// rather than a runtime lock. Command is optional: tasks without one
// are delegated to the injected Executor (typically an agent host).
type Task struct {
	ID            string   `yaml:"id" json:"id"`
	Title         string   `yaml:"title,omitempty" json:"title,omitempty"`
	FilesModified []string `yaml:"files_modified,omitempty" json:"files_modified,omitempty"`
	Agent         string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	Model         string   `yaml:"model,omitempty" json:"model,omitempty"`
	DependsOn     []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	GapClosure    bool     `yaml:"gap_closure,omitempty" json:"gap_closure,omitempty"`
	Critical      bool     `yaml:"critical,omitempty" json:"critical,omitempty"`
	Command       string   `yaml:"command,omitempty" json:"command,omitempty"`
	TimeoutSec    int      `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`

	Status TaskStatus `yaml:"-" json:"status,omitempty"`
}

// Timeout resolves the effective per-task timeout.
func (t Task) Timeout() time.Duration {
	if t.TimeoutSec > 0 {
		return time.Duration(t.TimeoutSec) * time.Second
	}
	return 10 * time.Minute
}

// Wave is an ordered group of tasks with no pairwise file overlap and
// no unresolved dependency. Waves are recomputed each scheduling cycle.
type Wave struct {
	Index int    `json:"index"`
	Tasks []Task `json:"tasks"`
}

// WaveStatus tracks a wave through Pending -> Running -> terminal.
type WaveStatus string

const (
	WavePending   WaveStatus = "pending"
	WaveRunning   WaveStatus = "running"
	WaveCompleted WaveStatus = "completed"
	WaveFailed    WaveStatus = "failed"
	WaveSkipped   WaveStatus = "skipped"
)

// UnitKind distinguishes tasks from validation checks in a report.
type UnitKind string

const (
	UnitTask  UnitKind = "task"
	UnitCheck UnitKind = "check"
)

// UnitResult is the outcome of one task or check execution.
type UnitResult struct {
	Name      string        `json:"name"`
	Kind      UnitKind      `json:"kind"`
	Critical  bool          `json:"critical"`
	Success   bool          `json:"success"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Error     string        `json:"error,omitempty"`
	Output    string        `json:"output,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// WaveResult aggregates one wave's unit results.
type WaveResult struct {
	Index    int           `json:"index"`
	Status   WaveStatus    `json:"status"`
	Units    []UnitResult  `json:"units,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ValidationReport is the JSON-serializable outcome of a full run.
// SequentialEstimate sums every unit's own duration; SavingsPercent is
// (1 - parallel/sequential) x 100.
type ValidationReport struct {
	Waves              []WaveResult  `json:"waves"`
	Passed             bool          `json:"passed"`
	FailedAt           *int          `json:"failed_at,omitempty"` // Wave index of the critical failure
	Warnings           []string      `json:"warnings,omitempty"`
	ParallelDuration   time.Duration `json:"parallel_duration"`
	SequentialEstimate time.Duration `json:"sequential_estimate"`
	SavingsPercent     float64       `json:"savings_percent"`
}

// TaskFile is the on-disk YAML format for a task set.
type TaskFile struct {
	Version int    `yaml:"version"`
	Tasks   []Task `yaml:"tasks"`
}

// LoadTasks reads a YAML task file from disk.
func LoadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse task file YAML: %w", err)
	}
	for i, task := range tf.Tasks {
		if strings.TrimSpace(task.ID) == "" {
			return nil, fmt.Errorf("task[%d]: id is required", i)
		}
	}
	return tf.Tasks, nil
}
