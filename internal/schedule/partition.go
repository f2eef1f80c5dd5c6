package schedule

import (
	"fmt"

	"goalgate/internal/logging"
)

// Partition assigns each task to the earliest wave where it conflicts
// with nothing: no shared files_modified entry with a task already in
// the wave, and every depends_on target in a strictly earlier wave.
// Assignment is greedy in input order, which makes the result
// deterministic for identical input ordering; optimal bin-packing is
// deliberately not attempted.
//
// A dependency that is unknown, or that appears later in the input than
// its dependent, is a planning defect and fails the whole partition.
func Partition(tasks []Task) ([]Wave, error) {
	waveOf := make(map[string]int, len(tasks))   // task ID -> wave index
	var assigned [][]Task                        // tasks per wave
	var files []map[string]bool                  // files claimed per wave

	for i, task := range tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task[%d] has no id", i)
		}
		if _, dup := waveOf[task.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", task.ID)
		}

		// A task must land strictly after every dependency's wave.
		min := 0
		for _, dep := range task.DependsOn {
			w, ok := waveOf[dep]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown or later task %q", task.ID, dep)
			}
			if w+1 > min {
				min = w + 1
			}
		}

		w := min
		for {
			if w == len(assigned) {
				assigned = append(assigned, nil)
				files = append(files, make(map[string]bool))
			}
			if !overlaps(files[w], task.FilesModified) {
				break
			}
			w++
		}

		waveOf[task.ID] = w
		assigned[w] = append(assigned[w], task)
		for _, f := range task.FilesModified {
			files[w][f] = true
		}
	}

	waves := make([]Wave, len(assigned))
	for i, batch := range assigned {
		waves[i] = Wave{Index: i, Tasks: batch}
	}

	logging.Schedule("partitioned %d tasks into %d waves", len(tasks), len(waves))
	return waves, nil
}

// PrioritizeGapClosure stably moves gap-closure tasks ahead of ordinary
// tasks before partitioning, so remediation lands in the earliest
// possible wave ahead of any ordinary task it shares files with.
func PrioritizeGapClosure(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.GapClosure {
			out = append(out, t)
		}
	}
	for _, t := range tasks {
		if !t.GapClosure {
			out = append(out, t)
		}
	}
	return out
}

func overlaps(claimed map[string]bool, files []string) bool {
	for _, f := range files {
		if claimed[f] {
			return true
		}
	}
	return false
}
