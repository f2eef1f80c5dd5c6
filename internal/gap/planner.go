// Package gap converts verification failures into an ordered
// remediation plan. A Gap is derived 1:1 from each failed verification
// result; the planner emits exactly one closure task per gap, carrying
// structured remediation instructions only, never synthesized code.
// Termination of the verify/close cycle is the caller's policy.
package gap

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"goalgate/internal/logging"
	"goalgate/internal/spec"
	"goalgate/internal/verify"
)

// Type classifies what kind of failure produced a gap.
type Type string

const (
	TypeTruthFailed      Type = "truth_failed"
	TypeArtifactMissing  Type = "artifact_missing"
	TypeArtifactTooShort Type = "artifact_too_short"
	TypeMissingExport    Type = "missing_export" // Missing export or function
	TypeKeyLinkMissing   Type = "key_link_missing"
)

// Severity ranks how badly a gap blocks completion.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Gap is a single failed verification item. Gaps are ephemeral: they
// live only between a verification pass and the plan derived from it.
type Gap struct {
	Type       Type          `json:"type"`
	Severity   Severity      `json:"severity"`
	SourceItem string        `json:"source_item"`
	Result     verify.Result `json:"result"`

	Truth    *spec.Truth    `json:"truth,omitempty"`
	Artifact *spec.Artifact `json:"artifact,omitempty"`
	Link     *spec.KeyLink  `json:"link,omitempty"`

	// Missing names for export/function gaps, exports first.
	Missing []string `json:"missing,omitempty"`

	// CurrentLines for too-short gaps.
	CurrentLines int `json:"current_lines,omitempty"`
}

// ClosureTask is an auto-generated remediation task targeting exactly
// one gap. It persists until re-verification confirms closure.
type ClosureTask struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Target     string `json:"target"`
	Fix        string `json:"fix"`
	GapClosure bool   `json:"gap_closure"`
	Gap        Gap    `json:"gap"`
}

// ClosurePlan is the ordered remediation task list for one pass.
// Order follows gap discovery order, which is also execution priority.
type ClosurePlan struct {
	Tasks     []ClosureTask `json:"tasks"`
	CreatedAt time.Time     `json:"created_at"`
}

// FromSummary derives gaps from a verification summary in discovery
// order: Truths, then Artifacts, then KeyLinks. Results that failed
// because of a configuration error are not gaps; they must be fixed in
// the spec file, not in the project.
func FromSummary(summary *verify.Summary) []Gap {
	var gaps []Gap

	for i := range summary.Truths {
		r := &summary.Truths[i]
		if r.Result.Passed || r.Result.ConfigError {
			continue
		}
		truth := r.Truth
		gaps = append(gaps, Gap{
			Type:       TypeTruthFailed,
			Severity:   SeverityCritical,
			SourceItem: truth.Statement,
			Result:     r.Result,
			Truth:      &truth,
		})
	}

	for i := range summary.Artifacts {
		r := &summary.Artifacts[i]
		if r.Result.Passed || r.Result.ConfigError {
			continue
		}
		gaps = append(gaps, artifactGap(r))
	}

	for i := range summary.KeyLinks {
		r := &summary.KeyLinks[i]
		if r.Result.Passed || r.Result.ConfigError {
			continue
		}
		link := r.Link
		gaps = append(gaps, Gap{
			Type:       TypeKeyLinkMissing,
			Severity:   SeverityMajor,
			SourceItem: fmt.Sprintf("%s -> %s", link.From, link.To),
			Result:     r.Result,
			Link:       &link,
		})
	}

	logging.Gap("derived %d gaps from summary (passed=%v)", len(gaps), summary.Passed)
	return gaps
}

// artifactGap picks the dominant failure for one artifact: a missing
// file outranks a short file, which outranks missing names. The gap
// stays 1:1 with the failed item either way.
func artifactGap(r *verify.ArtifactResult) Gap {
	artifact := r.Artifact
	g := Gap{
		SourceItem: artifact.Path,
		Result:     r.Result,
		Artifact:   &artifact,
	}

	switch {
	case !r.Exists:
		g.Type = TypeArtifactMissing
		g.Severity = SeverityCritical
	case !r.MinLines:
		g.Type = TypeArtifactTooShort
		g.Severity = SeverityMinor
		g.CurrentLines = r.LineCount
	default:
		g.Type = TypeMissingExport
		g.Severity = SeverityMajor
		g.Missing = append(append([]string{}, r.MissingExports...), r.MissingFunctions...)
	}
	return g
}

// Plan emits exactly one gap-closure task per gap, in input order.
func Plan(gaps []Gap) *ClosurePlan {
	plan := &ClosurePlan{CreatedAt: time.Now()}

	for _, g := range gaps {
		task := ClosureTask{
			ID:         uuid.NewString(),
			GapClosure: true,
			Gap:        g,
		}

		switch g.Type {
		case TypeTruthFailed:
			task.Target = inferTruthTarget(g.Truth)
			task.Title = fmt.Sprintf("Make true: %s", g.Truth.Statement)
			task.Fix = fmt.Sprintf("Satisfy the acceptance requirement %q so that %s verification passes.",
				g.Truth.Statement, g.Truth.Method)
			if g.Truth.TestPattern != "" {
				task.Fix += fmt.Sprintf(" Tests matching %q must pass and must match at least one test.", g.Truth.TestPattern)
			}

		case TypeArtifactMissing:
			task.Target = g.Artifact.Path
			task.Title = fmt.Sprintf("Create %s", g.Artifact.Path)
			task.Fix = fmt.Sprintf("Create %s implementing: %s.", g.Artifact.Path, orUnspecified(g.Artifact.Provides))
			if len(g.Artifact.RequiredExports) > 0 {
				task.Fix += fmt.Sprintf(" Export: %s.", strings.Join(g.Artifact.RequiredExports, ", "))
			}
			if len(g.Artifact.RequiredFunctions) > 0 {
				task.Fix += fmt.Sprintf(" Define functions: %s.", strings.Join(g.Artifact.RequiredFunctions, ", "))
			}

		case TypeArtifactTooShort:
			task.Target = g.Artifact.Path
			task.Title = fmt.Sprintf("Extend %s", g.Artifact.Path)
			task.Fix = fmt.Sprintf("Extend %s to at least %d lines of substantive logic (currently %d). No filler.",
				g.Artifact.Path, g.Artifact.MinLines, g.CurrentLines)

		case TypeMissingExport:
			task.Target = g.Artifact.Path
			task.Title = fmt.Sprintf("Add %s to %s", strings.Join(g.Missing, ", "), g.Artifact.Path)
			task.Fix = fmt.Sprintf("Add the named exports/functions to %s: %s.",
				g.Artifact.Path, strings.Join(g.Missing, ", "))

		case TypeKeyLinkMissing:
			task.Target = g.Link.From
			task.Title = fmt.Sprintf("Connect %s to %s", g.Link.From, g.Link.To)
			task.Fix = fmt.Sprintf("Add code in %s matching pattern %q, connecting it to %s.",
				g.Link.From, g.Link.Pattern, g.Link.To)
			if g.Link.Description != "" {
				task.Fix += " Purpose: " + g.Link.Description
			}
		}

		plan.Tasks = append(plan.Tasks, task)
	}

	logging.Gap("planned %d closure tasks", len(plan.Tasks))
	return plan
}

// inferTruthTarget guesses the file a truth is about. Truths carry no
// path of their own; the test pattern is the closest handle we have.
func inferTruthTarget(truth *spec.Truth) string {
	if truth.TestPattern != "" {
		return truth.TestPattern
	}
	return ""
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unspecified deliverable"
	}
	return s
}
