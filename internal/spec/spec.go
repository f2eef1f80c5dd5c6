// Package spec defines the Must-Have Specification: the declarative
// statement of what must be true, present, and connected for a unit of
// work to count as complete. A spec is loaded once, validated fast, and
// treated as immutable for the duration of a verification pass.
package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// VerificationMethod describes how a Truth is checked.
type VerificationMethod string

const (
	MethodTest            VerificationMethod = "test"
	MethodIntegrationTest VerificationMethod = "integration-test"
	MethodManual          VerificationMethod = "manual"
	MethodRuntime         VerificationMethod = "runtime"
)

// Truth is a behavioral assertion that must hold for the work to be done.
type Truth struct {
	Statement   string             `yaml:"statement" json:"statement"`
	Method      VerificationMethod `yaml:"method" json:"method"`
	TestPattern string             `yaml:"test_pattern,omitempty" json:"test_pattern,omitempty"`
}

// Artifact is a file-level deliverable with minimum structural
// requirements. Artifact checks are read-only and idempotent.
type Artifact struct {
	Path              string   `yaml:"path" json:"path"`
	Provides          string   `yaml:"provides,omitempty" json:"provides,omitempty"`
	MinLines          int      `yaml:"min_lines,omitempty" json:"min_lines,omitempty"`
	RequiredExports   []string `yaml:"required_exports,omitempty" json:"required_exports,omitempty"`
	RequiredFunctions []string `yaml:"required_functions,omitempty" json:"required_functions,omitempty"`
}

// KeyLink is a required code-level connection between components,
// checked by pattern matching in the source file.
type KeyLink struct {
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// MustHaveSpec is the ordered set of Truths, Artifacts, and KeyLinks
// for one unit of work.
type MustHaveSpec struct {
	Name      string     `yaml:"name,omitempty" json:"name,omitempty"`
	Truths    []Truth    `yaml:"truths,omitempty" json:"truths,omitempty"`
	Artifacts []Artifact `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	KeyLinks  []KeyLink  `yaml:"key_links,omitempty" json:"key_links,omitempty"`
}

// ConfigurationError reports a malformed spec: a missing required
// field, a negative bound, or a pattern that does not compile. It fails
// fast and is never counted as a verification gap.
type ConfigurationError struct {
	Item   string // Which spec item is malformed, e.g. `truth[2]`
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Item, e.Reason)
}

// Load reads a MustHaveSpec from a YAML or JSON file.
func Load(path string) (*MustHaveSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}

	var s MustHaveSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse spec JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse spec YAML: %w", err)
		}
	}
	return &s, nil
}

// Validate checks structural soundness before any verification runs.
// The first problem found is returned as a *ConfigurationError.
func (s *MustHaveSpec) Validate() error {
	for i, truth := range s.Truths {
		item := fmt.Sprintf("truth[%d]", i)
		if strings.TrimSpace(truth.Statement) == "" {
			return &ConfigurationError{Item: item, Reason: "statement is required"}
		}
		switch truth.Method {
		case MethodTest, MethodIntegrationTest:
			if strings.TrimSpace(truth.TestPattern) == "" {
				return &ConfigurationError{Item: item, Reason: fmt.Sprintf("test_pattern is required for method %q", truth.Method)}
			}
		case MethodManual, MethodRuntime:
		default:
			return &ConfigurationError{Item: item, Reason: fmt.Sprintf("unknown verification method %q", truth.Method)}
		}
	}

	for i, artifact := range s.Artifacts {
		item := fmt.Sprintf("artifact[%d]", i)
		if strings.TrimSpace(artifact.Path) == "" {
			return &ConfigurationError{Item: item, Reason: "path is required"}
		}
		if artifact.MinLines < 0 {
			return &ConfigurationError{Item: item, Reason: fmt.Sprintf("min_lines must be >= 0, got %d", artifact.MinLines)}
		}
	}

	for i, link := range s.KeyLinks {
		item := fmt.Sprintf("key_link[%d]", i)
		if strings.TrimSpace(link.From) == "" {
			return &ConfigurationError{Item: item, Reason: "from is required"}
		}
		if strings.TrimSpace(link.Pattern) == "" {
			return &ConfigurationError{Item: item, Reason: "pattern is required"}
		}
		if _, err := regexp.Compile("(?mi)" + link.Pattern); err != nil {
			return &ConfigurationError{Item: item, Reason: fmt.Sprintf("pattern does not compile: %v", err)}
		}
	}

	return nil
}

// Empty reports whether the spec has no items at all. Verifying an
// empty spec trivially passes.
func (s *MustHaveSpec) Empty() bool {
	return len(s.Truths) == 0 && len(s.Artifacts) == 0 && len(s.KeyLinks) == 0
}

// ItemCount returns the total number of checkable items.
func (s *MustHaveSpec) ItemCount() int {
	return len(s.Truths) + len(s.Artifacts) + len(s.KeyLinks)
}
