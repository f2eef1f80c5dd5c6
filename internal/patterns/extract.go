// Package patterns provides regex/structural extraction of exports,
// functions, and link occurrences from source text. It is the leaf
// component behind artifact and key-link verification: extraction is
// read-only, deterministic, and makes no assumption about the source
// language beyond the declaration forms listed per function.
package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Match is a single extracted identifier or pattern occurrence.
type Match struct {
	Name   string `json:"name,omitempty"` // Identifier name (empty for raw link matches)
	Text   string `json:"text"`           // Matched source text
	Offset int    `json:"offset"`         // Byte offset into the source
	Line   int    `json:"line"`           // 1-based line number
}

// Export declaration forms. Each pattern captures the exported name in
// group 1 (or a brace list in group 1 for the list forms).
var (
	// export const X / export function X / export class X / export interface X /
	// export type X / export enum X, with default/async/abstract modifiers.
	reExportDecl = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:default\s+)?(?:declare\s+)?(?:abstract\s+)?(?:async\s+)?(?:const|let|var|function\*?|class|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)

	// export default Identifier
	reExportDefaultName = regexp.MustCompile(`(?m)^[ \t]*export\s+default\s+([A-Za-z_$][\w$]*)\s*;?\s*$`)

	// export { A, B as C } and export { A } from './mod'
	reExportList = regexp.MustCompile(`(?m)^[ \t]*export\s*\{([^}]*)\}`)

	// exports.X = / module.exports.X =
	reCommonJSProp = regexp.MustCompile(`(?m)^[ \t]*(?:module\.)?exports\.([A-Za-z_$][\w$]*)\s*=`)

	// module.exports = { A, B }
	reCommonJSList = regexp.MustCompile(`(?m)^[ \t]*module\.exports\s*=\s*\{([^}]*)\}`)

	// Module-level name bindings for dynamically-typed sources:
	// X = ..., def X(, class X at column zero.
	reModuleBinding = regexp.MustCompile(`(?m)^([A-Za-z_]\w*)\s*=[^=]`)
	reModuleDefn    = regexp.MustCompile(`(?m)^(?:async\s+)?(?:def|class)\s+([A-Za-z_]\w*)`)
)

// Function declaration forms.
var (
	// function name( / async function* name(, optionally exported.
	reFuncDecl = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+([A-Za-z_$][\w$]*)`)

	// const name = (args) => / const name = x => / const name = function
	reFuncBinding = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:function\b|\([^)\n]*\)\s*=>|[A-Za-z_$][\w$]*\s*=>)`)

	// def name( / async def name(
	reFuncDef = regexp.MustCompile(`(?m)^[ \t]*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)

	// func name( / func (r Recv) name(
	reFuncGo = regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s+)?([A-Za-z_]\w*)\s*\(`)
)

// ExtractExports returns the union of all supported export declaration
// forms found in src, deduplicated by name. First occurrence wins; the
// result is ordered by source offset.
func ExtractExports(src string) []Match {
	var matches []Match

	matches = appendNamed(matches, src, reExportDecl)
	matches = appendNamed(matches, src, reExportDefaultName)
	matches = appendNamed(matches, src, reCommonJSProp)
	matches = appendList(matches, src, reExportList)
	matches = appendList(matches, src, reCommonJSList)
	matches = appendNamed(matches, src, reModuleBinding)
	matches = appendNamed(matches, src, reModuleDefn)

	return dedupe(matches)
}

// ExtractFunctions returns the union of named function declarations,
// name-bound lambda/arrow assignments, and def forms, deduplicated by
// name and ordered by source offset.
func ExtractFunctions(src string) []Match {
	var matches []Match

	matches = appendNamed(matches, src, reFuncDecl)
	matches = appendNamed(matches, src, reFuncBinding)
	matches = appendNamed(matches, src, reFuncDef)
	matches = appendNamed(matches, src, reFuncGo)

	return dedupe(matches)
}

// FindLinks compiles pattern with multiline and case-insensitive flags
// and returns every non-overlapping match with its 1-based line number.
// An uncompilable pattern is a configuration problem of the one check
// that supplied it; the caller scopes the error accordingly.
func FindLinks(src, pattern string) ([]Match, error) {
	re, err := regexp.Compile("(?mi)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid link pattern %q: %w", pattern, err)
	}

	idx := re.FindAllStringIndex(src, -1)
	if len(idx) == 0 {
		return nil, nil
	}

	lines := lineStarts(src)
	matches := make([]Match, 0, len(idx))
	for _, span := range idx {
		matches = append(matches, Match{
			Text:   src[span[0]:span[1]],
			Offset: span[0],
			Line:   lineAt(lines, span[0]),
		})
	}
	return matches, nil
}

// Names flattens matches into their identifier names.
func Names(matches []Match) []string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
	}
	return names
}

func appendNamed(matches []Match, src string, re *regexp.Regexp) []Match {
	lines := lineStarts(src)
	for _, loc := range re.FindAllStringSubmatchIndex(src, -1) {
		if loc[2] < 0 {
			continue
		}
		matches = append(matches, Match{
			Name:   src[loc[2]:loc[3]],
			Text:   src[loc[0]:loc[1]],
			Offset: loc[0],
			Line:   lineAt(lines, loc[0]),
		})
	}
	return matches
}

// appendList handles brace-list forms: the capture group is a comma
// separated name list, possibly with "X as Y" aliases. The name visible
// to importers is the alias, so the alias wins.
func appendList(matches []Match, src string, re *regexp.Regexp) []Match {
	lines := lineStarts(src)
	for _, loc := range re.FindAllStringSubmatchIndex(src, -1) {
		if loc[2] < 0 {
			continue
		}
		list := src[loc[2]:loc[3]]
		for _, entry := range strings.Split(list, ",") {
			name := strings.TrimSpace(entry)
			if name == "" {
				continue
			}
			if i := strings.LastIndex(name, " as "); i >= 0 {
				name = strings.TrimSpace(name[i+len(" as "):])
			}
			// Object shorthand like {a: b} is a value, not an export name.
			if i := strings.Index(name, ":"); i >= 0 {
				name = strings.TrimSpace(name[:i])
			}
			if !isIdentifier(name) {
				continue
			}
			matches = append(matches, Match{
				Name:   name,
				Text:   strings.TrimSpace(src[loc[0]:loc[1]]),
				Offset: loc[0],
				Line:   lineAt(lines, loc[0]),
			})
		}
	}
	return matches
}

// dedupe keeps the first occurrence of each name and restores source order.
func dedupe(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Offset < matches[j].Offset })

	seen := make(map[string]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// lineStarts returns the byte offset of each line start.
func lineStarts(src string) []int {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineAt converts a byte offset to a 1-based line number.
func lineAt(starts []int, offset int) int {
	lo, hi := 0, len(starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
