package patterns

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractExportsNamedForms(t *testing.T) {
	src := `export const Alpha = 1;
export function beta() {}
export class Gamma {}
export interface Delta {}
export type Epsilon = string;
export enum Zeta {}
export default function omega() {}
`
	got := Names(ExtractExports(src))
	want := []string{"Alpha", "beta", "Gamma", "Delta", "Epsilon", "Zeta", "omega"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("exports mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractExportsReExportList(t *testing.T) {
	src := `export { Foo, Bar as Baz } from './other';
export { Qux };
`
	got := Names(ExtractExports(src))
	want := []string{"Foo", "Baz", "Qux"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("re-export mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractExportsCommonJS(t *testing.T) {
	src := `exports.handler = () => {};
module.exports.reader = readFile;
module.exports = { writer, closer };
`
	got := Names(ExtractExports(src))
	want := []string{"handler", "reader", "writer", "closer"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("commonjs exports mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractExportsModuleBindings(t *testing.T) {
	src := `VERSION = "1.2.3"
def handle(req):
    inner = 1
    return req

class Router:
    pass
`
	got := Names(ExtractExports(src))
	want := []string{"VERSION", "handle", "Router"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("module bindings mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractExportsDeduplicates(t *testing.T) {
	src := `export const Foo = 1;
export { Foo };
`
	got := ExtractExports(src)
	if len(got) != 1 {
		t.Fatalf("expected 1 deduplicated export, got %d: %v", len(got), Names(got))
	}
	if got[0].Line != 1 {
		t.Fatalf("first occurrence should win, got line %d", got[0].Line)
	}
}

func TestExtractFunctions(t *testing.T) {
	src := `function alpha() {}
const beta = (a, b) => a + b;
let gamma = async x => x;
var delta = function() {};
def epsilon(arg):
    pass
func Zeta(ctx context.Context) error {
`
	got := Names(ExtractFunctions(src))
	want := []string{"alpha", "beta", "gamma", "delta", "epsilon", "Zeta"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("functions mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFunctionsIgnoresNonFunctionBindings(t *testing.T) {
	src := `const count = 42;
const name = "x";
`
	if got := ExtractFunctions(src); got != nil {
		t.Fatalf("expected no functions, got %v", Names(got))
	}
}

func TestFindLinksLineNumbers(t *testing.T) {
	lines := make([]string, 0, 12)
	for i := 0; i < 9; i++ {
		lines = append(lines, "// filler")
	}
	lines = append(lines, `  const r = await fetch('/api/x');`)
	src := strings.Join(lines, "\n")

	matches, err := FindLinks(src, `fetch.*api/x`)
	if err != nil {
		t.Fatalf("FindLinks failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Line != 10 {
		t.Fatalf("Line = %d, want 10", matches[0].Line)
	}
}

func TestFindLinksCaseInsensitiveMultiline(t *testing.T) {
	src := "FETCH('/API/X')\nfetch('/api/x')\n"
	matches, err := FindLinks(src, `^fetch\('/api/x'\)$`)
	if err != nil {
		t.Fatalf("FindLinks failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Line != 1 || matches[1].Line != 2 {
		t.Fatalf("unexpected lines: %d, %d", matches[0].Line, matches[1].Line)
	}
}

func TestFindLinksNoMatch(t *testing.T) {
	matches, err := FindLinks("nothing here", `fetch.*api/x`)
	if err != nil {
		t.Fatalf("FindLinks failed: %v", err)
	}
	if matches != nil {
		t.Fatalf("expected nil matches, got %v", matches)
	}
}

func TestFindLinksBadPattern(t *testing.T) {
	if _, err := FindLinks("text", `fetch(`); err == nil {
		t.Fatal("expected error for uncompilable pattern")
	}
}
