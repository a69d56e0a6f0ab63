package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/tokens"
)

func opts() Options {
	return Options{Counter: tokens.NewWords(1), HardCeiling: 50, WindowTokens: 20}
}

func TestParse_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	doc := Parse("doc", input, opts())

	if doc.Outcome != doctree.OutcomeParsed {
		t.Fatalf("expected parsed outcome, got %s (%v)", doc.Outcome, doc.Warnings)
	}
	if len(doc.Root.Children) != 1 {
		t.Fatalf("expected 1 top-level section, got %d", len(doc.Root.Children))
	}

	h1 := doc.Root.Children[0]
	if h1.Title != "Title" || h1.Level != 1 {
		t.Errorf("expected level-1 %q, got level-%d %q", "Title", h1.Level, h1.Title)
	}
	// heading unit + intro paragraph
	if len(h1.Units) != 2 || h1.Units[1].Text != "Intro text." {
		t.Fatalf("unexpected h1 units: %+v", h1.Units)
	}
	if len(h1.Children) != 2 {
		t.Fatalf("expected 2 h2 children, got %d", len(h1.Children))
	}

	secA := h1.Children[0]
	if secA.Title != "Section A" {
		t.Errorf("expected %q, got %q", "Section A", secA.Title)
	}
	if len(secA.Children) != 1 || secA.Children[0].Title != "Subsection A1" {
		t.Fatalf("expected Subsection A1 under Section A, got %+v", secA.Children)
	}
	sub := secA.Children[0]
	if got := strings.Join(sub.Path, " > "); got != "Title > Section A > Subsection A1" {
		t.Errorf("unexpected path %q", got)
	}
	if sub.StartLine != 9 || sub.EndLine != 11 {
		t.Errorf("expected Subsection A1 lines 9-11, got %d-%d", sub.StartLine, sub.EndLine)
	}

	secB := h1.Children[1]
	if secB.Title != "Section B" {
		t.Errorf("expected %q, got %q", "Section B", secB.Title)
	}
	if h1.EndLine != 15 {
		t.Errorf("expected h1 to end at line 15, got %d", h1.EndLine)
	}
}

func TestParse_NoHeadings(t *testing.T) {
	input := "Just some plain text.\n\nAnother paragraph here."
	doc := Parse("plain", input, opts())

	if len(doc.Root.Children) != 0 {
		t.Fatalf("expected no sections, got %d", len(doc.Root.Children))
	}
	units := doc.Units()
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	for _, u := range units {
		if u.Section != doc.Root {
			t.Errorf("unit %q not owned by root", u.Text)
		}
	}
}

func TestParse_CodeBlockStaysWhole(t *testing.T) {
	input := "# API Reference\n\nSome intro.\n\n## Endpoints\n\n```\nGET /api/users\n\n# not a heading\nPOST /api/users\n```\n\nMore text after code.\n"
	doc := Parse("api", input, opts())

	if doc.Outcome != doctree.OutcomeParsed {
		t.Fatalf("expected parsed outcome, got %s", doc.Outcome)
	}
	endpoints := doc.Root.Children[0].Children[0]
	if endpoints.Title != "Endpoints" {
		t.Fatalf("expected Endpoints, got %q", endpoints.Title)
	}
	var code *doctree.Unit
	for _, u := range endpoints.Units {
		if u.Kind == doctree.KindCode {
			code = u
		}
	}
	if code == nil {
		t.Fatal("expected a code unit")
	}
	if !strings.Contains(code.Text, "GET /api/users\n\n# not a heading") {
		t.Errorf("code block was split: %q", code.Text)
	}
	if len(endpoints.Children) != 0 {
		t.Errorf("heading inside code fence opened a section")
	}
}

func TestParse_ListAndTableAreSingleUnits(t *testing.T) {
	input := "Intro.\n\n- one\n- two\n\n- three\n  continued\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\nOutro."
	doc := Parse("blocks", input, opts())

	units := doc.Units()
	kinds := make([]doctree.UnitKind, len(units))
	for i, u := range units {
		kinds[i] = u.Kind
	}
	want := []doctree.UnitKind{doctree.KindParagraph, doctree.KindList, doctree.KindTable, doctree.KindParagraph}
	if len(kinds) != len(want) {
		t.Fatalf("expected kinds %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("unit %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
	if !strings.Contains(units[1].Text, "- three\n  continued") {
		t.Errorf("list lost items: %q", units[1].Text)
	}
	if units[2].StartLine != 9 || units[2].EndLine != 11 {
		t.Errorf("table lines: expected 9-11, got %d-%d", units[2].StartLine, units[2].EndLine)
	}
}

func TestParse_SetextHeadings(t *testing.T) {
	input := "Main *Title*\n============\n\nBody.\n\nSub\n---\n\nMore."
	doc := Parse("setext", input, opts())

	if len(doc.Root.Children) != 1 {
		t.Fatalf("expected 1 top-level section, got %d", len(doc.Root.Children))
	}
	main := doc.Root.Children[0]
	if main.Title != "Main Title" {
		t.Errorf("expected plain-text title %q, got %q", "Main Title", main.Title)
	}
	if len(main.Children) != 1 || main.Children[0].Level != 2 {
		t.Fatalf("expected one level-2 child, got %+v", main.Children)
	}
}

func TestParse_NormalizesAndReconstructs(t *testing.T) {
	input := "\ufeff# Title  \r\n\r\n\r\n\r\nFirst paragraph.\t\r\nsecond line\r\n\r\nLast.\r\n\r\n"
	doc := Parse("crlf", input, opts())

	want := "# Title\n\nFirst paragraph.\nsecond line\n\nLast."
	if doc.Text != want {
		t.Errorf("normalized text:\nwant %q\ngot  %q", want, doc.Text)
	}
	if got := doctree.Reconstruct(doc.Units()); got != doc.Text {
		t.Errorf("units do not reconstruct the document")
	}
	if doc.Hash != doctree.ContentHash(want) {
		t.Error("hash does not match normalized text")
	}
	if doc.Tokens != 7 {
		t.Errorf("expected 7 tokens, got %d", doc.Tokens)
	}
}

func TestParse_OversizedUnitTagged(t *testing.T) {
	input := "Short.\n\n" + strings.TrimSpace(strings.Repeat("word ", 60))
	doc := Parse("big", input, opts())

	units := doc.Units()
	if units[0].Oversized {
		t.Error("short unit tagged oversized")
	}
	if !units[1].Oversized || units[1].Tokens != 60 {
		t.Errorf("expected 60-token oversized unit, got %+v", units[1])
	}
}

func TestParse_SkippedLevelDegrades(t *testing.T) {
	input := "# A\n\ntext\n\n### C\n\nmore"
	doc := Parse("skip", input, opts())

	if doc.Outcome != doctree.OutcomeDegraded {
		t.Fatalf("expected degraded outcome, got %s", doc.Outcome)
	}
	if len(doc.Warnings) != 1 || !strings.Contains(doc.Warnings[0], `"C"`) {
		t.Errorf("unexpected warnings: %v", doc.Warnings)
	}
	if len(doc.Root.Children[0].Children) != 1 {
		t.Error("skipped-level heading should still nest under its parent")
	}
}

func TestParse_UnterminatedFenceFallsBackToWindows(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Title\n\n```\n")
	for i := 0; i < 10; i++ {
		b.WriteString("alpha beta gamma delta epsilon\n")
	}
	doc := Parse("broken", b.String(), opts())

	if doc.Outcome != doctree.OutcomeFixedWindow {
		t.Fatalf("expected fixed-window outcome, got %s", doc.Outcome)
	}
	if len(doc.Root.Children) != 0 {
		t.Error("fixed-window documents have no sections")
	}
	units := doc.Units()
	if len(units) < 2 {
		t.Fatalf("expected several windows, got %d", len(units))
	}
	for _, u := range units {
		if u.Kind != doctree.KindWindow {
			t.Errorf("expected window unit, got %s", u.Kind)
		}
		if u.Tokens > 20 {
			t.Errorf("window of %d tokens exceeds window size", u.Tokens)
		}
	}
	if doctree.Reconstruct(units) != doc.Text {
		t.Error("windows do not reconstruct the document")
	}
	if !strings.HasPrefix(doc.Text, "# Title\n\n```") {
		t.Errorf("unexpected text start %q", doc.Text[:12])
	}
}

func TestParse_EmptyInput(t *testing.T) {
	doc := Parse("empty", "", opts())
	if len(doc.Units()) != 0 {
		t.Errorf("expected no units, got %d", len(doc.Units()))
	}
	if doc.Text != "" || doc.Tokens != 0 {
		t.Errorf("expected empty document, got %q (%d tokens)", doc.Text, doc.Tokens)
	}
}

func TestParse_Deterministic(t *testing.T) {
	input := "# A\n\none two\n\n## B\n\n- x\n- y\n"
	a := Parse("d", input, opts())
	b := Parse("d", input, opts())
	if a.Hash != b.Hash || len(a.Units()) != len(b.Units()) {
		t.Fatal("parse is not deterministic")
	}
}

func countSections(s *doctree.Section) int {
	n := len(s.Children)
	for _, c := range s.Children {
		n += countSections(c)
	}
	return n
}

func TestParse_OutcomeBoundary(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		outcome  doctree.ParseOutcome
		sections int
		kind     doctree.UnitKind // a unit of this kind must exist
	}{
		{
			name:     "html comment between sections",
			input:    "# One\n\nBody one.\n\n<!--\n# draft notes\n-->\n\n# Two\n\nBody two.",
			outcome:  doctree.OutcomeParsed,
			sections: 2,
			kind:     doctree.KindHTML,
		},
		{
			name:     "table followed by rule",
			input:    "# A\n\n| x | y |\n|---|---|\n| 1 | 2 |\n\n---\n\n## Next\n\nbody",
			outcome:  doctree.OutcomeParsed,
			sections: 2,
			kind:     doctree.KindRule,
		},
		{
			name:     "link reference definitions",
			input:    "# Links\n\nSee [docs][d].\n\n[d]: https://example.com\n\n## After\n\ntext",
			outcome:  doctree.OutcomeParsed,
			sections: 2,
			kind:     doctree.KindParagraph,
		},
		{
			name:     "heading inside blockquote",
			input:    "# Quote\n\n> # not a section\n> quoted text\n\nafter",
			outcome:  doctree.OutcomeParsed,
			sections: 1,
			kind:     doctree.KindQuote,
		},
		{
			name:     "fence nested in list",
			input:    "# L\n\n- item\n\n  ```\n  # inside\n  ```\n\n- next\n\ntail",
			outcome:  doctree.OutcomeParsed,
			sections: 1,
			kind:     doctree.KindList,
		},
		{
			name:     "one-line comment at end",
			input:    "# A\n\ntext\n\n<!-- end -->",
			outcome:  doctree.OutcomeParsed,
			sections: 1,
			kind:     doctree.KindHTML,
		},
		{
			name:     "skipped level",
			input:    "# A\n\n### C\n\nmore",
			outcome:  doctree.OutcomeDegraded,
			sections: 2,
			kind:     doctree.KindHeading,
		},
		{
			name:    "unterminated fence",
			input:   "# A\n\n```go\nfunc main() {}\n\n# B",
			outcome: doctree.OutcomeFixedWindow,
			kind:    doctree.KindWindow,
		},
		{
			name:    "tilde fence closed by backticks",
			input:   "# A\n\n~~~\ncode\n```\n\n## B",
			outcome: doctree.OutcomeFixedWindow,
			kind:    doctree.KindWindow,
		},
		{
			name:    "unterminated comment",
			input:   "# A\n\n<!--\n# hidden\n\ntext",
			outcome: doctree.OutcomeFixedWindow,
			kind:    doctree.KindWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse("doc", tt.input, opts())
			if doc.Outcome != tt.outcome {
				t.Fatalf("expected %s, got %s (%v)", tt.outcome, doc.Outcome, doc.Warnings)
			}
			if got := countSections(doc.Root); got != tt.sections {
				t.Errorf("expected %d sections, got %d", tt.sections, got)
			}
			found := false
			for _, u := range doc.Units() {
				if u.Kind == tt.kind {
					found = true
				}
			}
			if !found {
				t.Errorf("no %s unit in %+v", tt.kind, doc.Units())
			}
			if doctree.Reconstruct(doc.Units()) != doc.Text {
				t.Error("units do not reconstruct the document")
			}
		})
	}
}

func TestParse_CommentKeepsItsLines(t *testing.T) {
	input := "# One\n\n<!--\n# draft notes\n-->\n\n# Two"
	doc := Parse("doc", input, opts())

	one := doc.Root.Children[0]
	if len(one.Units) != 2 {
		t.Fatalf("expected heading and comment under One, got %+v", one.Units)
	}
	c := one.Units[1]
	if c.Kind != doctree.KindHTML || c.StartLine != 3 || c.EndLine != 5 {
		t.Errorf("comment unit: %s lines %d-%d", c.Kind, c.StartLine, c.EndLine)
	}
	if c.Text != "<!--\n# draft notes\n-->" {
		t.Errorf("comment text %q", c.Text)
	}
}
