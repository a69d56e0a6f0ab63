package convert

import (
	"strings"
	"testing"
)

func convert(t *testing.T, c Converter, input, filename string) string {
	t.Helper()
	out, err := c.Convert(strings.NewReader(input), filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestTextConverter_BasicParagraphSplitting(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	got := convert(t, &TextConverter{}, input, "notes.txt")
	if got != input+"\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestTextConverter_EmptyInput(t *testing.T) {
	if got := convert(t, &TextConverter{}, "", "empty.txt"); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}

func TestTextConverter_CollapsesBlankRuns(t *testing.T) {
	// Whitespace-only lines count as blank.
	got := convert(t, &TextConverter{}, "Para one.  \n   \n\n\nPara two.", "gaps.txt")
	if got != "Para one.\n\nPara two.\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestMarkdownConverter_PassThrough(t *testing.T) {
	input := "# Title\n\n  indented\n\n\n"
	if got := convert(t, &MarkdownConverter{}, input, "a.md"); got != input {
		t.Errorf("markdown must pass through unchanged, got %q", got)
	}
}

func TestCSVConverter_Table(t *testing.T) {
	got := convert(t, &CSVConverter{}, "name,age\nann,30\nbob,4|1\n", "people.csv")
	want := "# people\n\n| name | age |\n| --- | --- |\n| ann | 30 |\n| bob | 4\\|1 |\n"
	if got != want {
		t.Errorf("unexpected output:\n%s", got)
	}
}

func TestCSVConverter_Batches(t *testing.T) {
	var b strings.Builder
	b.WriteString("id\n")
	for i := range csvBatchRows + 5 {
		b.WriteString(strings.Repeat("x", i%3+1) + "\n")
	}
	got := convert(t, &CSVConverter{}, b.String(), "big.csv")
	if !strings.Contains(got, "## Rows 2-51") || !strings.Contains(got, "## Rows 52-56") {
		t.Errorf("expected two row sections:\n%s", got)
	}
	if strings.Count(got, "| id |") != 2 {
		t.Error("expected the header repeated in each batch")
	}
}

func TestHTMLConverter(t *testing.T) {
	input := `<html><head><title>Guide</title></head><body>` +
		`<nav>skip me</nav><h2>Setup</h2><p>Install   it.</p>` +
		`<ul><li>one<ul><li>inner</li></ul></li><li>two</li></ul>` +
		`<ol><li>first</li><li>second</li></ol>` +
		`<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table>` +
		`<blockquote>quoted</blockquote><pre>line 1
  line 2</pre><script>x()</script></body></html>`
	got := convert(t, &HTMLConverter{}, input, "guide.html")
	want := "# Guide\n\n## Setup\n\nInstall it.\n\n- one\n  - inner\n- two\n\n1. first\n2. second\n\n" +
		"| k | v |\n| --- | --- |\n| a | 1 |\n\n> quoted\n\n```\nline 1\n  line 2\n```\n"
	if got != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}

func TestHTMLConverter_KeepsExistingH1(t *testing.T) {
	got := convert(t, &HTMLConverter{}, "<h1>Real</h1><p>body</p>", "page.htm")
	if got != "# Real\n\nbody\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRenderPages(t *testing.T) {
	got := renderPages("report", []string{"Intro text\n\nMore", "", "  Last page  "})
	want := "# report\n\n## Page 1\n\nIntro text\n\nMore\n\n## Page 3\n\nLast page\n"
	if got != want {
		t.Errorf("unexpected output:\n%s", got)
	}
}

func TestDOCXHeadingLevel(t *testing.T) {
	tests := map[string]int{
		"Heading1":  1,
		"heading 3": 3,
		"Heading6":  6,
		"Title":     1,
		"Heading7":  0,
		"Normal":    0,
		"":          0,
	}
	for style, want := range tests {
		if got := docxHeadingLevel(style); got != want {
			t.Errorf("docxHeadingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}

func TestForFile(t *testing.T) {
	for _, name := range []string{"a.txt", "b.MD", "c.csv", "d.htm", "e.pdf", "f.docx"} {
		if _, err := ForFile(name, Options{}); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if !IsSupportedExtension(name) {
			t.Errorf("%s should be supported", name)
		}
	}
	if _, err := ForFile("g.xlsx", Options{}); err == nil {
		t.Error("expected unsupported extension error")
	}
	if c, _ := ForFile("h.pdf", Options{PDFFallbackPdftotext: true}); !c.(*PDFConverter).FallbackPdftotext {
		t.Error("pdf fallback option not applied")
	}
}

func TestStem(t *testing.T) {
	if got := Stem("/tmp/docs/report.final.md"); got != "report.final" {
		t.Errorf("unexpected stem %q", got)
	}
}
