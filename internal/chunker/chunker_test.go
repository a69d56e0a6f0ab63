package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/parser"
	"github.com/dgallion1/mdplan/internal/tokens"
)

var oneToOne = tokens.NewWords(1)

func repeatWord(n int, w string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = w
	}
	return strings.Join(parts, " ")
}

// paragraphs builds one-section units with the given token sizes.
func paragraphs(sizes ...int) []*doctree.Unit {
	sec := &doctree.Section{Level: 1, Title: "Only", Path: []string{"Only"}}
	var out []*doctree.Unit
	line := 1
	for i, n := range sizes {
		u := &doctree.Unit{
			Kind:      doctree.KindParagraph,
			Text:      repeatWord(n, fmt.Sprintf("p%d", i+1)),
			Tokens:    n,
			Words:     n,
			StartLine: line,
			EndLine:   line,
			Section:   sec,
		}
		if i > 0 {
			u.Sep = "\n\n"
		}
		line += 2
		out = append(out, u)
	}
	sec.Units = out
	return out
}

func TestBuild_ThreeParagraphsExceedingPairwise(t *testing.T) {
	cfg := Config{TargetTokens: 150, Tolerance: 0.1, HardCeiling: 600}
	chunks := Build(paragraphs(100, 100, 100), cfg, oneToOne)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Tokens != 100 || len(c.Units) != 1 {
			t.Errorf("chunk %d: expected one 100-token paragraph, got %d tokens / %d units", i, c.Tokens, len(c.Units))
		}
		if want := fmt.Sprintf("chunk_%02d", i+1); c.ID != want || c.Index != i+1 {
			t.Errorf("chunk %d: expected id %s index %d, got %s %d", i, want, i+1, c.ID, c.Index)
		}
		if c.Flag != doctree.FlagNone {
			t.Errorf("chunk %d unexpectedly flagged %s", i, c.Flag)
		}
	}
}

func TestBuild_PacksUpToLimit(t *testing.T) {
	cfg := Config{TargetTokens: 150, Tolerance: 0.1}
	chunks := Build(paragraphs(50, 50, 65, 50), cfg, oneToOne)

	// 50+50+65 = 165 is exactly the limit and still fits.
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Tokens != 165 || chunks[1].Tokens != 50 {
		t.Errorf("unexpected sizes %d, %d", chunks[0].Tokens, chunks[1].Tokens)
	}
	if chunks[0].StartLine != 1 || chunks[0].EndLine != 5 {
		t.Errorf("chunk 1 lines: expected 1-5, got %d-%d", chunks[0].StartLine, chunks[0].EndLine)
	}
	if !reflect.DeepEqual(chunks[0].Sections, []string{"Only"}) {
		t.Errorf("unexpected sections %v", chunks[0].Sections)
	}
}

func TestBuild_OversizedUnitUnderCeiling(t *testing.T) {
	cfg := Config{TargetTokens: 150, Tolerance: 0.1, HardCeiling: 600}
	chunks := Build(paragraphs(500), cfg, oneToOne)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Flag != doctree.FlagOversized || chunks[0].Tokens != 500 {
		t.Errorf("expected 500-token oversized chunk, got %s %d", chunks[0].Flag, chunks[0].Tokens)
	}
}

func sentenceParagraph(sentences int) *doctree.Unit {
	s := "Alpha beta gamma delta epsilon zeta eta theta iota kappa."
	parts := make([]string, sentences)
	for i := range parts {
		parts[i] = s
	}
	text := strings.Join(parts, " ")
	return &doctree.Unit{Kind: doctree.KindParagraph, Text: text, Tokens: oneToOne.Count(text), Words: sentences * 10, StartLine: 1, EndLine: 1}
}

func TestBuild_OversizedUnitSubSplit(t *testing.T) {
	u := sentenceParagraph(50)
	cfg := Config{TargetTokens: 150, Tolerance: 0.1, HardCeiling: 300}
	chunks := Build([]*doctree.Unit{u}, cfg, oneToOne)

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.Flag != doctree.FlagOversizedSplit {
			t.Errorf("%s: expected oversized-split, got %q", c.ID, c.Flag)
		}
		if c.Tokens > 300 {
			t.Errorf("%s: %d tokens exceeds ceiling", c.ID, c.Tokens)
		}
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("%s: expected a sentence boundary, got ...%q", c.ID, c.Text[len(c.Text)-10:])
		}
	}
	if got := doctree.Reassemble(chunks); got != u.Text {
		t.Error("sub-split chunks do not reproduce the paragraph")
	}
}

func TestBuild_TableSplitsOnRows(t *testing.T) {
	rows := make([]string, 40)
	for i := range rows {
		rows[i] = "| a b c d e f g h |"
	}
	text := strings.Join(rows, "\n")
	u := &doctree.Unit{Kind: doctree.KindTable, Text: text, Tokens: oneToOne.Count(text), StartLine: 1, EndLine: 40}
	cfg := Config{TargetTokens: 50, Tolerance: 0.1, HardCeiling: 120}

	chunks := Build([]*doctree.Unit{u}, cfg, oneToOne)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 row groups, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !strings.HasPrefix(c.Text, "|") || !strings.HasSuffix(c.Text, "|") {
			t.Errorf("%s split inside a row", c.ID)
		}
	}
	if chunks[1].StartLine != 13 || chunks[1].EndLine != 24 {
		t.Errorf("expected second group on lines 13-24, got %d-%d", chunks[1].StartLine, chunks[1].EndLine)
	}
	if doctree.Reassemble(chunks) != text {
		t.Error("row groups do not reproduce the table")
	}
}

// quarterCounter counts one token per four bytes, so a single long word can
// exceed any ceiling.
type quarterCounter struct{}

func (quarterCounter) Count(s string) int { return (len(s) + 3) / 4 }
func (quarterCounter) Tail(s string, n int) string {
	if n*4 >= len(s) {
		return s
	}
	return s[len(s)-n*4:]
}
func (quarterCounter) Approximate() bool { return true }
func (quarterCounter) Name() string      { return "quarter" }

func TestBuild_TerminalSingleWord(t *testing.T) {
	text := "short " + strings.Repeat("x", 400) + " end"
	u := &doctree.Unit{Kind: doctree.KindParagraph, Text: text, Tokens: quarterCounter{}.Count(text), StartLine: 1, EndLine: 1}
	cfg := Config{TargetTokens: 10, Tolerance: 0.1, HardCeiling: 20}

	chunks := Build([]*doctree.Unit{u}, cfg, quarterCounter{})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(chunks))
	}
	// 400 bytes plus the separating space
	if chunks[1].Tokens != 101 || len(chunks[1].Warnings) != 1 {
		t.Errorf("expected terminal 101-token piece with a warning, got %d tokens %v", chunks[1].Tokens, chunks[1].Warnings)
	}
	if doctree.Reassemble(chunks) != text {
		t.Error("pieces do not reproduce the unit")
	}
}

func TestBuild_ReassemblesParsedDocument(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Guide\n\nIntro paragraph here.\n\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "## Part %d\n\n%s\n\n- item one\n- item two\n\n", i, repeatWord(30+i, "text"))
	}
	b.WriteString("```\ncode line\n```\n")

	doc := parser.Parse("guide", b.String(), parser.Options{Counter: oneToOne, HardCeiling: 80})
	cfg := Config{TargetTokens: 60, Tolerance: 0.1, HardCeiling: 80}
	chunks := Build(doc.Units(), cfg, oneToOne)

	if got := doctree.Reassemble(chunks); got != doc.Text {
		t.Fatalf("reassembly mismatch:\nwant %q\ngot  %q", doc.Text, got)
	}
	for _, c := range chunks {
		if c.Flag == doctree.FlagNone && c.Tokens > cfg.Limit() {
			t.Errorf("%s: %d tokens above limit %d", c.ID, c.Tokens, cfg.Limit())
		}
	}
	if !reflect.DeepEqual(Index(chunks), Index(Build(doc.Units(), cfg, oneToOne))) {
		t.Error("build is not deterministic")
	}
}

func TestInjectOverlap(t *testing.T) {
	cfg := Config{TargetTokens: 100, Tolerance: 0, HardCeiling: 100}
	chunks := Build(paragraphs(100, 100), cfg, oneToOne)

	out := InjectOverlap(chunks, 20, oneToOne)
	if out[0].OverlapTokens != 0 || out[0].OverlapText != "" {
		t.Error("first chunk must not carry overlap")
	}
	if out[1].TotalTokens() != 120 || out[1].Tokens != 100 {
		t.Errorf("expected 120 total / 100 primary, got %d / %d", out[1].TotalTokens(), out[1].Tokens)
	}
	if out[1].OverlapFrom != "chunk_01" {
		t.Errorf("expected overlap from chunk_01, got %q", out[1].OverlapFrom)
	}
	if out[1].OverlapText != repeatWord(20, "p1") {
		t.Errorf("overlap must come from the previous primary text, got %q", out[1].OverlapText)
	}
	if chunks[1].OverlapTokens != 0 {
		t.Error("input chunks were modified")
	}

	rendered := out[1].Render()
	if !strings.HasPrefix(rendered, "<!-- overlap-from-previous chunk=chunk_01 tokens=20 -->\n") {
		t.Errorf("missing overlap delimiter: %q", rendered[:60])
	}
	if !strings.HasSuffix(rendered, chunks[1].Text) {
		t.Error("rendered chunk must end with its primary text")
	}
	if doctree.Reassemble(out) != doctree.Reassemble(chunks) {
		t.Error("overlap changed primary content")
	}
}

func TestInjectOverlap_DoesNotCompound(t *testing.T) {
	cfg := Config{TargetTokens: 10, Tolerance: 0, HardCeiling: 10}
	out := InjectOverlap(Build(paragraphs(10, 10, 10), cfg, oneToOne), 5, oneToOne)
	if out[2].OverlapText != repeatWord(5, "p2") {
		t.Errorf("third chunk overlap must come from the second chunk's primary text, got %q", out[2].OverlapText)
	}
}

func TestInjectOverlap_ZeroIsNoop(t *testing.T) {
	cfg := Config{TargetTokens: 100, HardCeiling: 100}
	chunks := Build(paragraphs(100, 100), cfg, oneToOne)
	if !reflect.DeepEqual(InjectOverlap(chunks, 0, oneToOne), chunks) {
		t.Error("zero overlap changed the chunks")
	}
}

func TestIndex(t *testing.T) {
	cfg := Config{TargetTokens: 100, HardCeiling: 100}
	chunks := InjectOverlap(Build(paragraphs(100, 100), cfg, oneToOne), 20, oneToOne)
	recs := Index(chunks)

	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	r := recs[1]
	if r.ID != "chunk_02" || r.Index != 2 || r.TokenCount != 120 || r.PrimaryTokens != 100 || r.OverlapTokens != 20 {
		t.Errorf("unexpected record %+v", r)
	}
	if r.ContentHash != doctree.ContentHash(chunks[1].Text) {
		t.Error("content hash must cover primary text only")
	}
	if r.UnitCount != 1 || r.StartLine != 3 || r.EndLine != 3 {
		t.Errorf("unexpected unit/line data %+v", r)
	}
}

func TestChunkIDWidth(t *testing.T) {
	if got := doctree.ChunkID(7, 9); got != "chunk_07" {
		t.Errorf("got %s", got)
	}
	if got := doctree.ChunkID(7, 120); got != "chunk_007" {
		t.Errorf("got %s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"valid", Config{TargetTokens: 100, Tolerance: 0.1, HardCeiling: 200, OverlapTokens: 10}, nil},
		{"zero target", Config{TargetTokens: 0}, ErrInvalidTarget},
		{"negative tolerance", Config{TargetTokens: 100, Tolerance: -0.1}, ErrInvalidTolerance},
		{"tolerance of one", Config{TargetTokens: 100, Tolerance: 1}, ErrInvalidTolerance},
		{"negative ceiling", Config{TargetTokens: 100, HardCeiling: -1}, ErrInvalidCeiling},
		{"negative overlap", Config{TargetTokens: 100, OverlapTokens: -1}, ErrInvalidOverlap},
		{"overlap equals target", Config{TargetTokens: 100, OverlapTokens: 100}, ErrOverlapTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_LimitAndNormalize(t *testing.T) {
	if got := (Config{TargetTokens: 100, Tolerance: 0.15}).Limit(); got != 115 {
		t.Errorf("expected limit 115, got %d", got)
	}
	if got := (Config{TargetTokens: 150, Tolerance: 0.1}).Limit(); got != 165 {
		t.Errorf("expected limit 165, got %d", got)
	}

	n, clamped := Config{TargetTokens: 100, Tolerance: 0.1}.Normalize()
	if clamped || n.HardCeiling != 110 {
		t.Errorf("zero ceiling should default to the limit, got %d (clamped=%v)", n.HardCeiling, clamped)
	}
	n, clamped = Config{TargetTokens: 100, HardCeiling: 50}.Normalize()
	if !clamped || n.HardCeiling != 100 {
		t.Errorf("ceiling below target should clamp to target, got %d (clamped=%v)", n.HardCeiling, clamped)
	}
}
