package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/mdplan/internal/doctree"
)

// block is one top-level goldmark block and the source lines it covers
// (0-based, inclusive).
type block struct {
	node  ast.Node
	kind  doctree.UnitKind
	start int
	end   int
}

// lineIndex holds the byte offset at which every line of the joined source
// starts.
type lineIndex []int

func newLineIndex(lines []string) lineIndex {
	idx := make(lineIndex, len(lines))
	off := 0
	for i, l := range lines {
		idx[i] = off
		off += len(l) + 1
	}
	return idx
}

// line returns the line holding byte offset off.
func (x lineIndex) line(off int) int {
	return sort.Search(len(x), func(i int) bool { return x[i] > off }) - 1
}

// span is a range of lines; first is -1 when nothing was found.
type span struct {
	first, last int
}

func (s *span) add(first, last int) {
	if s.first < 0 || first < s.first {
		s.first = first
	}
	if last > s.last {
		s.last = last
	}
}

func (s *span) addSegment(seg text.Segment, x lineIndex) {
	if seg.Stop <= seg.Start {
		return
	}
	s.add(x.line(seg.Start), x.line(seg.Stop-1))
}

// sourceSpan collects the lines referenced by a block's segments and those
// of its descendants. A fenced block's opening line is included; closing
// fences and setext underlines carry no segment and are not.
func sourceSpan(n ast.Node, x lineIndex) span {
	s := span{first: -1, last: -1}
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		s.addSegment(lines.At(i), x)
	}
	switch v := n.(type) {
	case *ast.FencedCodeBlock:
		if v.Info != nil {
			s.addSegment(v.Info.Segment, x)
		} else if s.first > 0 {
			s.add(s.first-1, s.first-1)
		}
	case *ast.HTMLBlock:
		s.addSegment(v.ClosureLine, x)
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() != ast.TypeBlock {
			continue
		}
		if cs := sourceSpan(c, x); cs.first >= 0 {
			s.add(cs.first, cs.last)
		}
	}
	return s
}

// mapBlocks assigns every top-level block a contiguous line range. Blank
// lines between blocks belong to no block. A block ends at the last
// non-blank line before the next block's first referenced line, so fences,
// underlines and link definitions stay with the block they follow. When
// the next block references no line at all (a thematic break, an empty
// fence) the end is derived from the block's own kind.
//
// It returns an error message when the ranges cannot be made consistent
// with goldmark's block order.
func mapBlocks(doc ast.Node, lines []string, x lineIndex) ([]block, string) {
	var nodes []ast.Node
	var spans []span
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		nodes = append(nodes, n)
		spans = append(spans, sourceSpan(n, x))
	}

	blocks := make([]block, 0, len(nodes))
	start := nextContent(lines, 0)
	for i, n := range nodes {
		sp := spans[i]
		if start < 0 || (sp.first >= 0 && sp.first < start) {
			return nil, fmt.Sprintf("block %d (%s) could not be located in the source", i+1, n.Kind())
		}
		var end int
		switch {
		case i+1 == len(nodes):
			end = lastContent(lines, len(lines))
		case spans[i+1].first >= 0:
			end = lastContent(lines, spans[i+1].first)
		default:
			end = closingLine(n, start, sp, lines)
		}
		if end < start || end < sp.last {
			return nil, fmt.Sprintf("block at line %d overlaps the block after it", start+1)
		}
		blocks = append(blocks, block{node: n, kind: kindOf(n), start: start, end: end})
		start = nextContent(lines, end+1)
	}
	return blocks, ""
}

// closingLine finds the last line of a block from its kind alone.
func closingLine(n ast.Node, start int, sp span, lines []string) int {
	end := max(start, sp.last)
	switch n.(type) {
	case *ast.Heading:
		if !isATXHeading(lines[start]) && end+1 < len(lines) {
			end++ // setext underline
		}
	case *ast.FencedCodeBlock:
		if end+1 < len(lines) && closesFence(lines[end+1], fenceMarker(lines[start])) {
			end++
		}
	case *extast.Table:
		for end+1 < len(lines) && strings.Contains(lines[end+1], "|") {
			end++
		}
	}
	return end
}

// unterminated reports a top-level raw block that was never closed and so
// swallowed the rest of the document.
func unterminated(blocks []block, lines []string) (string, bool) {
	for _, b := range blocks {
		switch v := b.node.(type) {
		case *ast.FencedCodeBlock:
			if b.end == b.start || !closesFence(lines[b.end], fenceMarker(lines[b.start])) {
				return fmt.Sprintf("unterminated code fence at line %d", b.start+1), true
			}
		case *ast.HTMLBlock:
			if !v.HasClosure() && !closesHTMLOnFirstLine(v.HTMLBlockType, lines[b.start]) {
				return fmt.Sprintf("unterminated HTML block at line %d", b.start+1), true
			}
		}
	}
	return "", false
}

func kindOf(n ast.Node) doctree.UnitKind {
	switch n.(type) {
	case *ast.Heading:
		return doctree.KindHeading
	case *ast.List:
		return doctree.KindList
	case *extast.Table:
		return doctree.KindTable
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return doctree.KindCode
	case *ast.Blockquote:
		return doctree.KindQuote
	case *ast.ThematicBreak:
		return doctree.KindRule
	case *ast.HTMLBlock:
		return doctree.KindHTML
	}
	return doctree.KindParagraph
}

func nextContent(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if lines[i] != "" {
			return i
		}
	}
	return -1
}

func lastContent(lines []string, before int) int {
	for i := before - 1; i >= 0; i-- {
		if lines[i] != "" {
			return i
		}
	}
	return -1
}

func isATXHeading(line string) bool {
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return false
	}
	n := 0
	for n < len(t) && t[n] == '#' {
		n++
	}
	return n >= 1 && n <= 6 && (n == len(t) || t[n] == ' ' || t[n] == '\t')
}

// fenceMarker returns the backtick or tilde run opening a fence.
func fenceMarker(line string) string {
	t := strings.TrimLeft(line, " ")
	n := 0
	for n < len(t) && (t[n] == '`' || t[n] == '~') && t[n] == t[0] {
		n++
	}
	return t[:n]
}

func closesFence(line, fence string) bool {
	if fence == "" {
		return false
	}
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return false
	}
	n := 0
	for n < len(t) && t[n] == fence[0] {
		n++
	}
	return n >= len(fence) && strings.TrimSpace(t[n:]) == ""
}

// closesHTMLOnFirstLine reports whether an HTML block of types 1-5 ends on
// its opening line. Types 6 and 7 end at a blank line and are never open.
func closesHTMLOnFirstLine(kind ast.HTMLBlockType, line string) bool {
	lower := strings.ToLower(line)
	switch kind {
	case ast.HTMLBlockType1:
		for _, tag := range []string{"</script>", "</pre>", "</style>", "</textarea>"} {
			if strings.Contains(lower, tag) {
				return true
			}
		}
		return false
	case ast.HTMLBlockType2:
		return strings.Contains(line, "-->")
	case ast.HTMLBlockType3:
		return strings.Contains(line, "?>")
	case ast.HTMLBlockType4:
		return strings.Contains(line, ">")
	case ast.HTMLBlockType5:
		return strings.Contains(line, "]]>")
	}
	return true
}
