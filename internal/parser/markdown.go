package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/tokens"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// DefaultWindowTokens sizes fixed windows when the caller does not.
const DefaultWindowTokens = 1000

// Options controls parsing.
type Options struct {
	Counter      tokens.Counter
	HardCeiling  int // Units above this are tagged oversized; 0 disables tagging.
	WindowTokens int // Window size for the fixed-window fallback.
}

// Parse splits markdown into a section tree of indivisible units, one per
// top-level goldmark block. It never fails: input whose block structure
// cannot be mapped back onto its lines, or that opens a raw block it never
// closes, is returned as fixed line windows with Outcome set to
// OutcomeFixedWindow.
func Parse(name, markdown string, opts Options) *doctree.Document {
	if opts.Counter == nil {
		opts.Counter = tokens.NewWords(0)
	}
	if opts.WindowTokens <= 0 {
		opts.WindowTokens = DefaultWindowTokens
	}

	lines := normalizeLines(markdown)
	doc := &doctree.Document{
		Name:        name,
		Lines:       len(lines),
		Approximate: opts.Counter.Approximate(),
	}

	source := []byte(strings.Join(lines, "\n"))
	root := goldmark.New(goldmark.WithExtensions(extension.Table)).Parser().Parse(text.NewReader(source))
	blocks, problem := mapBlocks(root, lines, newLineIndex(lines))
	if problem == "" {
		if msg, ok := unterminated(blocks, lines); ok {
			problem = msg
		}
	}
	if problem != "" {
		doc.Warnings = append(doc.Warnings, problem+"; falling back to fixed windows")
		buildWindows(doc, lines, opts)
	} else {
		buildSections(doc, lines, source, blocks, opts)
	}

	units := doc.Units()
	doc.Text = doctree.Reconstruct(units)
	doc.Hash = doctree.ContentHash(doc.Text)
	for _, u := range units {
		doc.Tokens += u.Tokens
	}
	doc.Words = len(strings.Fields(doc.Text))
	return doc
}

// normalizeLines applies the whitespace normalization every later offset
// and count is based on.
func normalizeLines(src string) []string {
	src = strings.TrimPrefix(src, "\ufeff")
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return lines
}

func buildSections(doc *doctree.Document, lines []string, source []byte, blocks []block, opts Options) {
	root := &doctree.Section{Level: 0, Title: doc.Name, StartLine: 1, EndLine: len(lines)}
	doc.Root = root
	stack := []*doctree.Section{root}
	first := true

	for _, b := range blocks {
		if h, ok := b.node.(*ast.Heading); ok {
			title := inlineText(h, source)
			for len(stack) > 1 && stack[len(stack)-1].Level >= h.Level {
				stack = stack[:len(stack)-1]
			}
			parent := stack[len(stack)-1]
			if parent != root && h.Level > parent.Level+1 {
				doc.Warnings = append(doc.Warnings, fmt.Sprintf("heading %q at line %d skips from level %d to %d", title, b.start+1, parent.Level, h.Level))
			}
			path := make([]string, 0, len(parent.Path)+1)
			path = append(path, parent.Path...)
			sec := &doctree.Section{
				Level:     h.Level,
				Title:     title,
				Path:      append(path, title),
				StartLine: b.start + 1,
			}
			parent.Children = append(parent.Children, sec)
			stack = append(stack, sec)
		}

		owner := stack[len(stack)-1]
		sep := "\n\n"
		if first {
			sep = ""
		}
		first = false
		u := newUnit(b.kind, sep, strings.Join(lines[b.start:b.end+1], "\n"), b.start+1, b.end+1, opts)
		u.Section = owner
		owner.Units = append(owner.Units, u)
	}

	closeSections(root)
	if len(doc.Warnings) > 0 {
		doc.Outcome = doctree.OutcomeDegraded
	} else {
		doc.Outcome = doctree.OutcomeParsed
	}
}

// closeSections sets each section's EndLine to the last line of its subtree.
func closeSections(s *doctree.Section) int {
	end := s.StartLine
	if n := len(s.Units); n > 0 {
		end = s.Units[n-1].EndLine
	}
	for _, c := range s.Children {
		if e := closeSections(c); e > end {
			end = e
		}
	}
	if s.Level > 0 {
		s.EndLine = end
	}
	return end
}

// buildWindows groups whole lines into windows of about opts.WindowTokens.
func buildWindows(doc *doctree.Document, lines []string, opts Options) {
	doc.Outcome = doctree.OutcomeFixedWindow
	root := &doctree.Section{Level: 0, Title: doc.Name, StartLine: 1, EndLine: len(lines)}
	doc.Root = root

	first, last := 0, len(lines)-1
	for first <= last && lines[first] == "" {
		first++
	}
	for last >= first && lines[last] == "" {
		last--
	}
	if first > last {
		return
	}

	start, acc := first, 0
	emit := func(end int) {
		sep := "\n"
		if len(root.Units) == 0 {
			sep = ""
		}
		u := newUnit(doctree.KindWindow, sep, strings.Join(lines[start:end+1], "\n"), start+1, end+1, opts)
		u.Section = root
		root.Units = append(root.Units, u)
	}
	for i := first; i <= last; i++ {
		lt := 0
		if lines[i] != "" {
			lt = opts.Counter.Count(lines[i])
		}
		if i > start && acc > 0 && acc+lt > opts.WindowTokens {
			emit(i - 1)
			start, acc = i, 0
		}
		acc += lt
	}
	emit(last)
}

// newUnit counts the unit together with its leading separator so that unit
// counts sum to the document count.
func newUnit(kind doctree.UnitKind, sep, txt string, start, end int, opts Options) *doctree.Unit {
	u := &doctree.Unit{
		Kind:      kind,
		Text:      txt,
		Sep:       sep,
		Tokens:    opts.Counter.Count(sep + txt),
		Words:     len(strings.Fields(txt)),
		StartLine: start,
		EndLine:   end,
	}
	u.Oversized = opts.HardCeiling > 0 && u.Tokens > opts.HardCeiling
	return u
}

// inlineText flattens a heading's inline children to plain text.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch v := c.(type) {
			case *ast.Text:
				buf.Write(v.Segment.Value(src))
				if v.SoftLineBreak() || v.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(v.Value)
			case *ast.AutoLink:
				buf.Write(v.Label(src))
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}
