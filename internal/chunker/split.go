package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/tokens"
)

var wsRun = regexp.MustCompile(`\s+`)

// segment is a slice of a unit's text plus the whitespace that preceded it.
// Token counts always include the separator, as unit counts do.
type segment struct {
	sep    string
	text   string
	offset int // byte offset of text within the unit
}

type boundary int

const (
	bySentence boundary = iota
	byLine
	byWord
)

// splitUnit cuts a unit into pieces of at most ceiling tokens. Prose is cut
// at sentence ends first, line-structured blocks at line ends first; word
// boundaries are the last resort. A single word above the ceiling becomes a
// piece of its own. Pieces reconstruct the unit exactly.
func splitUnit(u *doctree.Unit, ceiling int, counter tokens.Counter) []*doctree.Unit {
	order := []boundary{bySentence, byLine, byWord}
	if u.Kind.LineStructured() {
		order = []boundary{byLine, bySentence, byWord}
	}

	segs := refine([]segment{{sep: u.Sep, text: u.Text}}, order, ceiling, counter)
	groups := pack(segs, ceiling, counter)

	pieces := make([]*doctree.Unit, 0, len(groups))
	for _, g := range groups {
		txt := joinSegments(g)
		start := u.StartLine + strings.Count(u.Text[:g[0].offset], "\n")
		p := &doctree.Unit{
			Kind:      u.Kind,
			Text:      txt,
			Sep:       g[0].sep,
			Tokens:    counter.Count(g[0].sep + txt),
			Words:     len(strings.Fields(txt)),
			StartLine: start,
			EndLine:   start + strings.Count(txt, "\n"),
			Section:   u.Section,
			Oversized: true,
		}
		pieces = append(pieces, p)
	}
	return pieces
}

// refine cuts every segment above the ceiling at the next boundary kind.
func refine(segs []segment, order []boundary, ceiling int, counter tokens.Counter) []segment {
	if len(order) == 0 {
		return segs
	}
	var out []segment
	for _, s := range segs {
		if counter.Count(s.sep+s.text) <= ceiling {
			out = append(out, s)
			continue
		}
		out = append(out, refine(cut(s, order[0]), order[1:], ceiling, counter)...)
	}
	return out
}

// cut splits s at the given boundary kind, keeping the separators.
func cut(s segment, kind boundary) []segment {
	var out []segment
	prev, sep := 0, s.sep
	for _, loc := range wsRun.FindAllStringIndex(s.text, -1) {
		a, b := loc[0], loc[1]
		if a == 0 || b == len(s.text) {
			continue
		}
		run := s.text[a:b]
		switch kind {
		case bySentence:
			if !strings.ContainsRune(".!?", rune(s.text[a-1])) {
				continue
			}
			r, _ := utf8.DecodeRuneInString(s.text[b:])
			if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
				continue
			}
		case byLine:
			nl := strings.LastIndexByte(run, '\n')
			if nl < 0 {
				continue
			}
			// Indentation stays with the following line.
			b = a + nl + 1
			run = s.text[a:b]
		}
		out = append(out, segment{sep: sep, text: s.text[prev:a], offset: s.offset + prev})
		prev, sep = b, run
	}
	out = append(out, segment{sep: sep, text: s.text[prev:], offset: s.offset + prev})
	return out
}

// pack greedily groups consecutive segments under the ceiling. Group sizes
// are estimated from per-segment counts, then confirmed on the joined text.
func pack(segs []segment, ceiling int, counter tokens.Counter) [][]segment {
	counts := make([]int, len(segs))
	for i, s := range segs {
		counts[i] = counter.Count(s.sep + s.text)
	}
	var groups [][]segment
	for i := 0; i < len(segs); {
		j, sum := i, 0
		for j < len(segs) && (j == i || sum+counts[j] <= ceiling) {
			sum += counts[j]
			j++
		}
		for j-i > 1 && counter.Count(segs[i].sep+joinSegments(segs[i:j])) > ceiling {
			j--
		}
		groups = append(groups, segs[i:j])
		i = j
	}
	return groups
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteString(s.sep)
		}
		b.WriteString(s.text)
	}
	return b.String()
}
