package doctree

import "strings"

// ParseOutcome records how much structure the parser could recover.
type ParseOutcome string

const (
	OutcomeParsed      ParseOutcome = "parsed"       // clean heading hierarchy
	OutcomeDegraded    ParseOutcome = "degraded"     // hierarchy kept, irregularities recorded
	OutcomeFixedWindow ParseOutcome = "fixed-window" // no usable structure, line windows only
)

// UnitKind classifies a minimal indivisible block.
type UnitKind string

const (
	KindHeading   UnitKind = "heading"
	KindParagraph UnitKind = "paragraph"
	KindList      UnitKind = "list"
	KindTable     UnitKind = "table"
	KindCode      UnitKind = "code"
	KindQuote     UnitKind = "quote"
	KindRule      UnitKind = "rule"
	KindHTML      UnitKind = "html"
	KindWindow    UnitKind = "window"
)

// LineStructured reports whether the kind is made of rows or lines that
// should be split on line boundaries before sentence boundaries.
func (k UnitKind) LineStructured() bool {
	switch k {
	case KindList, KindTable, KindCode, KindHTML, KindWindow:
		return true
	}
	return false
}

// Document is the parsed form of one markdown input.
type Document struct {
	Name        string       // Source name (filename or caller-supplied label)
	Text        string       // Normalized text; concatenation of every Unit's Sep+Text
	Hash        string       // SHA-256 hex of Text
	Lines       int          // Line count of Text
	Tokens      int          // Token count of Text
	Words       int          // Word count of Text
	Root        *Section     // Level-0 section owning everything
	Outcome     ParseOutcome // Parsed, Degraded or FixedWindow
	Approximate bool         // Token counts come from the word heuristic
	Warnings    []string
}

// Section is a heading-delimited region. A section's own Units always
// precede the Units of its Children in document order.
type Section struct {
	Level     int      // 0 for the root, 1-6 for headings
	Title     string   // Plain-text heading title
	Path      []string // Titles from the outermost heading down to this one
	StartLine int
	EndLine   int
	Units     []*Unit
	Children  []*Section
}

// Unit is the smallest block the chunk builder will move as a whole.
type Unit struct {
	Kind      UnitKind
	Text      string
	Sep       string // Whitespace separating this unit from its predecessor
	Tokens    int
	Words     int
	StartLine int
	EndLine   int
	Section   *Section // Non-owning reference to the enclosing section
	Oversized bool     // Tokens exceed the hard ceiling
}

// Units returns every unit of the document in order.
func (d *Document) Units() []*Unit {
	if d == nil || d.Root == nil {
		return nil
	}
	var out []*Unit
	var walk func(s *Section)
	walk = func(s *Section) {
		out = append(out, s.Units...)
		for _, c := range s.Children {
			walk(c)
		}
	}
	walk(d.Root)
	return out
}

// Sections returns all non-root sections in document order.
func (d *Document) Sections() []*Section {
	if d == nil || d.Root == nil {
		return nil
	}
	var out []*Section
	var walk func(s *Section)
	walk = func(s *Section) {
		for _, c := range s.Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(d.Root)
	return out
}

// Breadcrumb joins the section path for display, e.g. "Results > Revenue".
func (s *Section) Breadcrumb() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.Path, " > ")
}

// Reconstruct concatenates units with their separators.
func Reconstruct(units []*Unit) string {
	var b strings.Builder
	for i, u := range units {
		if i > 0 {
			b.WriteString(u.Sep)
		}
		b.WriteString(u.Text)
	}
	return b.String()
}
