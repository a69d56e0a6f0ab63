package chunker

import (
	"fmt"

	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// Build packs units, in order, into chunks no larger than cfg.Limit().
// Units that cannot fit are emitted alone (oversized) or sub-split
// (oversized-split). The result has ids assigned and reassembles to the
// concatenation of the input units. cfg must already be normalized.
func Build(units []*doctree.Unit, cfg Config, counter tokens.Counter) []doctree.Chunk {
	limit := cfg.Limit()
	ceiling := cfg.HardCeiling
	if ceiling <= 0 {
		ceiling = limit
	}

	var (
		chunks []doctree.Chunk
		acc    []*doctree.Unit
		accTok int
	)
	flush := func() {
		if len(acc) > 0 {
			chunks = append(chunks, newChunk(acc, doctree.FlagNone))
			acc, accTok = nil, 0
		}
	}

	for _, u := range units {
		if u.Tokens > limit || u.Tokens > ceiling {
			flush()
			if u.Tokens <= ceiling {
				chunks = append(chunks, newChunk([]*doctree.Unit{u}, doctree.FlagOversized))
				continue
			}
			for _, piece := range splitUnit(u, ceiling, counter) {
				c := newChunk([]*doctree.Unit{piece}, doctree.FlagOversizedSplit)
				if piece.Tokens > ceiling {
					c.Warnings = append(c.Warnings, fmt.Sprintf("single word of %d tokens exceeds hard ceiling %d", piece.Tokens, ceiling))
				}
				chunks = append(chunks, c)
			}
			continue
		}
		// Never overshoot: close the accumulator instead.
		if len(acc) > 0 && accTok+u.Tokens > limit {
			flush()
		}
		acc = append(acc, u)
		accTok += u.Tokens
	}
	flush()

	AssignIDs(chunks)
	return chunks
}

// AssignIDs numbers chunks from 1 in order.
func AssignIDs(chunks []doctree.Chunk) {
	for i := range chunks {
		chunks[i].Index = i + 1
		chunks[i].ID = doctree.ChunkID(i+1, len(chunks))
	}
}

func newChunk(units []*doctree.Unit, flag doctree.ChunkFlag) doctree.Chunk {
	c := doctree.Chunk{
		Units:     units,
		Text:      doctree.Reconstruct(units),
		Sep:       units[0].Sep,
		StartLine: units[0].StartLine,
		EndLine:   units[len(units)-1].EndLine,
		Flag:      flag,
	}
	seen := make(map[string]bool)
	for _, u := range units {
		c.Tokens += u.Tokens
		c.Words += u.Words
		if u.Section == nil {
			continue
		}
		for _, title := range u.Section.Path {
			if title != "" && !seen[title] {
				seen[title] = true
				c.Sections = append(c.Sections, title)
			}
		}
	}
	return c
}
