package chunker

import (
	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// InjectOverlap returns a copy of chunks where every chunk after the first
// carries the trailing overlapTokens of its predecessor's primary text.
// Overlap is never taken from a predecessor's own overlap, so it cannot
// compound along the sequence.
func InjectOverlap(chunks []doctree.Chunk, overlapTokens int, counter tokens.Counter) []doctree.Chunk {
	out := make([]doctree.Chunk, len(chunks))
	copy(out, chunks)
	if overlapTokens <= 0 {
		return out
	}
	for i := 1; i < len(out); i++ {
		prev := chunks[i-1]
		tail := counter.Tail(prev.Text, overlapTokens)
		if tail == "" {
			continue
		}
		out[i].OverlapText = tail
		out[i].OverlapTokens = counter.Count(tail)
		out[i].OverlapFrom = prev.ID
	}
	return out
}
