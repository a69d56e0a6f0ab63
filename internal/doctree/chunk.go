package doctree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChunkFlag marks chunks that could not respect the packing limit.
type ChunkFlag string

const (
	FlagNone           ChunkFlag = ""
	FlagOversized      ChunkFlag = "oversized"
	FlagOversizedSplit ChunkFlag = "oversized-split"
)

// Chunk is a contiguous run of units planned as one processing request.
type Chunk struct {
	ID        string
	Index     int // 1-based position in the plan
	Units     []*Unit
	Text      string // Primary content, without overlap
	Sep       string // Whitespace preceding Text in the normalized document
	Tokens    int    // Primary tokens
	Words     int
	StartLine int
	EndLine   int
	Sections  []string // Titles of sections touched, first-seen order
	Flag      ChunkFlag
	Warnings  []string

	OverlapText   string
	OverlapTokens int
	OverlapFrom   string // ID of the chunk the overlap was copied from
}

// TotalTokens is the size of the chunk as sent, overlap included.
func (c Chunk) TotalTokens() int {
	return c.Tokens + c.OverlapTokens
}

// Render produces the chunk as it is handed to a processor: the delimited
// overlap prefix (if any) followed by the primary content.
func (c Chunk) Render() string {
	if c.OverlapText == "" {
		return c.Text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- overlap-from-previous chunk=%s tokens=%d -->\n", c.OverlapFrom, c.OverlapTokens)
	b.WriteString(c.OverlapText)
	fmt.Fprintf(&b, "\n<!-- overlap-end chunk=%s -->\n\n", c.OverlapFrom)
	b.WriteString(c.Text)
	return b.String()
}

// Reassemble concatenates primary content with the recorded separators,
// reproducing the normalized document text.
func Reassemble(chunks []Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString(c.Sep)
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// ChunkID formats the identifier for the i-th (1-based) of total chunks.
func ChunkID(i, total int) string {
	width := len(fmt.Sprint(total))
	if width < 2 {
		width = 2
	}
	return fmt.Sprintf("chunk_%0*d", width, i)
}

// ContentHash returns the SHA-256 hex digest of text.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
