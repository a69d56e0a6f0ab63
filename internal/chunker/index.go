package chunker

import "github.com/dgallion1/mdplan/internal/doctree"

// Record is the serializable index entry for one chunk.
type Record struct {
	ID            string   `json:"chunk_id"`
	Index         int      `json:"index"`
	StartLine     int      `json:"start_line"`
	EndLine       int      `json:"end_line"`
	TokenCount    int      `json:"token_count"`
	PrimaryTokens int      `json:"primary_tokens"`
	WordCount     int      `json:"word_count"`
	Sections      []string `json:"sections"`
	OverlapTokens int      `json:"overlap_tokens"`
	OverlapFrom   string   `json:"overlap_from,omitempty"`
	UnitCount     int      `json:"unit_count"`
	Flag          string   `json:"flag,omitempty"`
	ContentHash   string   `json:"content_hash"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Index builds one record per chunk, in order.
func Index(chunks []doctree.Chunk) []Record {
	out := make([]Record, 0, len(chunks))
	for _, c := range chunks {
		sections := c.Sections
		if sections == nil {
			sections = []string{}
		}
		out = append(out, Record{
			ID:            c.ID,
			Index:         c.Index,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			TokenCount:    c.TotalTokens(),
			PrimaryTokens: c.Tokens,
			WordCount:     c.Words,
			Sections:      sections,
			OverlapTokens: c.OverlapTokens,
			OverlapFrom:   c.OverlapFrom,
			UnitCount:     len(c.Units),
			Flag:          string(c.Flag),
			ContentHash:   doctree.ContentHash(c.Text),
			Warnings:      c.Warnings,
		})
	}
	return out
}
