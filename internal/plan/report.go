package plan

import (
	"fmt"
	"strings"
)

// RenderMap renders the human-readable chunk map for a plan.
func RenderMap(p *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chunk map: %s\n\n", p.Document)
	fmt.Fprintf(&b, "- Mode: %s (applied: %s)\n", p.Mode, p.Applied)
	fmt.Fprintf(&b, "- Reason: %s\n", p.Reason)
	tok := p.Tokenizer
	if p.Approximate {
		tok += ", approximate"
	}
	fmt.Fprintf(&b, "- Tokens: %d (%s)\n", p.TotalTokens, tok)
	fmt.Fprintf(&b, "- Parse outcome: %s\n", p.ParseOutcome)
	fmt.Fprintf(&b, "- Requests: %d chunks x %d parts = %d\n", len(p.Chunks), p.Parts, p.EstimatedRequests)
	fmt.Fprintf(&b, "- Estimated input tokens: %d\n", p.EstimatedInputTokens)
	if p.EstimatedCost != nil {
		fmt.Fprintf(&b, "- Estimated cost: $%.4f\n", *p.EstimatedCost)
	} else {
		b.WriteString("- Estimated cost: n/a\n")
	}

	b.WriteString("\n| Chunk | Tokens | Overlap | Words | Lines | Sections | Flag |\n")
	b.WriteString("|---|---:|---:|---:|---|---|---|\n")
	for _, r := range p.Chunks {
		sections := strings.ReplaceAll(strings.Join(r.Sections, "; "), "|", `\|`)
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d-%d | %s | %s |\n",
			r.ID, r.TokenCount, r.OverlapTokens, r.WordCount, r.StartLine, r.EndLine, sections, r.Flag)
	}

	if len(p.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range p.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}
