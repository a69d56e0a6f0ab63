package plan

import (
	"fmt"
	"math"

	"github.com/dgallion1/mdplan/internal/chunker"
	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/parser"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// Applied records what the planner actually did.
type Applied string

const (
	AppliedSingle  Applied = "single"
	AppliedChunked Applied = "chunked"
)

// Plan is the immutable result of planning one document: the ordered
// chunk index plus everything a scheduler or a reviewer needs.
type Plan struct {
	Document             string               `json:"document"`
	ContentHash          string               `json:"content_hash"`
	Mode                 Mode                 `json:"mode"`
	Applied              Applied              `json:"applied"`
	Reason               string               `json:"reason"`
	ParseOutcome         doctree.ParseOutcome `json:"parse_outcome"`
	Tokenizer            string               `json:"tokenizer"`
	Approximate          bool                 `json:"approximate"`
	TotalTokens          int                  `json:"total_tokens"`
	TotalWords           int                  `json:"total_words"`
	TotalLines           int                  `json:"total_lines"`
	Params               Params               `json:"params"`
	Chunks               []chunker.Record     `json:"chunks"`
	Parts                int                  `json:"parts"`
	EstimatedRequests    int                  `json:"estimated_requests"`
	EstimatedInputTokens int                  `json:"estimated_input_tokens"`
	EstimatedCost        *float64             `json:"estimated_cost,omitempty"`
	Warnings             []string             `json:"warnings,omitempty"`

	content []doctree.Chunk
}

// Content returns the planned chunks with their text. It is nil for plans
// decoded from JSON.
func (p *Plan) Content() []doctree.Chunk {
	return p.content
}

// Record looks up an index entry by chunk id.
func (p *Plan) Record(id string) (chunker.Record, bool) {
	for _, r := range p.Chunks {
		if r.ID == id {
			return r, true
		}
	}
	return chunker.Record{}, false
}

// PrimaryTokens is the sum of primary tokens over all chunks.
func (p *Plan) PrimaryTokens() int {
	n := 0
	for _, r := range p.Chunks {
		n += r.PrimaryTokens
	}
	return n
}

// Planner turns markdown into plans. It holds no mutable state and is safe
// for concurrent use.
type Planner struct {
	counter tokens.Counter
}

// New returns a planner using counter for every measurement.
func New(counter tokens.Counter) *Planner {
	if counter == nil {
		counter = tokens.NewWords(0)
	}
	return &Planner{counter: counter}
}

// Counter exposes the planner's token counter.
func (pl *Planner) Counter() tokens.Counter { return pl.counter }

// Plan parses, sizes and indexes one document. Only invalid parameters
// produce an error; every document-shape problem becomes a warning.
func (pl *Planner) Plan(name, markdown string, params Params) (*Plan, error) {
	if params.Parts <= 0 {
		params.Parts = 1
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	mode, _ := ParseMode(string(params.Mode))
	params.Mode = mode

	var warnings []string
	cfg, clamped := params.ChunkConfig().Normalize()
	if clamped {
		warnings = append(warnings, fmt.Sprintf("hard ceiling %d is below target %d; using %d", params.HardCeiling, params.TargetTokens, cfg.HardCeiling))
	}
	params.HardCeiling = cfg.HardCeiling

	doc := parser.Parse(name, markdown, parser.Options{
		Counter:      pl.counter,
		HardCeiling:  cfg.HardCeiling,
		WindowTokens: cfg.TargetTokens,
	})
	warnings = append(warnings, doc.Warnings...)
	if doc.Approximate {
		warnings = append(warnings, "token counts are approximate (word-based estimate)")
	}

	p := &Plan{
		Document:     name,
		ContentHash:  doc.Hash,
		Mode:         mode,
		ParseOutcome: doc.Outcome,
		Tokenizer:    pl.counter.Name(),
		Approximate:  doc.Approximate,
		TotalTokens:  doc.Tokens,
		TotalWords:   doc.Words,
		TotalLines:   doc.Lines,
		Params:       params,
		Parts:        params.Parts,
	}

	split, reason := decide(mode, doc.Tokens, params)
	p.Reason = reason

	var chunks []doctree.Chunk
	if split {
		p.Applied = AppliedChunked
		chunks = chunker.Build(doc.Units(), cfg, pl.counter)
		chunks = chunker.InjectOverlap(chunks, cfg.OverlapTokens, pl.counter)
		limit := cfg.Limit()
		for _, c := range chunks {
			if c.Flag != doctree.FlagNone {
				warnings = append(warnings, fmt.Sprintf("%s is %s (%d tokens, limit %d)", c.ID, c.Flag, c.Tokens, limit))
			}
		}
		if params.ContextLimit > 0 {
			usable := tokens.UsableBudget(params.ContextLimit, params.PromptOverhead, params.SafetyMargin)
			if limit+cfg.OverlapTokens > usable {
				warnings = append(warnings, fmt.Sprintf("chunks of up to %d tokens may not fit the %d tokens available per request", limit+cfg.OverlapTokens, usable))
			}
		}
	} else {
		p.Applied = AppliedSingle
		if len(doc.Units()) > 0 {
			chunks = []doctree.Chunk{wholeDocument(doc)}
		}
	}
	if len(doc.Units()) == 0 {
		warnings = append(warnings, "document is empty")
	}

	p.content = chunks
	p.Chunks = chunker.Index(chunks)
	p.EstimatedRequests = len(chunks) * params.Parts
	for _, c := range chunks {
		p.EstimatedInputTokens += (params.PromptOverhead + c.TotalTokens()) * params.Parts
	}
	p.EstimatedCost = estimateCost(p.EstimatedInputTokens, params.PricePer1K)
	p.Warnings = warnings
	return p, nil
}

// decide applies the mode to the document size.
func decide(mode Mode, total int, params Params) (bool, string) {
	switch mode {
	case ModeOff:
		return false, "chunking disabled (mode=off)"
	case ModeForce:
		return true, "chunking forced (mode=force)"
	}
	if params.ContextLimit <= 0 {
		return false, "model context limit unknown; sending the document as a single request"
	}
	need := total + params.PromptOverhead
	usable := float64(params.ContextLimit) * params.SafetyMargin
	if tokens.RequiresChunking(total, params.PromptOverhead, params.ContextLimit, params.SafetyMargin) {
		return true, fmt.Sprintf("document needs %d tokens with prompts, above %.0f usable (%.0f%% of %d)", need, usable, params.SafetyMargin*100, params.ContextLimit)
	}
	return false, fmt.Sprintf("document needs %d tokens with prompts, within %.0f usable (%.0f%% of %d)", need, usable, params.SafetyMargin*100, params.ContextLimit)
}

// wholeDocument wraps the entire document as the single chunk.
func wholeDocument(doc *doctree.Document) doctree.Chunk {
	units := doc.Units()
	c := doctree.Chunk{
		ID:        doctree.ChunkID(1, 1),
		Index:     1,
		Units:     units,
		Text:      doc.Text,
		Tokens:    doc.Tokens,
		Words:     doc.Words,
		StartLine: units[0].StartLine,
		EndLine:   units[len(units)-1].EndLine,
	}
	seen := make(map[string]bool)
	for _, s := range doc.Sections() {
		if s.Title != "" && !seen[s.Title] {
			seen[s.Title] = true
			c.Sections = append(c.Sections, s.Title)
		}
	}
	return c
}

// estimateCost is nil when no price is configured.
func estimateCost(inputTokens int, pricePer1K float64) *float64 {
	if pricePer1K <= 0 {
		return nil
	}
	cost := math.Round(float64(inputTokens)/1000*pricePer1K*10000) / 10000
	return &cost
}
