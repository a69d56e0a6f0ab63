package merge

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// DefaultTolerance is the allowed relative gap between expected and
// observed primary tokens.
const DefaultTolerance = 0.02

// ErrIntegrityMismatch is returned in strict mode when the report is not clean.
var ErrIntegrityMismatch = errors.New("merge integrity mismatch")

// IntegrityError carries the failing report.
type IntegrityError struct {
	Report Report
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: %s", ErrIntegrityMismatch, strings.Join(e.Report.Warnings, "; "))
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }

// Result is the processed output for one chunk.
type Result struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

// Options controls merging. Nil fields take their defaults: boundary
// markers on and DefaultTolerance.
type Options struct {
	BoundaryMarkers *bool    `json:"boundary_markers,omitempty"`
	Tolerance       *float64 `json:"tolerance,omitempty"`
	Strict          bool     `json:"strict"`
}

func (o Options) markers() bool {
	return o.BoundaryMarkers == nil || *o.BoundaryMarkers
}

func (o Options) tolerance() float64 {
	if o.Tolerance == nil || *o.Tolerance < 0 {
		return DefaultTolerance
	}
	return *o.Tolerance
}

// Report describes how complete a merge was.
type Report struct {
	ExpectedTokens  int      `json:"expected_tokens"`
	ObservedTokens  int      `json:"observed_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	Deviation       float64  `json:"deviation"`
	WithinTolerance bool     `json:"within_tolerance"`
	Merged          []string `json:"merged"`
	Missing         []string `json:"missing,omitempty"`
	Duplicated      []string `json:"duplicated,omitempty"`
	Unknown         []string `json:"unknown,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// OK reports a complete, in-tolerance merge.
func (r Report) OK() bool {
	return r.WithinTolerance && len(r.Missing) == 0 && len(r.Duplicated) == 0 && len(r.Unknown) == 0
}

// Reconciler merges per-chunk results back into one document.
type Reconciler struct {
	counter tokens.Counter
}

// NewReconciler returns a reconciler measuring output with counter.
func NewReconciler(counter tokens.Counter) *Reconciler {
	if counter == nil {
		counter = tokens.NewWords(0)
	}
	return &Reconciler{counter: counter}
}

// Merge orders results by the plan's chunk sequence, regardless of arrival
// order, and joins them. Missing, duplicated and unknown chunk ids are
// reported as warnings; only Strict turns them into an error.
func (m *Reconciler) Merge(p *plan.Plan, results []Result, opts Options) (string, Report, error) {
	tolerance := opts.tolerance()
	byID := make(map[string]Result, len(results))
	rep := Report{ExpectedTokens: p.TotalTokens}
	for _, r := range results {
		if _, known := p.Record(r.ChunkID); !known {
			rep.Unknown = append(rep.Unknown, r.ChunkID)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("result for unknown chunk %s ignored", r.ChunkID))
			continue
		}
		if _, dup := byID[r.ChunkID]; dup {
			rep.Duplicated = append(rep.Duplicated, r.ChunkID)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("duplicate result for chunk %s ignored", r.ChunkID))
			continue
		}
		byID[r.ChunkID] = r
	}

	records := append(p.Chunks[:0:0], p.Chunks...)
	sort.SliceStable(records, func(i, j int) bool { return records[i].Index < records[j].Index })

	var parts []string
	for _, rec := range records {
		r, ok := byID[rec.ID]
		if !ok {
			rep.Missing = append(rep.Missing, rec.ID)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("missing result for chunk %s", rec.ID))
			continue
		}
		rep.Merged = append(rep.Merged, rec.ID)
		rep.ObservedTokens += rec.PrimaryTokens
		text := strings.TrimSpace(r.Text)
		if opts.markers() {
			text = wrap(rec.ID, rec.Index, len(records), text)
		}
		parts = append(parts, text)
	}
	merged := strings.Join(parts, "\n\n")
	rep.OutputTokens = m.counter.Count(merged)

	if rep.ExpectedTokens > 0 {
		rep.Deviation = math.Abs(float64(rep.ObservedTokens-rep.ExpectedTokens)) / float64(rep.ExpectedTokens)
	} else if rep.ObservedTokens > 0 {
		rep.Deviation = 1
	}
	rep.WithinTolerance = rep.Deviation <= tolerance
	if !rep.WithinTolerance {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("primary token coverage %d/%d deviates %.1f%% (tolerance %.1f%%)",
			rep.ObservedTokens, rep.ExpectedTokens, rep.Deviation*100, tolerance*100))
	}

	if opts.Strict && !rep.OK() {
		return merged, rep, &IntegrityError{Report: rep}
	}
	return merged, rep, nil
}

// wrap surrounds chunk content with start and end boundary markers.
func wrap(id string, index, total int, text string) string {
	return fmt.Sprintf("<!-- %s start (%d/%d) -->\n%s\n<!-- %s end (%d/%d) -->", id, index, total, text, id, index, total)
}

// Unwrap strips the boundary markers a previous merge put around a chunk.
// It reports whether they were present.
func Unwrap(id string, index, total int, text string) (string, bool) {
	start := fmt.Sprintf("<!-- %s start (%d/%d) -->\n", id, index, total)
	end := fmt.Sprintf("\n<!-- %s end (%d/%d) -->", id, index, total)
	t := strings.TrimSpace(text)
	if len(t) < len(start)+len(end) || !strings.HasPrefix(t, start) || !strings.HasSuffix(t, end) {
		return text, false
	}
	return t[len(start) : len(t)-len(end)], true
}

// PartResult is the output of one prompt part for a chunk.
type PartResult struct {
	Label string `json:"label"`
	Index int    `json:"index"` // 1-based prompt part order
	Text  string `json:"text"`
}

// MergeParts fuses the prompt-part outputs of one chunk in part order.
func MergeParts(chunkID string, parts []PartResult, markers bool) Result {
	sorted := append(parts[:0:0], parts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var out []string
	for _, p := range sorted {
		text := strings.TrimSpace(p.Text)
		if markers && len(sorted) > 1 {
			text = fmt.Sprintf("<!-- %s %s start -->\n%s\n<!-- %s %s end -->", chunkID, p.Label, text, chunkID, p.Label)
		}
		out = append(out, text)
	}
	return Result{ChunkID: chunkID, Text: strings.Join(out, "\n\n")}
}
