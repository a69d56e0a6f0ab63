package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/prompts"
	"github.com/dgallion1/mdplan/internal/tokens"
)

var mergeOpts struct {
	dir        string
	stem       string
	promptsDir string
	markers    bool
	strict     bool
	tolerance  float64
	model      string
}

var mergeCmd = &cobra.Command{
	Use:   "merge <stem_chunks.json>",
	Short: "Merge per-chunk outputs back into one document",
	Long: `Merge reads the plan written by "mdplan plan", collects the per-chunk
(and per-part) output files that follow the artifact naming contract, and
writes {stem}_ai.md with an integrity report on stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readPlan(args[0])
		if err != nil {
			return err
		}
		dir := mergeOpts.dir
		if dir == "" {
			dir = filepath.Dir(args[0])
		}
		stem := mergeOpts.stem
		if stem == "" {
			stem = stemFromPlanFile(args[0])
		}
		parts, err := prompts.Load(mergeOpts.promptsDir, "")
		if err != nil {
			return err
		}
		if mergeOpts.promptsDir == "" && p.Parts > 1 {
			parts = numberedParts(p.Parts)
		}

		results, err := collectResults(p, parts, dir, stem, mergeOpts.markers)
		if err != nil {
			return err
		}
		counter, err := tokens.Resolve(mergeOpts.model, "")
		if err != nil {
			log.Warn("tokenizer", "error", err)
		}
		return finishMerge(cmd.ErrOrStderr(), counter, p, results, dir, stem, merge.Options{
			BoundaryMarkers: &mergeOpts.markers,
			Tolerance:       &mergeOpts.tolerance,
			Strict:          mergeOpts.strict,
		})
	},
}

func init() {
	fs := mergeCmd.Flags()
	fs.StringVar(&mergeOpts.dir, "dir", "", "directory holding the chunk outputs (default: next to the plan)")
	fs.StringVar(&mergeOpts.stem, "stem", "", "artifact stem (default: derived from the plan file name)")
	fs.StringVar(&mergeOpts.promptsDir, "prompts-dir", "", "directory with the prompt parts used for the run (default: part count from the plan)")
	fs.BoolVar(&mergeOpts.markers, "markers", true, "wrap each chunk in boundary comments (--markers=false to disable)")
	fs.BoolVar(&mergeOpts.strict, "strict", false, "fail when chunks are missing or coverage is out of tolerance")
	fs.Float64Var(&mergeOpts.tolerance, "tolerance", merge.DefaultTolerance, "allowed coverage deviation")
	fs.StringVar(&mergeOpts.model, "model", "gpt-4o", "model used to count output tokens")
}

func readPlan(path string) (*plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", path, err)
	}
	return &p, nil
}

// collectResults reads the output files of every chunk. Per-part files are
// fused in part order; a chunk without part files falls back to its fused
// chunk artifact. Chunks with no output at all are left for the merge
// report to flag as missing.
//
// With a single chunk the chunk artifact and the merged document share a
// name, so a file a previous merge wrote is read back without its markers.
func collectResults(p *plan.Plan, parts []prompts.Part, dir, stem string, markers bool) ([]merge.Result, error) {
	singleChunk := len(p.Chunks) == 1
	singlePart := len(parts) == 1
	read := func(name, id string, index int) (string, bool, error) {
		text, ok, err := readOptional(filepath.Join(dir, name))
		if ok && name == merge.DocumentArtifact(stem) {
			text, _ = merge.Unwrap(id, index, len(p.Chunks), text)
		}
		return text, ok, err
	}
	var results []merge.Result
	for _, rec := range p.Chunks {
		var found []merge.PartResult
		for _, part := range parts {
			text, ok, err := read(merge.PartArtifact(stem, rec.ID, part.Label, singleChunk, singlePart), rec.ID, rec.Index)
			if err != nil {
				return nil, err
			}
			if ok {
				found = append(found, merge.PartResult{Label: part.Label, Index: part.Index, Text: text})
			}
		}
		if len(found) > 0 {
			if len(found) < len(parts) {
				log.Warn("chunk is missing prompt part outputs", "chunk_id", rec.ID, "found", len(found), "parts", len(parts))
			}
			results = append(results, merge.MergeParts(rec.ID, found, markers))
			continue
		}
		text, ok, err := read(merge.ChunkArtifact(stem, rec.ID, singleChunk), rec.ID, rec.Index)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, merge.Result{ChunkID: rec.ID, Text: text})
		}
	}
	return results, nil
}

// numberedParts stands in for the prompt parts of a run when only their
// count is known from the plan.
func numberedParts(n int) []prompts.Part {
	parts := make([]prompts.Part, n)
	for i := range parts {
		parts[i] = prompts.Part{Index: i + 1, Label: fmt.Sprintf("part%d", i+1)}
	}
	return parts
}

func readOptional(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// finishMerge reconciles results, writes {stem}_ai.md and prints the report.
// In strict mode an integrity failure is returned after the report is shown
// and nothing is written.
func finishMerge(w io.Writer, counter tokens.Counter, p *plan.Plan, results []merge.Result, dir, stem string, opts merge.Options) error {
	merged, rep, err := merge.NewReconciler(counter).Merge(p, results, opts)
	printReport(w, rep)
	if err != nil {
		return err
	}
	if err := writeFile(dir, merge.DocumentArtifact(stem), merged+"\n"); err != nil {
		return err
	}
	log.Info("merged document",
		"path", filepath.Join(dir, merge.DocumentArtifact(stem)),
		"chunks", len(rep.Merged),
		"missing", len(rep.Missing),
		"output_tokens", rep.OutputTokens)
	return nil
}

func printReport(w io.Writer, rep merge.Report) {
	status := "ok"
	if !rep.OK() {
		status = "incomplete"
	}
	fmt.Fprintf(w, "merge %s: %d chunks, coverage %d/%d tokens (deviation %.2f%%), output %d tokens\n",
		status, len(rep.Merged), rep.ObservedTokens, rep.ExpectedTokens, rep.Deviation*100, rep.OutputTokens)
	for _, warning := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
