package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdplan/internal/config"
	"github.com/dgallion1/mdplan/internal/convert"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/prompts"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// planFlags are shared by plan and run. Each one overrides the matching
// environment variable only when set.
type planFlags struct {
	mode         string
	target       int
	tolerance    float64
	maxTokens    int
	overlap      int
	model        string
	contextLimit int
	price        float64
	promptsDir   string
	systemPrompt string
	outDir       string
	pdfPdftotext bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.mode, "mode", "", "chunking mode: auto, force or off (CHUNK_MODE)")
	fs.IntVar(&f.target, "target", 0, "target tokens per chunk (CHUNK_TARGET_TOKENS)")
	fs.Float64Var(&f.tolerance, "tolerance", 0, "allowed fraction above target (CHUNK_TOLERANCE)")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "hard ceiling before a unit is sub-split (CHUNK_MAX_TOKENS)")
	fs.IntVar(&f.overlap, "overlap", 0, "overlap tokens copied from the previous chunk (CHUNK_OVERLAP_TOKENS)")
	fs.StringVar(&f.model, "model", "", "model name for context limit and tokenizer (MODEL)")
	fs.IntVar(&f.contextLimit, "context-limit", 0, "model context window in tokens (MODEL_CONTEXT_LIMIT)")
	fs.Float64Var(&f.price, "price", 0, "input price per 1K tokens for the estimate (CHUNK_PRICING_INPUT_PER_1K)")
	fs.StringVar(&f.promptsDir, "prompts-dir", "", "directory with user_prompt_part*.md files (PROMPTS_DIR)")
	fs.StringVar(&f.systemPrompt, "system-prompt", "", "system prompt text (SYSTEM_PROMPT)")
	fs.StringVarP(&f.outDir, "out", "o", "", "output directory (default: next to the input)")
	fs.BoolVar(&f.pdfPdftotext, "pdftotext", true, "fall back to pdftotext for PDFs (PDF_FALLBACK_PDFTOTEXT)")
}

// session is everything a command needs to plan one document.
type session struct {
	cfg     config.Config
	counter tokens.Counter
	parts   []prompts.Part
	planner *plan.Planner
	params  plan.Params
}

func newSession(cmd *cobra.Command, f *planFlags) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("mode") {
		mode, err := plan.ParseMode(f.mode)
		if err != nil {
			return nil, err
		}
		cfg.ChunkMode = mode
	} else {
		for _, w := range cfg.Warnings {
			log.Warn("configuration", "warning", w)
		}
	}
	if changed("target") {
		cfg.TargetTokens = f.target
	}
	if changed("tolerance") {
		cfg.Tolerance = f.tolerance
	}
	if changed("max-tokens") {
		cfg.MaxTokens = f.maxTokens
	}
	if changed("overlap") {
		cfg.OverlapTokens = f.overlap
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("context-limit") {
		cfg.ContextLimit = f.contextLimit
	}
	if changed("price") {
		cfg.PricePer1K = f.price
	}
	if changed("prompts-dir") {
		cfg.PromptsDir = f.promptsDir
	}
	if changed("system-prompt") {
		cfg.SystemPrompt = f.systemPrompt
	}
	if changed("pdftotext") {
		cfg.PDFFallbackPdftotext = f.pdfPdftotext
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	counter, err := tokens.Resolve(cfg.Model, cfg.TokenizerEncoding)
	if err != nil {
		log.Warn("tokenizer", "error", err)
	}
	parts, err := prompts.Load(cfg.PromptsDir, cfg.PromptPartPattern)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:     cfg,
		counter: counter,
		parts:   parts,
		planner: plan.New(counter),
		params:  cfg.Params(prompts.Overhead(counter, cfg.SystemPrompt, parts), len(parts)),
	}, nil
}

// readMarkdown loads path, converting non-markdown formats first.
func (s *session) readMarkdown(path string) (string, error) {
	c, err := convert.ForFile(path, convert.Options{PDFFallbackPdftotext: s.cfg.PDFFallbackPdftotext})
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	md, err := c.Convert(f, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", path, err)
	}
	return md, nil
}

func (s *session) plan(path string) (*plan.Plan, error) {
	md, err := s.readMarkdown(path)
	if err != nil {
		return nil, err
	}
	p, err := s.planner.Plan(filepath.Base(path), md, s.params)
	if err != nil {
		return nil, err
	}
	for _, w := range p.Warnings {
		log.Warn("plan", "warning", w)
	}
	attrs := []any{
		"document", p.Document,
		"applied", p.Applied,
		"reason", p.Reason,
		"tokens", p.TotalTokens,
		"tokenizer", p.Tokenizer,
		"chunks", len(p.Chunks),
		"requests", p.EstimatedRequests,
		"input_tokens", p.EstimatedInputTokens,
	}
	if p.EstimatedCost != nil {
		attrs = append(attrs, "estimated_cost", fmt.Sprintf("$%.4f", *p.EstimatedCost))
	}
	log.Info("planned document", attrs...)
	return p, nil
}

func outputDir(flag, input string) string {
	if flag != "" {
		return flag
	}
	return filepath.Dir(input)
}

func writeFile(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Debug("wrote file", "path", path)
	return nil
}

// stemFromPlanFile recovers the artifact stem from a {stem}_chunks.json path.
func stemFromPlanFile(path string) string {
	return strings.TrimSuffix(filepath.Base(path), "_chunks.json")
}
