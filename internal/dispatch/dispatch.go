// Package dispatch turns a plan into per-(chunk, part) tasks and runs a
// caller-supplied function over them with bounded concurrency.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/planstore"
	"github.com/dgallion1/mdplan/internal/prompts"
)

// DefaultLimit is the default number of tasks in flight.
const DefaultLimit = 4

// ErrNoContent is returned by Tasks for a plan decoded without chunk text.
var ErrNoContent = errors.New("plan has no chunk content")

// Task is one request: one prompt part applied to one chunk.
type Task struct {
	ChunkID    string `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	PartIndex  int    `json:"part_index"`
	PartLabel  string `json:"part_label"`
	Artifact   string `json:"artifact"`  // file name per the artifact naming contract
	CacheKey   string `json:"cache_key"` // document hash + chunk hash + part hash
	Prompt     string `json:"-"`
}

// Tasks expands p into one task per (chunk, part), chunk-major. The plan
// must still carry its chunk text.
func Tasks(p *plan.Plan, parts []prompts.Part, stem string) ([]Task, error) {
	content := p.Content()
	if len(content) != len(p.Chunks) {
		return nil, ErrNoContent
	}
	if len(parts) == 0 {
		parts = prompts.Single("")
	}
	singleChunk := len(content) == 1
	singlePart := len(parts) == 1

	tasks := make([]Task, 0, len(content)*len(parts))
	for i, c := range content {
		rec := p.Chunks[i]
		for _, part := range parts {
			tasks = append(tasks, Task{
				ChunkID:    c.ID,
				ChunkIndex: c.Index,
				PartIndex:  part.Index,
				PartLabel:  part.Label,
				Artifact:   merge.PartArtifact(stem, c.ID, part.Label, singleChunk, singlePart),
				CacheKey:   planstore.ArtifactKey(p.ContentHash, c.ID, rec.ContentHash, part.Hash()),
				Prompt:     prompts.Compose(part, p.Document, c, len(content)),
			})
		}
	}
	return tasks, nil
}

// Func processes one task and returns its output text.
type Func func(ctx context.Context, t Task) (string, error)

// Cache remembers task outputs between runs. GetArtifact returns
// planstore.ErrNotFound on a miss.
type Cache interface {
	GetArtifact(ctx context.Context, key string) (string, error)
	PutArtifact(ctx context.Context, key, text string) error
}

// Outcome is the result of one task.
type Outcome struct {
	Task     Task
	Text     string
	Attempts int
	Cached   bool
	Err      error
	Duration time.Duration
}

// Runner executes tasks. The zero value runs DefaultLimit tasks at a time
// with MaxRetries attempts and no cache.
type Runner struct {
	Limit      int
	MaxRetries int
	Cache      Cache
	Log        *slog.Logger
	// Backoff overrides the wait between attempts; nil uses Backoff.
	Backoff func(attempt int) time.Duration
}

// Run executes every task and returns outcomes in task order. A failing
// task does not stop the others; the returned error is only set when ctx
// ends before all tasks finish.
func (r *Runner) Run(ctx context.Context, tasks []Task, fn Func) ([]Outcome, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	outcomes := make([]Outcome, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = r.runOne(gctx, t, fn)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, t Task, fn Func) Outcome {
	start := time.Now()
	log := r.logger().With("chunk_id", t.ChunkID, "part", t.PartLabel)
	out := Outcome{Task: t}

	if r.Cache != nil && t.CacheKey != "" {
		text, err := r.Cache.GetArtifact(ctx, t.CacheKey)
		switch {
		case err == nil:
			log.Debug("artifact unchanged, skipping")
			out.Text, out.Cached = text, true
			out.Duration = time.Since(start)
			return out
		case !errors.Is(err, planstore.ErrNotFound):
			log.Warn("artifact cache read failed", "error", err)
		}
	}

	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	backoff := r.Backoff
	if backoff == nil {
		backoff = Backoff
	}

	for attempt := range maxRetries {
		out.Attempts = attempt + 1
		out.Text, out.Err = fn(ctx, t)
		if out.Err == nil || !IsRetryable(out.Err) || attempt == maxRetries-1 {
			break
		}
		log.Warn("retryable task error", "attempt", attempt, "error", out.Err)
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			out.Err = ctx.Err()
			out.Duration = time.Since(start)
			return out
		}
	}
	out.Duration = time.Since(start)
	if out.Err != nil {
		log.Error("task failed", "attempts", out.Attempts, "error", out.Err)
		return out
	}

	if r.Cache != nil && t.CacheKey != "" {
		if err := r.Cache.PutArtifact(ctx, t.CacheKey, out.Text); err != nil {
			log.Warn("artifact cache write failed", "error", err)
		}
	}
	return out
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// ChunkResults fuses the part outputs of every chunk into merge inputs,
// ordered by chunk index. A chunk with any failed part is left out, so the
// merge reports it missing; its errors are returned instead.
func ChunkResults(outcomes []Outcome, markers bool) ([]merge.Result, []error) {
	type group struct {
		index  int
		parts  []merge.PartResult
		failed bool
	}
	groups := make(map[string]*group)
	var errs []error
	for _, o := range outcomes {
		g := groups[o.Task.ChunkID]
		if g == nil {
			g = &group{index: o.Task.ChunkIndex}
			groups[o.Task.ChunkID] = g
		}
		if o.Err != nil {
			g.failed = true
			errs = append(errs, fmt.Errorf("%s %s: %w", o.Task.ChunkID, o.Task.PartLabel, o.Err))
			continue
		}
		g.parts = append(g.parts, merge.PartResult{Label: o.Task.PartLabel, Index: o.Task.PartIndex, Text: o.Text})
	}

	ids := make([]string, 0, len(groups))
	for id, g := range groups {
		if !g.failed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return groups[ids[i]].index < groups[ids[j]].index })

	results := make([]merge.Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, merge.MergeParts(id, groups[id].parts, markers))
	}
	return results, errs
}

// ChunkInputs renders the input text of every chunk for writing next to the
// plan, keyed by artifact file name.
func ChunkInputs(p *plan.Plan, stem string) map[string]string {
	out := make(map[string]string, len(p.Content()))
	for _, c := range p.Content() {
		out[merge.ChunkInputArtifact(stem, c.ID)] = c.Render()
	}
	return out
}
