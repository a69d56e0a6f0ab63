package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/mdplan/internal/convert"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/planstore"
	"github.com/dgallion1/mdplan/internal/stats"
)

// Worker processes a single planning job.
type Worker struct {
	planner     *plan.Planner
	store       planstore.Store
	stats       *stats.Tracker
	log         *slog.Logger
	convertOpts convert.Options
}

func NewWorker(planner *plan.Planner, store planstore.Store, tracker *stats.Tracker, log *slog.Logger, convertOpts convert.Options) *Worker {
	return &Worker{
		planner:     planner,
		store:       store,
		stats:       tracker,
		log:         log,
		convertOpts: convertOpts,
	}
}

// Process runs convert, plan and store for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	// Phase 1: Convert
	job.SetStatus(StatusConverting, "converting")
	start := time.Now()
	c, err := convert.ForFile(job.Filename, w.convertOpts)
	if err != nil {
		w.fail(log, job, "converting", err)
		return
	}
	markdown, err := c.Convert(bytes.NewReader(job.FileData()), job.Filename)
	w.stats.Since(stats.OpConvert, start)
	if err != nil {
		w.fail(log, job, "converting", fmt.Errorf("convert: %w", err))
		return
	}
	job.releaseFileData()

	// Phase 2: Plan
	job.SetStatus(StatusPlanning, "planning")
	start = time.Now()
	p, err := w.planner.Plan(job.Filename, markdown, job.Params())
	w.stats.Since(stats.OpPlan, start)
	if err != nil {
		w.fail(log, job, "planning", err)
		return
	}
	job.SetPlan(p)
	for _, warning := range p.Warnings {
		log.Warn("plan warning", "warning", warning)
	}
	log.Info("planned document",
		"content_hash", p.ContentHash,
		"applied", p.Applied,
		"tokens", p.TotalTokens,
		"chunks", len(p.Chunks),
		"requests", p.EstimatedRequests)

	// Phase 3: Store, unless an identical plan is already there.
	existing, err := w.store.GetPlan(ctx, p.ContentHash)
	switch {
	case err == nil && existing.Params == p.Params:
		log.Info("plan unchanged, reusing stored plan")
		job.SetStatus(StatusCached, "done")
		return
	case err != nil && !errors.Is(err, planstore.ErrNotFound):
		log.Warn("plan lookup failed, storing anyway", "error", err)
	}

	job.SetStatus(StatusStoring, "storing")
	start = time.Now()
	err = w.store.PutPlan(ctx, p)
	w.stats.Since(stats.OpStore, start)
	if err != nil {
		w.fail(log, job, "storing", fmt.Errorf("store plan: %w", err))
		return
	}
	job.SetStatus(StatusCompleted, "done")
}

func (w *Worker) fail(log *slog.Logger, job *Job, phase string, err error) {
	log.Error("job failed", "phase", phase, "error", err)
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, phase)
}
