package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdplan/internal/convert"
	"github.com/dgallion1/mdplan/internal/dispatch"
	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/planstore"
)

// exitRetry is the sysexits EX_TEMPFAIL code; an exec command returns it to
// ask for another attempt.
const exitRetry = 75

var (
	runOpts        planFlags
	runExec        string
	runConcurrency int
	runRetries     int
	runTimeout     time.Duration
	runMarkers     bool
	runStrict      bool
	runNoCache     bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Plan a document, process every chunk with a command and merge the results",
	Long: `Run plans the input, then pipes each (chunk, prompt part) request to the
--exec command on stdin. The command's stdout is the result. The system
prompt is passed in MDPLAN_SYSTEM_PROMPT, and chunk and part identifiers in
MDPLAN_CHUNK_ID and MDPLAN_PART. Exit code 75 marks a transient failure
that is retried with backoff.

Results are cached in the configured plan store, so re-running an
unchanged document only re-processes chunks whose text or prompt changed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(runExec) == "" {
			return errors.New("--exec is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(cmd, &runOpts)
		if err != nil {
			return err
		}
		input := args[0]
		p, err := s.plan(input)
		if err != nil {
			return err
		}
		stem := convert.Stem(input)
		dir := outputDir(runOpts.outDir, input)

		tasks, err := dispatch.Tasks(p, s.parts, stem)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			log.Warn("nothing to process", "document", p.Document)
			return nil
		}

		runner := &dispatch.Runner{
			Limit:      runConcurrency,
			MaxRetries: runRetries,
			Log:        log,
		}
		if !runNoCache {
			store, err := planstore.Open(ctx, s.cfg.PlanStore, s.cfg.PlanStoreDSN, s.cfg.PlanCacheSize)
			if err != nil {
				return fmt.Errorf("open plan store: %w", err)
			}
			defer store.Close()
			if err := store.PutPlan(ctx, p); err != nil {
				return fmt.Errorf("store plan: %w", err)
			}
			runner.Cache = store
		}

		log.Info("processing", "tasks", len(tasks), "concurrency", runConcurrency)
		outcomes, err := runner.Run(ctx, tasks, execFunc(runExec, s.cfg.SystemPrompt, runTimeout))
		if err != nil {
			return err
		}

		cached := 0
		for _, o := range outcomes {
			if o.Err != nil {
				continue
			}
			if o.Cached {
				cached++
			}
			if err := writeFile(dir, o.Task.Artifact, strings.TrimSpace(o.Text)+"\n"); err != nil {
				return err
			}
		}
		results, errs := dispatch.ChunkResults(outcomes, runMarkers)
		for _, e := range errs {
			log.Error("chunk failed", "error", e)
		}
		log.Info("processed", "tasks", len(tasks), "cached", cached, "failed", len(errs))

		return finishMerge(cmd.ErrOrStderr(), s.counter, p, results, dir, stem, merge.Options{
			BoundaryMarkers: &runMarkers,
			Strict:          runStrict,
		})
	},
}

func init() {
	runOpts.register(runCmd)
	fs := runCmd.Flags()
	fs.StringVar(&runExec, "exec", "", `command run through "sh -c" for every request`)
	fs.IntVar(&runConcurrency, "concurrency", dispatch.DefaultLimit, "requests in flight")
	fs.IntVar(&runRetries, "retries", dispatch.MaxRetries, "attempts per request for transient failures")
	fs.DurationVar(&runTimeout, "timeout", 10*time.Minute, "timeout per request")
	fs.BoolVar(&runMarkers, "markers", true, "wrap each chunk in boundary comments (--markers=false to disable)")
	fs.BoolVar(&runStrict, "strict", false, "fail when chunks are missing or coverage is out of tolerance")
	fs.BoolVar(&runNoCache, "no-cache", false, "ignore cached results and do not store new ones")
}

// execFunc runs command once per task with the composed prompt on stdin.
func execFunc(command, systemPrompt string, timeout time.Duration) dispatch.Func {
	return func(ctx context.Context, t dispatch.Task) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c := exec.CommandContext(ctx, "sh", "-c", command)
		c.Stdin = strings.NewReader(t.Prompt)
		c.Env = append(os.Environ(),
			"MDPLAN_SYSTEM_PROMPT="+systemPrompt,
			"MDPLAN_CHUNK_ID="+t.ChunkID,
			"MDPLAN_PART="+t.PartLabel,
		)
		var stdout, stderr bytes.Buffer
		c.Stdout = &stdout
		c.Stderr = &stderr

		err := c.Run()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr) && exitErr.ExitCode() == exitRetry:
			return "", &dispatch.RetryableError{StatusCode: exitRetry, Message: stderr.String()}
		case errors.As(err, &exitErr):
			return "", fmt.Errorf("exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		default:
			return "", err
		}
		out := stdout.String()
		if strings.TrimSpace(out) == "" {
			return "", errors.New("command produced no output")
		}
		return out, nil
	}
}
