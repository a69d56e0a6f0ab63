package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdplan/internal/client"
	"github.com/dgallion1/mdplan/internal/convert"
	"github.com/dgallion1/mdplan/internal/merge"
)

var remoteOpts struct {
	server   string
	apiKey   string
	mode     string
	target   int
	overlap  int
	outDir   string
	interval time.Duration
}

var remoteCmd = &cobra.Command{
	Use:   "remote <file>",
	Short: "Plan a document on an mdplan server and download the plan",
	Long: `Remote uploads the file to a running mdplan server, waits for the planning
job, and writes the returned {stem}_chunks.json and {stem}_chunk_map.md
locally. The server URL and key default to MDPLAN_SERVER and MDPLAN_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server := remoteOpts.server
		if server == "" {
			server = os.Getenv("MDPLAN_SERVER")
		}
		if server == "" {
			return fmt.Errorf("--server or MDPLAN_SERVER is required")
		}
		key := remoteOpts.apiKey
		if key == "" {
			key = os.Getenv("MDPLAN_API_KEY")
		}
		c := client.NewClient(server, key)
		defer c.Close()

		overrides := map[string]string{}
		if cmd.Flags().Changed("mode") {
			overrides["mode"] = remoteOpts.mode
		}
		if cmd.Flags().Changed("target") {
			overrides["target_tokens"] = strconv.Itoa(remoteOpts.target)
		}
		if cmd.Flags().Changed("overlap") {
			overrides["overlap_tokens"] = strconv.Itoa(remoteOpts.overlap)
		}

		input := args[0]
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()

		ctx := cmd.Context()
		job, err := c.SubmitPlan(ctx, filepath.Base(input), f, overrides)
		if err != nil {
			return err
		}
		log.Info("submitted", "job_id", job.ID, "server", server)
		job, err = c.Wait(ctx, job.ID, remoteOpts.interval)
		if err != nil {
			return err
		}

		p, err := c.GetPlan(ctx, job.ContentHash)
		if err != nil {
			return err
		}
		chunkMap, err := c.ChunkMap(ctx, job.ContentHash)
		if err != nil {
			return err
		}
		body, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}

		stem := convert.Stem(input)
		dir := outputDir(remoteOpts.outDir, input)
		if err := writeFile(dir, merge.PlanArtifact(stem), string(body)+"\n"); err != nil {
			return err
		}
		if err := writeFile(dir, merge.MapArtifact(stem), chunkMap); err != nil {
			return err
		}
		log.Info("planned remotely", "status", job.Status, "content_hash", job.ContentHash, "chunks", len(p.Chunks))
		fmt.Fprint(cmd.OutOrStdout(), chunkMap)
		return nil
	},
}

func init() {
	fs := remoteCmd.Flags()
	fs.StringVar(&remoteOpts.server, "server", "", "mdplan server URL (MDPLAN_SERVER)")
	fs.StringVar(&remoteOpts.apiKey, "api-key", "", "API key (MDPLAN_API_KEY)")
	fs.StringVar(&remoteOpts.mode, "mode", "", "chunking mode override")
	fs.IntVar(&remoteOpts.target, "target", 0, "target tokens override")
	fs.IntVar(&remoteOpts.overlap, "overlap", 0, "overlap tokens override")
	fs.StringVarP(&remoteOpts.outDir, "out", "o", "", "output directory (default: next to the input)")
	fs.DurationVar(&remoteOpts.interval, "poll", 500*time.Millisecond, "job poll interval")
}
