package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdplan/internal/convert"
	"github.com/dgallion1/mdplan/internal/dispatch"
	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/plan"
)

var (
	planOpts    planFlags
	writeChunks bool
	printJSON   bool
)

var planCmd = &cobra.Command{
	Use:   "plan <file>",
	Short: "Plan chunking for a document and write the plan and chunk map",
	Long: `Plan converts the input to markdown if needed, decides whether it must be
chunked, and writes {stem}_chunks.json and {stem}_chunk_map.md. With
--write-chunks the rendered input of every chunk is written as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd, &planOpts)
		if err != nil {
			return err
		}
		input := args[0]
		p, err := s.plan(input)
		if err != nil {
			return err
		}

		stem := convert.Stem(input)
		dir := outputDir(planOpts.outDir, input)
		body, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		if err := writeFile(dir, merge.PlanArtifact(stem), string(body)+"\n"); err != nil {
			return err
		}
		if err := writeFile(dir, merge.MapArtifact(stem), plan.RenderMap(p)); err != nil {
			return err
		}
		if writeChunks {
			inputs := dispatch.ChunkInputs(p, stem)
			names := make([]string, 0, len(inputs))
			for name := range inputs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := writeFile(dir, name, inputs[name]); err != nil {
					return err
				}
			}
		}

		if printJSON {
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
		} else {
			fmt.Fprint(cmd.OutOrStdout(), plan.RenderMap(p))
		}
		return nil
	},
}

func init() {
	planOpts.register(planCmd)
	planCmd.Flags().BoolVar(&writeChunks, "write-chunks", false, "write each chunk's input text as {stem}_{chunk}.md")
	planCmd.Flags().BoolVar(&printJSON, "json", false, "print the plan JSON instead of the chunk map")
}
