package main

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
)

// fileResult pairs one input file with its cascade outcome.
type fileResult struct {
	File    string             `json:"file"`
	Outcome model.ParseOutcome `json:"outcome"`
}

var parseCmd = &cobra.Command{
	Use:   "parse <files...>",
	Short: "Run the extraction cascade on forecast spreadsheets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		results := make([]fileResult, len(args))
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Parse.MaxConcurrentFiles)

		for i, path := range args {
			i, path := i, path
			g.Go(func() error {
				doc, err := sheet.Load(path)
				if err != nil {
					return eris.Wrapf(err, "load %s", path)
				}
				outcome := e.Cascade.Process(gctx, doc)

				mu.Lock()
				results[i] = fileResult{File: path, Outcome: outcome}
				mu.Unlock()

				zap.L().Info("file parsed",
					zap.String("file", path),
					zap.Int("records", len(outcome.Records)),
					zap.Float64("confidence", outcome.Confidence),
				)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
