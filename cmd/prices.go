package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/prices"
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Manage unit prices",
}

var pricesImportFile string

var pricesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import unit prices from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		data, err := os.ReadFile(pricesImportFile)
		if err != nil {
			return eris.Wrap(err, "read price file")
		}

		var file struct {
			Prices []model.PriceEntry `yaml:"prices"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse price file")
		}

		svc := prices.NewService(st, zap.L())
		n, err := svc.Import(ctx, file.Prices)
		if err != nil {
			return err
		}

		zap.L().Info("prices imported",
			zap.Int("count", n),
			zap.String("file", pricesImportFile),
		)
		return nil
	},
}

var (
	priceModel   string
	priceProcess string
)

var pricesGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Look up the unit price for a model and process",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entry, err := st.GetPrice(ctx, priceModel, priceProcess)
		if err != nil {
			return err
		}
		if entry == nil {
			return eris.Errorf("no price on file for %s/%s", priceModel, priceProcess)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

func init() {
	pricesImportCmd.Flags().StringVar(&pricesImportFile, "file", "", "path to YAML price file (required)")
	_ = pricesImportCmd.MarkFlagRequired("file")

	pricesGetCmd.Flags().StringVar(&priceModel, "model", "", "model name (required)")
	pricesGetCmd.Flags().StringVar(&priceProcess, "process", "", "process name (required)")
	_ = pricesGetCmd.MarkFlagRequired("model")
	_ = pricesGetCmd.MarkFlagRequired("process")

	pricesCmd.AddCommand(pricesImportCmd)
	pricesCmd.AddCommand(pricesGetCmd)
	rootCmd.AddCommand(pricesCmd)
}
