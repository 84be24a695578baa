package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/store"
	"github.com/axisfab/forecast-ingest/internal/template"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage extraction recipes",
}

var templatesActiveOnly bool

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recipes, err := st.ListRecipes(ctx, store.RecipeFilter{ActiveOnly: templatesActiveOnly})
		if err != nil {
			return eris.Wrap(err, "list recipes")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recipes)
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <recipe-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetRecipeActive(ctx, args[0], active); err != nil {
				return err
			}
			zap.L().Info("recipe updated",
				zap.String("recipe_id", args[0]),
				zap.Bool("active", active),
			)
			return nil
		},
	}
}

var templatesImportFile string

var templatesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import recipes from a YAML seed file",
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

		f, err := os.Open(templatesImportFile)
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close()

		svc := template.NewService(st, template.DefaultConfig(), zap.L())
		n, err := svc.ImportSeed(ctx, f)
		if err != nil {
			return eris.Wrap(err, "import seed")
		}

		zap.L().Info("recipes imported",
			zap.Int("count", n),
			zap.String("file", templatesImportFile),
		)
		return nil
	},
}

func init() {
	templatesListCmd.Flags().BoolVar(&templatesActiveOnly, "active", false, "only list active recipes")
	templatesImportCmd.Flags().StringVar(&templatesImportFile, "file", "", "path to YAML seed file (required)")
	_ = templatesImportCmd.MarkFlagRequired("file")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(setActiveCmd("enable", "Re-enable a recipe", true))
	templatesCmd.AddCommand(setActiveCmd("disable", "Disable a recipe", false))
	templatesCmd.AddCommand(templatesImportCmd)
	rootCmd.AddCommand(templatesCmd)
}
