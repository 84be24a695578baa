package template

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/axisfab/forecast-ingest/internal/model"
)

// seedFile is the on-disk format accepted by ImportSeed.
type seedFile struct {
	Recipes []seedRecipe `yaml:"recipes"`
}

type seedRecipe struct {
	Name      string            `yaml:"name"`
	Signature string            `yaml:"signature"`
	Mapping   model.CellMapping `yaml:"mapping"`
}

// ImportSeed loads recipes from a YAML seed stream and persists them. Every
// entry must carry a name, a signature, and a valid mapping; the first bad
// entry aborts the import with nothing further written.
func (s *Service) ImportSeed(ctx context.Context, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, eris.Wrap(err, "template: read seed")
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, eris.Wrap(err, "template: parse seed yaml")
	}

	imported := 0
	for i, entry := range seed.Recipes {
		if entry.Name == "" {
			return imported, eris.Errorf("template: seed entry %d: missing name", i)
		}
		if entry.Signature == "" {
			return imported, eris.Errorf("template: seed entry %d (%s): missing signature", i, entry.Name)
		}
		if err := entry.Mapping.Validate(); err != nil {
			return imported, eris.Wrapf(err, "template: seed entry %d (%s)", i, entry.Name)
		}

		recipe := &model.ExtractionRecipe{
			Name:      entry.Name,
			Signature: model.Signature(entry.Signature),
			Mapping:   entry.Mapping,
		}
		if err := s.store.CreateRecipe(ctx, recipe); err != nil {
			return imported, eris.Wrapf(err, "template: seed entry %d (%s)", i, entry.Name)
		}
		imported++
	}

	s.log.Info("recipe seed imported", zap.Int("count", imported))
	return imported, nil
}
