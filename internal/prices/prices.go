// Package prices resolves unit prices for (model, process) pairs with a
// read-through in-memory cache over the store. Used by the snapshot save
// path to compute revenue; the extraction cascade never touches prices.
package prices

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/store"
)

// Service caches price lookups. Negative lookups are cached too, so a save
// of a thousand rows for an unpriced model costs one store round trip.
type Service struct {
	store store.Store
	log   *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	unitPrice float64
	found     bool
}

// NewService builds a price service. A nil logger falls back to the global.
func NewService(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	return &Service{
		store: st,
		log:   log,
		cache: make(map[string]cachedPrice),
	}
}

// PriceFor returns the unit price for a (model, process) pair. The second
// return reports whether a price exists; an unpriced pair is not an error.
func (s *Service) PriceFor(ctx context.Context, modelName, process string) (float64, bool, error) {
	key := cacheKey(modelName, process)

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return entry.unitPrice, entry.found, nil
	}

	price, err := s.store.GetPrice(ctx, modelName, process)
	if err != nil {
		return 0, false, eris.Wrap(err, "prices: lookup")
	}

	entry = cachedPrice{}
	if price != nil {
		entry = cachedPrice{unitPrice: price.UnitPrice, found: true}
	} else {
		s.log.Debug("no price on file",
			zap.String("model", modelName),
			zap.String("process", process))
	}

	s.mu.Lock()
	s.cache[key] = entry
	s.mu.Unlock()
	return entry.unitPrice, entry.found, nil
}

// Revenue computes unit price times quantity, zero when no price is on file.
func (s *Service) Revenue(ctx context.Context, modelName, process string, quantity int) (float64, error) {
	price, found, err := s.PriceFor(ctx, modelName, process)
	if err != nil || !found {
		return 0, err
	}
	return price * float64(quantity), nil
}

// Import upserts price entries and drops the cache so subsequent lookups see
// the new values. Entries missing a model name abort the import.
func (s *Service) Import(ctx context.Context, entries []model.PriceEntry) (int, error) {
	for i, entry := range entries {
		if strings.TrimSpace(entry.Model) == "" {
			return 0, eris.Errorf("prices: entry %d has no model", i)
		}
		if err := s.store.UpsertPrice(ctx, entry); err != nil {
			return i, eris.Wrap(err, "prices: import")
		}
	}
	s.Invalidate()
	s.log.Info("prices imported", zap.Int("count", len(entries)))
	return len(entries), nil
}

// Invalidate empties the cache.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cachedPrice)
	s.mu.Unlock()
}

func cacheKey(modelName, process string) string {
	return modelName + "\x00" + process
}
