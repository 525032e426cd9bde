package storage

import (
	"context"

	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/state"
	"go.uber.org/zap"
)

// TypeCounts accumulates the per-type outcome counters spec.md §4.3's
// commit() reports.
type TypeCounts struct {
	Added   int
	Updated int
	Failed  int
}

// CommitResult is the per-type breakdown returned by Commit.
type CommitResult struct {
	Movie   TypeCounts
	Episode TypeCounts
}

func (r *CommitResult) counts(t state.MediaType) *TypeCounts {
	if t == state.Movie {
		return &r.Movie
	}
	return &r.Episode
}

// Commit batches insert/update of entities inside a single transaction.
// Row-level failures are counted and logged but don't abort the batch; a
// failure from the transaction itself (not a single statement) propagates
// and rolls everything back, per spec.md §7's propagation policy.
func (s *Storage) Commit(ctx context.Context, entities []*state.State) (CommitResult, error) {
	var result CommitResult
	log := logger.FromCtx(ctx)

	err := s.Transactional(ctx, func(ctx context.Context) error {
		for _, e := range entities {
			counts := result.counts(e.Type)

			if e.ID == nil {
				if err := s.Insert(ctx, e); err != nil {
					counts.Failed++
					log.Debugw("commit insert failed", zap.String("type", string(e.Type)), zap.Error(err))
					continue
				}
				counts.Added++
				continue
			}

			if err := s.Update(ctx, e); err != nil {
				counts.Failed++
				log.Debugw("commit update failed", zap.String("type", string(e.Type)), zap.Int64("id", *e.ID), zap.Error(err))
				continue
			}
			counts.Updated++
		}
		return nil
	})

	return result, err
}
