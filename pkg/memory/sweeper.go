package memory

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/internal/observability"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

// Sweeper periodically reconciles the vector index against metadata:
// it retries deletes for orphan vectors left behind by failed writes
// and finishes metadata deletes that failed after their vectors were
// already removed.
type Sweeper struct {
	store  *Store
	index  vectorindex.Index
	logger zerolog.Logger

	cron *cron.Cron
	mu   sync.Mutex
}

// NewSweeper builds a sweeper bound to a store and index.
func NewSweeper(store *Store, index vectorindex.Index, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		index:  index,
		logger: logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules sweeps on the given cron spec (e.g. "@every 5m").
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info().Str("schedule", spec).Msg("Sweeper started")
	return nil
}

// Stop halts scheduled sweeps and waits for a running one to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one reconciliation pass. Entries that still fail stay
// queued for the next pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	// One sweep at a time; cron can fire while a slow pass runs.
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.sweep(ctx)
	observability.RecordOrphanSweep(err == nil)
	return err
}

func (s *Sweeper) sweep(ctx context.Context) error {
	orphans, err := s.store.Orphans(ctx)
	if err != nil {
		return err
	}

	// Group per tenant so each index delete stays tenant-scoped.
	byTenant := make(map[string][]string)
	for _, o := range orphans {
		byTenant[o.TenantID] = append(byTenant[o.TenantID], o.ChunkID)
	}

	var lastErr error
	cleaned := 0
	for tenantID, ids := range byTenant {
		if err := s.index.Delete(ctx, tenantID, ids); err != nil {
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Int("vectors", len(ids)).
				Msg("Orphan vector delete still failing")
			lastErr = err
			continue
		}
		if err := s.store.ResolveOrphans(ctx, ids); err != nil {
			lastErr = err
			continue
		}
		cleaned += len(ids)
	}

	pending, err := s.store.PendingDeletes(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := s.store.RetryPendingDelete(ctx, p); err != nil {
			s.logger.Warn().Err(err).Str("document_id", p.DocumentID).
				Msg("Pending metadata delete still failing")
			lastErr = err
		}
	}

	remaining := len(orphans) - cleaned
	observability.SetOrphansPending(remaining)
	if cleaned > 0 || len(pending) > 0 {
		s.logger.Info().
			Int("vectors_cleaned", cleaned).
			Int("vectors_remaining", remaining).
			Int("deletes_retried", len(pending)).
			Msg("Sweep completed")
	}
	return lastErr
}
