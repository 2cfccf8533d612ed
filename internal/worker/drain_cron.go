package worker

// drain_cron.go
// Background goroutine that periodically drains every branch with
// eligible work. Branches are independent fiscal reporting streams and
// drain in parallel (bounded); records within a branch stay FIFO.
// Each tick also runs the stale-claim recovery sweep.

import (
	"context"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DrainCronConfig holds the schedule parameters.
type DrainCronConfig struct {
	Drainer        *Drainer
	CB             *infra.CircuitBreaker // optional
	TickInterval   time.Duration
	BranchParallel int
}

// StartDrainCron launches the scheduled drain goroutine. It respects the
// context for graceful shutdown.
func StartDrainCron(ctx context.Context, cfg DrainCronConfig) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.BranchParallel <= 0 {
		cfg.BranchParallel = 4
	}

	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()

		log.Info().Dur("tick", cfg.TickInterval).Msg("drain_cron: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("drain_cron: shutting down")
				return
			case <-ticker.C:
				tick(ctx, cfg)
			}
		}
	}()
}

func tick(ctx context.Context, cfg DrainCronConfig) {
	// If CB is open, skip entirely — don't hammer a downed gateway
	if cfg.CB != nil && cfg.CB.State() == infra.CBOpen {
		log.Debug().Msg("drain_cron: circuit breaker is open, skipping tick")
		return
	}

	cfg.Drainer.RecoverStale(ctx)

	branches, err := cfg.Drainer.cfg.Repo.BranchesWithEligible(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("drain_cron: failed to query eligible branches")
		return
	}
	if len(branches) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.BranchParallel)
	for _, branchID := range branches {
		branchID := branchID
		g.Go(func() error {
			report, err := cfg.Drainer.Drain(gctx, branchID)
			if err != nil {
				log.Error().Err(err).Str("branch_id", branchID.String()).Msg("drain_cron: branch drain failed")
				return nil // one branch's failure never stops the others
			}
			if report.Attempted > 0 {
				log.Info().
					Str("branch_id", branchID.String()).
					Int("attempted", report.Attempted).
					Int("completed", report.Completed).
					Int("failed", report.Failed).
					Int64("still_pending", report.StillPending).
					Msg("drain_cron: branch drained")
			}
			return nil
		})
	}
	_ = g.Wait()
}
