package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nickigann03/ai-secretary/internal/models"
)

func (p *Pipeline) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(p.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil {
				p.log.Error().Err(err).Msg("sweep stuck meetings")
			}
		}
	}
}

// Sweep fails every in-flight meeting that has not been written for StuckAfter.
// It returns the number of meetings moved to FAILED.
func (p *Pipeline) Sweep(ctx context.Context) (int, error) {
	cutoff := p.runner.now().Add(-p.cfg.StuckAfter)
	stale, err := p.store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, m := range stale {
		msg := fmt.Sprintf("no progress in %s since %s", m.Status, m.UpdatedAt.UTC().Format(time.RFC3339))
		_, err := p.store.MarkFailed(ctx, m.UserID, m.ID, m.StageToken, models.FailureTimedOut, msg)
		if err != nil {
			if errors.Is(err, models.ErrStaleStage) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			return swept, err
		}
		swept++
		p.metrics.SweptTotal.Inc()
		p.log.Warn().Int64("meeting_id", m.ID).Str("status", string(m.Status)).Msg("stuck meeting failed")
	}
	return swept, nil
}
