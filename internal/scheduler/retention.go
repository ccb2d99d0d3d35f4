package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pruner deletes chat history rows older than a cutoff.
type Pruner interface {
	PruneTurns(ctx context.Context, before time.Time) (int64, error)
}

// Retention returns the job that prunes chat histories older than maxAge.
func Retention(p Pruner, schedule string, maxAge time.Duration) Job {
	return Job{
		Name:     "retention",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			if maxAge <= 0 {
				return nil
			}
			cutoff := time.Now().Add(-maxAge)
			n, err := p.PruneTurns(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("prune chat histories: %w", err)
			}
			slog.Info("pruned chat histories", "rows", n, "before", cutoff.Format(time.RFC3339))
			return nil
		},
	}
}
