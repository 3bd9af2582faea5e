package scheduler

import (
	"context"
	"log/slog"
)

type claimPruner interface {
	Prune() (int, error)
}

// PruneClaims drops expired publish claims.
func PruneClaims(claims claimPruner) Job {
	return Job{
		Name: "prune-claims",
		Run: func(ctx context.Context) error {
			n, err := claims.Prune()
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("Pruned expired publish claims", "count", n)
			}
			return nil
		},
	}
}

type checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// CheckpointStore truncates the session database's write-ahead log.
func CheckpointStore(store checkpointer) Job {
	return Job{Name: "checkpoint-store", Run: store.Checkpoint}
}
