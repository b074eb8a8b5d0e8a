package chat

import (
	"context"

	"github.com/suPer8Hu/chatkeep/internal/logger"
	"github.com/suPer8Hu/chatkeep/internal/metrics"
)

// DefaultRetentionLimit is how many chats an owner keeps.
const DefaultRetentionLimit = 20

// Retention keeps each owner at the Limit most recently updated chats.
type Retention struct {
	store Store
	limit int
	log   *logger.Logger
}

func NewRetention(store Store, limit int, log *logger.Logger) *Retention {
	if limit <= 0 {
		limit = DefaultRetentionLimit
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Retention{store: store, limit: limit, log: log.With("component", "retention")}
}

func (r *Retention) Limit() int { return r.limit }

// Enforce deletes the owner's chats beyond the limit, oldest updated_at first,
// and returns the evicted chat ids.
func (r *Retention) Enforce(ctx context.Context, owner string) ([]string, error) {
	evicted, err := r.store.EvictBeyond(ctx, owner, r.limit)
	if err != nil {
		countStoreErr(err)
		return nil, err
	}
	if len(evicted) > 0 {
		metrics.ChatsEvicted.Add(float64(len(evicted)))
		r.log.Info("evicted chats", "owner", owner, "count", len(evicted), "chat_ids", evicted)
	}
	return evicted, nil
}

// EnforceAll sweeps every owner. Concurrent saves for one owner can briefly
// overshoot the limit; this restores it.
func (r *Retention) EnforceAll(ctx context.Context) (int, error) {
	owners, err := r.store.ListOwners(ctx)
	if err != nil {
		countStoreErr(err)
		return 0, err
	}
	total := 0
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		evicted, err := r.Enforce(ctx, owner)
		if err != nil {
			return total, err
		}
		total += len(evicted)
	}
	return total, nil
}
