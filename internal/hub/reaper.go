package hub

import (
	"context"
	"time"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/store"
)

// Reap retires live games and purges stored ones that sat idle in LOBBY or
// FINISHED for longer than StaleAfter. Games in BUYING or SELLING are never
// touched. It returns the ids that were removed.
func (h *Hub) Reap(ctx context.Context) ([]string, error) {
	cutoff := h.opts.Now().Add(-h.opts.StaleAfter)

	var reaped []string
	for _, r := range h.liveRooms() {
		var stale bool
		err := r.do(ctx, func(g *game.Game) error {
			// Checked on the actor, so a late action cannot revive a game
			// that is being retired.
			if store.Reapable(g.Phase()) && g.LastActivity.Before(cutoff) {
				stale = true
				r.retire()
			}
			return nil
		})
		if err != nil {
			return reaped, err
		}
		if stale {
			reaped = append(reaped, r.id)
		}
	}

	// Let pending deletes land before purging the rest of the store.
	h.persist.flush()
	ids, err := h.opts.Store.PurgeStale(ctx, cutoff)
	if err != nil {
		h.log.Warn().Err(err).Msg("purge stale games")
		return reaped, err
	}
	reaped = append(reaped, ids...)
	if len(reaped) > 0 {
		h.log.Info().Int("count", len(reaped)).Time("cutoff", cutoff).Msg("reaped stale games")
	}
	return reaped, nil
}

// RunReaper calls Reap every interval until ctx is done. A non-positive
// interval disables reaping.
func (h *Hub) RunReaper(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		h.log.Warn().Msg("reaper disabled")
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := h.Reap(ctx); err != nil && ctx.Err() == nil {
				h.log.Warn().Err(err).Msg("reaper pass failed")
			}
		}
	}
}
