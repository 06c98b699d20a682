package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunSweeper periodically collects stale rooms until ctx is canceled.
// Meant to run as a goroutine from main.
func RunSweeper(ctx context.Context, rt *Router, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := rt.Sweep(now, ttl); n > 0 {
				log.Info().Str("module", "app.sweeper").Int("rooms", n).Msg("swept stale rooms")
			}
		}
	}
}
