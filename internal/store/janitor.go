package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
)

// Janitor periodically prunes messages older than the retention period.
type Janitor struct {
	log       MessageLog
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewJanitor(l MessageLog, retention, interval time.Duration) *Janitor {
	return &Janitor{
		log:       l,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    log.With().Str("component", "janitor").Logger(),
	}
}

// Run prunes once immediately, then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.Sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pruning pass and returns how many messages it removed.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.retention)
	removed, err := j.log.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Warn().Err(err).Msg("prune failed")
		return 0
	}
	if removed > 0 {
		metrics.MessagesPruned.Add(float64(removed))
		j.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("pruned old messages")
	}
	return removed
}
