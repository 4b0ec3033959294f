package cache

import (
	"context"
	"time"
)

// DefaultPruneAge is how long an untouched checkpoint is kept by Prune
const DefaultPruneAge = 7 * 24 * time.Hour

// Prune clears checkpoints whose last save is older than maxAge and returns
// the fingerprints it removed.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		maxAge = DefaultPruneAge
	}

	fps, err := m.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := []string{}

	for _, fp := range fps {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		info, err := m.Info(fp)
		if err != nil {
			m.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Skipping unreadable cache entry")
			continue
		}
		if info.UpdatedAt.After(cutoff) {
			continue
		}

		if err := m.Clear(ctx, fp); err != nil {
			return removed, err
		}
		removed = append(removed, fp)
	}

	if len(removed) > 0 {
		m.logger.Info().Int("removed", len(removed)).Dur("max_age", maxAge).Msg("Pruned stale cache entries")
	}

	return removed, nil
}
