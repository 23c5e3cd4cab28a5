package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/darkodi/terabox-bot/internal/logger"
)

// SweepOrphans deletes files in dir older than maxAge. Transfers remove their
// own temp files, so anything left behind is from a crash.
func SweepOrphans(dir string, maxAge time.Duration, now func() time.Time, log *logger.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}

		cutoff := now().Add(-maxAge)
		removed := 0
		for _, e := range entries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}

			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("path", path).Msg("failed to remove orphan")
				continue
			}
			removed++
		}

		if removed > 0 {
			log.Info().Int("removed", removed).Str("dir", dir).Msg("orphan temp files removed")
		}
		return nil
	}
}

// Prober checks a share session
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// ProbeSession resolves url to catch an expired session before users do
func ProbeSession(p Prober, url string, timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.Probe(ctx, url)
	}
}
