package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meetbook/internal/config"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix   = "bookings-"
	snapshotSuffix   = ".db"
	snapshotLayout   = "20060102T150405.000Z"
	defaultSnapEvery = 24 * time.Hour
)

// BackupService snapshots the booking database on a fixed interval and
// prunes snapshots older than the retention window.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{db: db, cfg: cfg, logger: logger, now: time.Now}
}

// Start blocks until ctx is done. The first snapshot is taken right away.
func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("database snapshots disabled")
		return
	}

	every := s.interval()
	s.logger.Info().Dur("every", every).Str("dir", s.cfg.StoragePath).Msg("database snapshots enabled")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	path, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot failed")
		return
	}
	s.logger.Info().Str("path", path).Msg("snapshot written")

	if removed := s.Prune(); removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("old snapshots pruned")
	}
}

func (s *BackupService) interval() time.Duration {
	raw := strings.TrimSpace(s.cfg.Schedule)
	if raw == "" {
		return defaultSnapEvery
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		s.logger.Warn().Str("schedule", raw).Msg("bad backup schedule, snapshotting daily")
		return defaultSnapEvery
	}
	return d
}

// Snapshot writes a consistent copy of the live database with VACUUM INTO
// and returns the file it created.
func (s *BackupService) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := snapshotPrefix + s.now().UTC().Format(snapshotLayout) + snapshotSuffix
	path := filepath.Join(s.cfg.StoragePath, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

// Prune deletes snapshots whose modification time falls outside the
// retention window and reports how many went. Zero retention keeps everything.
func (s *BackupService) Prune() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read snapshot dir")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("remove old snapshot")
			continue
		}
		removed++
	}
	return removed
}
