package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// ArchiveScheduler exports ledger rows older than the retention window to
// cold storage on a fixed interval.
type ArchiveScheduler struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiveScheduler creates an ArchiveScheduler.
func NewArchiveScheduler(archiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *ArchiveScheduler {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveScheduler{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archive_scheduler")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run archives once at start and then every interval.
func (s *ArchiveScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce archives trades and audit entries older than the retention window.
func (s *ArchiveScheduler) RunOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)

	trades, err := s.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		s.logger.Error("archive trades failed", slog.String("error", err.Error()))
	}
	audit, err := s.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		s.logger.Error("archive audit failed", slog.String("error", err.Error()))
	}
	s.logger.Info("archive pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("trades", trades),
		slog.Int64("audit_entries", audit),
	)
}
