package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is the single-row query surface the sequencer needs.
// *pgxpool.Pool satisfies it.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Sequencer issues document numbers of the form <PREFIX><year><seq> where seq
// is a zero-padded four digit counter scoped to the prefix and calendar year.
// The counter row is incremented atomically so concurrent creators never see
// the same number. When the counter cannot be reached the sequencer falls back
// to the last four digits of the current epoch milliseconds.
type Sequencer struct {
	db     RowQuerier
	logger *slog.Logger
	now    func() time.Time
}

// NewSequencer constructs a Sequencer.
func NewSequencer(db RowQuerier, logger *slog.Logger) *Sequencer {
	return &Sequencer{db: db, logger: logger, now: time.Now}
}

// Next returns the next document number for the prefix.
func (s *Sequencer) Next(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrValidation
	}
	now := s.now()
	year := now.Year()
	var seq int64
	err := s.db.QueryRow(ctx, `INSERT INTO doc_counters (prefix, year, seq)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, year) DO UPDATE SET seq = doc_counters.seq + 1
RETURNING seq`, prefix, year).Scan(&seq)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("doc counter unavailable, using fallback number", slog.String("prefix", prefix), slog.Any("error", err))
		}
		return FallbackNumber(prefix, now), nil
	}
	return fmt.Sprintf("%s%d%04d", prefix, year, seq), nil
}

// FallbackNumber builds a number from the last four digits of epoch millis.
func FallbackNumber(prefix string, now time.Time) string {
	millis := now.UnixMilli()
	return fmt.Sprintf("%s%d%04d", prefix, now.Year(), millis%10000)
}
