package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	seq int64
	err error
}

func (f *fakeCounter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.err != nil {
		return errRow{err: f.err}
	}
	f.seq++
	return seqRow{seq: f.seq}
}

type seqRow struct {
	seq int64
}

func (r seqRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.seq
	return nil
}

type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error {
	return r.err
}

func TestNextIncrementsCounter(t *testing.T) {
	s := NewSequencer(&fakeCounter{}, nil)
	s.now = func() time.Time { return time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC) }

	first, err := s.Next(context.Background(), "PO")
	require.NoError(t, err)
	require.Equal(t, "PO20260001", first)

	second, err := s.Next(context.Background(), "PO")
	require.NoError(t, err)
	require.Equal(t, "PO20260002", second)
}

func TestNextRequiresPrefix(t *testing.T) {
	s := NewSequencer(&fakeCounter{}, nil)
	_, err := s.Next(context.Background(), "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestNextFallsBackWhenCounterUnavailable(t *testing.T) {
	at := time.Date(2026, 8, 29, 10, 30, 0, 123_000_000, time.UTC)
	s := NewSequencer(&fakeCounter{err: errors.New("connection refused")}, nil)
	s.now = func() time.Time { return at }

	number, err := s.Next(context.Background(), "GRN")
	require.NoError(t, err)
	require.Equal(t, FallbackNumber("GRN", at), number)
}

func TestFallbackNumberFormat(t *testing.T) {
	at := time.Date(2026, 8, 29, 10, 30, 0, 123_000_000, time.UTC)
	number := FallbackNumber("REQ", at)

	require.Len(t, number, len("REQ2026")+4)
	require.Equal(t, "REQ2026", number[:7])

	// The suffix is the last four digits of the epoch milliseconds.
	wantSuffix := at.UnixMilli() % 10000
	require.Equal(t, wantSuffix, int64(mustAtoi(t, number[7:])))
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, r := range s {
		require.GreaterOrEqual(t, r, '0')
		require.LessOrEqual(t, r, '9')
		n = n*10 + int(r-'0')
	}
	return n
}
