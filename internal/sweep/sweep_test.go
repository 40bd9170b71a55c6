package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miltracker/internal/storage"
)

type recordingCloser struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (c *recordingCloser) CloseIdleTracks(_ context.Context, cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoffs = append(c.cutoffs, cutoff)
	return c.n, c.err
}

func (c *recordingCloser) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cutoffs)
}

type closedCounter struct{ total int64 }

func (m *closedCounter) TracksClosed(n int64) { m.total += n }

func TestSweepUsesIdleCutoff(t *testing.T) {
	closer := &recordingCloser{n: 2}
	m := &closedCounter{}
	s := New(closer, time.Minute, 30*time.Minute, m, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), m.total)
	require.Len(t, closer.cutoffs, 1)
	assert.True(t, closer.cutoffs[0].Equal(now.Add(-30*time.Minute)))
}

func TestSweepReturnsStoreError(t *testing.T) {
	closer := &recordingCloser{err: errors.New("db down")}
	s := New(closer, time.Minute, time.Minute, nil, zap.NewNop())

	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	closer := &recordingCloser{}
	s := New(closer, 5*time.Millisecond, time.Minute, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return closer.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunWithZeroIntervalUsesDefault(t *testing.T) {
	s := New(&recordingCloser{}, 0, time.Minute, nil, zap.NewNop())
	assert.Equal(t, DefaultInterval, s.interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepClosesStaleSQLiteTracks(t *testing.T) {
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.CreateSchema(ctx))

	now := time.Now().UTC()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.UpsertAircraft(ctx, storage.AircraftUpsert{Hex: "AE1234", SeenAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = tx.CreateTrack(ctx, id, "RCH405", storage.Point{Lon: 1, Lat: 2}, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = tx.CreateTrack(ctx, id, "RCH406", storage.Point{Lon: 1, Lat: 2}, now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	s := New(db, time.Minute, 30*time.Minute, nil, zap.NewNop())
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tracks, err := db.ListTracks(ctx, id)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	open := 0
	for _, tr := range tracks {
		if tr.Open() {
			open++
			assert.Equal(t, "RCH406", tr.Flight)
		}
	}
	assert.Equal(t, 1, open)
}
