package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miltracker/internal/adsb"
)

func decode(t *testing.T, payload string) *adsb.Record {
	t.Helper()
	rec, err := adsb.Decode([]byte(payload))
	require.NoError(t, err)
	return rec
}

// steppingClock returns t0, t0+1s, t0+2s, ...
func steppingClock(t0 time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		now := t0.Add(time.Duration(n) * time.Second)
		n++
		return now
	}
}

func TestIngest_ScenarioA_OpensThenExtendsTrack(t *testing.T) {
	store := newFakeStore()
	metrics := newRecordingMetrics()
	c := NewCoordinator(store, metrics, zap.NewNop()).
		WithClock(steppingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	out := c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":38.8951,"lon":-77.0364,"alt_baro":35000,"flight":"RCH405"}`))
	require.Equal(t, StatusIngested, out.Status)
	out = c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":38.9,"lon":-77.04,"alt_geom":35200,"flight":"RCH405"}`))
	require.Equal(t, StatusIngested, out.Status)

	state := store.committed
	require.Len(t, state.aircraft, 1)
	require.Len(t, state.positions, 2)
	require.Len(t, state.tracks, 1)

	tr := state.tracks[0]
	assert.Len(t, tr.points, 2)
	assert.Equal(t, 0.0, tr.points[0].Alt, "alt_baro is not used as track altitude")
	assert.Equal(t, 35200.0, tr.points[1].Alt)
	require.NotNil(t, tr.end)
	assert.True(t, tr.end.After(tr.start))
	assert.Equal(t, 2, metrics.ingested)
}

func TestIngest_ScenarioB_SkipsWithoutStoreAccess(t *testing.T) {
	store := newFakeStore()
	metrics := newRecordingMetrics()
	c := NewCoordinator(store, metrics, zap.NewNop())

	out := c.Ingest(context.Background(), decode(t, `{"hex":"AE5678","alt_baro":"ground"}`))

	assert.Equal(t, StatusSkippedNoPosition, out.Status)
	assert.Equal(t, "AE5678", out.Hex)
	assert.NoError(t, out.Err)
	assert.Equal(t, 0, store.begins)
	assert.Equal(t, 1, metrics.skipped)
}

func TestIngest_ScenarioC_NoFlightNoTrack(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())

	out := c.Ingest(context.Background(), decode(t, `{"hex":"AE1234","lat":40.0,"lon":-74.0}`))

	require.Equal(t, StatusIngested, out.Status)
	assert.Len(t, store.committed.positions, 1)
	assert.Empty(t, store.committed.tracks)
	assert.Equal(t, 0.0, store.committed.positions[0].Point.Alt)
}

func TestIngest_FailureRollsBackWholeUnit(t *testing.T) {
	for _, step := range []string{StepBegin, StepResolve, StepWrite, StepStitch, StepCommit} {
		t.Run(step, func(t *testing.T) {
			store := newFakeStore()
			store.failOn = step
			metrics := newRecordingMetrics()
			c := NewCoordinator(store, metrics, zap.NewNop())

			out := c.Ingest(context.Background(), decode(t, `{"hex":"AE1234","lat":1,"lon":2,"flight":"RCH405"}`))

			require.Equal(t, StatusFailed, out.Status)
			var pe *PersistenceError
			require.True(t, errors.As(out.Err, &pe))
			assert.Equal(t, step, pe.Step)
			assert.True(t, errors.Is(out.Err, errInjected))

			assert.Empty(t, store.committed.aircraft)
			assert.Empty(t, store.committed.positions)
			assert.Empty(t, store.committed.tracks)
			assert.Equal(t, 0, store.commits)
			if step != StepBegin {
				assert.Equal(t, 1, store.rollbacks)
			}
			assert.Equal(t, 1, metrics.failed[step])
		})
	}
}

func TestIngest_FailureDoesNotAffectNextEvent(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()

	store.failOn = StepWrite
	out := c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2}`))
	require.Equal(t, StatusFailed, out.Status)

	store.failOn = ""
	out = c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2}`))
	require.Equal(t, StatusIngested, out.Status)
	assert.Len(t, store.committed.positions, 1)
}

func TestIngest_IdentityMerge(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()

	c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2,"r":"05-5140","t":"C17"}`))
	c.Ingest(ctx, decode(t, `{"hex":"ae1234","lat":1,"lon":2,"ownOp":"USAF"}`))

	require.Len(t, store.committed.aircraft, 1)
	a := store.committed.aircraft["AE1234"]
	require.NotNil(t, a.Registration)
	assert.Equal(t, "05-5140", *a.Registration)
	require.NotNil(t, a.TypeCode)
	assert.Equal(t, "C17", *a.TypeCode)
	require.NotNil(t, a.Operator)
	assert.Equal(t, "USAF", *a.Operator)
}

func TestIngest_SeparateTracksPerFlight(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()

	c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2,"flight":"RCH405"}`))
	c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1.1,"lon":2.1,"flight":"RCH406"}`))
	c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1.2,"lon":2.2,"flight":"RCH405"}`))

	require.Len(t, store.committed.tracks, 2)
	assert.Len(t, store.committed.tracks[0].points, 2)
	assert.Len(t, store.committed.tracks[1].points, 1)
}

func TestIngest_SkipsPartialCoordinates(t *testing.T) {
	for _, payload := range []string{
		`{"hex":"AE1234","lat":38.9,"flight":"RCH405"}`,
		`{"hex":"AE1234","lon":-77.0,"flight":"RCH405"}`,
		`{"hex":"AE1234","lat":38.9,"lon":null}`,
	} {
		t.Run(payload, func(t *testing.T) {
			store := newFakeStore()
			metrics := newRecordingMetrics()
			c := NewCoordinator(store, metrics, zap.NewNop())

			out := c.Ingest(context.Background(), decode(t, payload))

			assert.Equal(t, StatusSkippedNoPosition, out.Status)
			assert.Equal(t, 0, store.begins)
			assert.Empty(t, store.committed.aircraft)
			assert.Equal(t, 1, metrics.skipped)
		})
	}
}

func TestIngest_RedeliveryIsAppendedTwice(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()
	payload := `{"hex":"AE1234","lat":38.8951,"lon":-77.0364,"alt_geom":35000,"flight":"RCH405"}`

	require.Equal(t, StatusIngested, c.Ingest(ctx, decode(t, payload)).Status)
	require.Equal(t, StatusIngested, c.Ingest(ctx, decode(t, payload)).Status)

	assert.Len(t, store.committed.aircraft, 1)
	assert.Len(t, store.committed.positions, 2)
	require.Len(t, store.committed.tracks, 1)
	assert.Len(t, store.committed.tracks[0].points, 2)
}

func TestIngest_RedeliveryWithoutFlightOpensNoTrack(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()
	payload := `{"hex":"AE1234","lat":40.0,"lon":-74.0}`

	c.Ingest(ctx, decode(t, payload))
	c.Ingest(ctx, decode(t, payload))

	assert.Len(t, store.committed.aircraft, 1)
	assert.Len(t, store.committed.positions, 2)
	assert.Empty(t, store.committed.tracks)
}

func TestIngest_FailedUpdateKeepsExistingAircraft(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, StatusIngested, c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2,"r":"05-5140"}`)).Status)

	store.failOn = StepStitch
	out := c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1.1,"lon":2.1,"t":"C17","flight":"RCH405"}`))
	require.Equal(t, StatusFailed, out.Status)

	a := store.committed.aircraft["AE1234"]
	require.NotNil(t, a.Registration)
	assert.Equal(t, "05-5140", *a.Registration)
	assert.Nil(t, a.TypeCode, "merged identity must roll back with the failed unit")
	assert.Len(t, store.committed.positions, 1)
	assert.Empty(t, store.committed.tracks)
}

func TestIngest_LaterValueOverwritesIdentity(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx := context.Background()

	c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2,"t":"C17","ownOp":"USAF"}`))
	c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2,"t":"C17A","ownOp":null}`))

	a := store.committed.aircraft["AE1234"]
	require.NotNil(t, a.TypeCode)
	assert.Equal(t, "C17A", *a.TypeCode)
	require.NotNil(t, a.Operator)
	assert.Equal(t, "USAF", *a.Operator, "absent values keep the stored one")
}

func TestIngest_CompletesAfterCancellation(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := c.Ingest(ctx, decode(t, `{"hex":"AE1234","lat":1,"lon":2}`))
	assert.Equal(t, StatusIngested, out.Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ingested", StatusIngested.String())
	assert.Equal(t, "skipped_no_position", StatusSkippedNoPosition.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
}
