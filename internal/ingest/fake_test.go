package ingest

import (
	"context"
	"errors"
	"time"

	"miltracker/internal/storage"
)

var errInjected = errors.New("injected failure")

// fakeStore is an in-memory store. Writes land in a pending copy and become
// visible only on commit.
type fakeStore struct {
	committed fakeState
	failOn    string
	begins    int
	commits   int
	rollbacks int
}

type fakeTrack struct {
	aircraftID int64
	flight     string
	points     []storage.Point
	start      time.Time
	end        *time.Time
	closed     bool
}

type fakeState struct {
	aircraft  map[string]storage.Aircraft
	positions []storage.Position
	tracks    []fakeTrack
	nextID    int64
}

func (s fakeState) clone() fakeState {
	out := fakeState{
		aircraft:  make(map[string]storage.Aircraft, len(s.aircraft)),
		positions: append([]storage.Position(nil), s.positions...),
		nextID:    s.nextID,
	}
	for k, v := range s.aircraft {
		out.aircraft[k] = v
	}
	for _, t := range s.tracks {
		t.points = append([]storage.Point(nil), t.points...)
		out.tracks = append(out.tracks, t)
	}
	return out
}

func newFakeStore() *fakeStore {
	return &fakeStore{committed: fakeState{aircraft: map[string]storage.Aircraft{}}}
}

func (s *fakeStore) Begin(ctx context.Context) (storage.Tx, error) {
	s.begins++
	if s.failOn == StepBegin {
		return nil, errInjected
	}
	return &fakeTx{store: s, state: s.committed.clone()}, nil
}

type fakeTx struct {
	store *fakeStore
	state fakeState
	done  bool
}

func (t *fakeTx) UpsertAircraft(ctx context.Context, a storage.AircraftUpsert) (int64, error) {
	if t.store.failOn == StepResolve {
		return 0, errInjected
	}
	existing, ok := t.state.aircraft[a.Hex]
	if !ok {
		t.state.nextID++
		existing = storage.Aircraft{ID: t.state.nextID, Hex: a.Hex, CreatedAt: a.SeenAt}
	}
	merged := storage.MergeAircraft(existing, a)
	t.state.aircraft[a.Hex] = merged
	return merged.ID, nil
}

func (t *fakeTx) InsertPosition(ctx context.Context, p storage.Position) error {
	if t.store.failOn == StepWrite {
		return errInjected
	}
	t.state.positions = append(t.state.positions, p)
	return nil
}

func (t *fakeTx) FindOpenTrack(ctx context.Context, aircraftID int64, flight string) (int64, bool, error) {
	for i := len(t.state.tracks) - 1; i >= 0; i-- {
		tr := t.state.tracks[i]
		if tr.aircraftID == aircraftID && tr.flight == flight && !tr.closed {
			return int64(i + 1), true, nil
		}
	}
	return 0, false, nil
}

func (t *fakeTx) AppendTrackPoint(ctx context.Context, trackID int64, p storage.Point, at time.Time) error {
	if t.store.failOn == StepStitch {
		return errInjected
	}
	tr := &t.state.tracks[trackID-1]
	tr.points = append(tr.points, p)
	tr.end = &at
	return nil
}

func (t *fakeTx) CreateTrack(ctx context.Context, aircraftID int64, flight string, p storage.Point, at time.Time) (int64, error) {
	if t.store.failOn == StepStitch {
		return 0, errInjected
	}
	t.state.tracks = append(t.state.tracks, fakeTrack{
		aircraftID: aircraftID,
		flight:     flight,
		points:     []storage.Point{p},
		start:      at,
	})
	return int64(len(t.state.tracks)), nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.store.failOn == StepCommit {
		return errInjected
	}
	t.done = true
	t.store.commits++
	t.store.committed = t.state
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.rollbacks++
	return nil
}

// recordingMetrics counts calls.
type recordingMetrics struct {
	ingested int
	skipped  int
	failed   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failed: map[string]int{}}
}

func (m *recordingMetrics) Ingested()          { m.ingested++ }
func (m *recordingMetrics) Skipped()           { m.skipped++ }
func (m *recordingMetrics) Failed(step string) { m.failed[step]++ }
