package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miltracker/internal/adsb"
	"miltracker/internal/bus"
	"miltracker/internal/ingest"
)

// fakeSource serves scripted fetch results, one per call, then empty batches.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]bus.Message
	errs    []error
	acked   [][]bus.Message
	fetches int
	closed  bool
	ackErr  error
	onFetch func(n int)
	// withErr pairs an error with the batch returned by the nth fetch.
	withErr map[int]error
}

func (s *fakeSource) Fetch(ctx context.Context, max int, wait time.Duration) ([]bus.Message, error) {
	s.mu.Lock()
	s.fetches++
	n := s.fetches
	var batch []bus.Message
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	} else if len(s.batches) > 0 {
		batch, s.batches = s.batches[0], s.batches[1:]
		err = s.withErr[n]
	}
	hook := s.onFetch
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err == nil && batch == nil {
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
	}
	return batch, err
}

func (s *fakeSource) Ack(ctx context.Context, msgs []bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, msgs)
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// recordingIngester remembers the hex of every record in order.
type recordingIngester struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (r *recordingIngester) Ingest(ctx context.Context, rec *adsb.Record) ingest.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, rec.Hex)
	if r.fail[rec.Hex] {
		return ingest.Outcome{Status: ingest.StatusFailed, Hex: rec.Hex, Err: errors.New("store down")}
	}
	return ingest.Outcome{Status: ingest.StatusIngested, Hex: rec.Hex}
}

type countingMetrics struct {
	mu           sync.Mutex
	received     int
	decodeFailed int
	busErrors    map[string]int
	acked        int
}

func (m *countingMetrics) Received(n int) { m.mu.Lock(); m.received += n; m.mu.Unlock() }
func (m *countingMetrics) DecodeFailed()  { m.mu.Lock(); m.decodeFailed++; m.mu.Unlock() }
func (m *countingMetrics) Acked(n int)    { m.mu.Lock(); m.acked += n; m.mu.Unlock() }
func (m *countingMetrics) BusError(op string) {
	m.mu.Lock()
	if m.busErrors == nil {
		m.busErrors = map[string]int{}
	}
	m.busErrors[op]++
	m.mu.Unlock()
}

func msg(hex, payload string) bus.Message {
	return bus.Message{Key: []byte(hex), Value: []byte(payload)}
}

func fastConfig() Config {
	return Config{
		BatchSize:      10,
		PollTimeout:    time.Millisecond,
		BackoffInitial: time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
	}
}

// runUntil runs the loop and shuts it down once cond holds.
func runUntil(t *testing.T, l *Loop, cond func() bool) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()

	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
	l.Shutdown()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopProcessesBatchInOrderThenAcks(t *testing.T) {
	src := &fakeSource{batches: [][]bus.Message{{
		msg("AE0001", `{"hex":"AE0001","lat":1,"lon":2}`),
		msg("AE0002", `not json`),
		msg("AE0003", `{"hex":"AE0003","lat":1,"lon":2}`),
	}}}
	ing := &recordingIngester{fail: map[string]bool{"AE0003": true}}
	metrics := &countingMetrics{}
	l := New(src, ing, metrics, zap.NewNop(), fastConfig())

	runUntil(t, l, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.acked) == 1
	})

	assert.Equal(t, []string{"AE0001", "AE0003"}, ing.seen)
	assert.Len(t, src.acked[0], 3, "the whole batch is acknowledged, including failures")
	assert.Equal(t, 3, metrics.received)
	assert.Equal(t, 1, metrics.decodeFailed)
	assert.Equal(t, 3, metrics.acked)
	assert.True(t, src.closed)
	assert.Equal(t, StateStopped, l.State())
}

func TestLoopEmptyBatchAcksNothing(t *testing.T) {
	src := &fakeSource{}
	l := New(src, &recordingIngester{}, nil, zap.NewNop(), fastConfig())

	runUntil(t, l, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.fetches >= 3
	})

	assert.Empty(t, src.acked)
}

func TestLoopRetriesBusErrors(t *testing.T) {
	src := &fakeSource{
		errs:    []error{errors.New("broker unreachable"), errors.New("broker unreachable")},
		batches: [][]bus.Message{{msg("AE0001", `{"hex":"AE0001","lat":1,"lon":2}`)}},
	}
	ing := &recordingIngester{}
	metrics := &countingMetrics{}
	l := New(src, ing, metrics, zap.NewNop(), fastConfig())

	runUntil(t, l, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.acked) == 1
	})

	assert.Equal(t, 2, metrics.busErrors["fetch"])
	assert.Equal(t, []string{"AE0001"}, ing.seen)
}

func TestLoopHandlesPartialBatchReturnedWithError(t *testing.T) {
	src := &fakeSource{
		batches: [][]bus.Message{
			{msg("AE0001", `{"hex":"AE0001","lat":1,"lon":2}`)},
			{msg("AE0002", `{"hex":"AE0002","lat":1,"lon":2}`)},
		},
		withErr: map[int]error{1: errors.New("offset out of range")},
	}
	ing := &recordingIngester{}
	metrics := &countingMetrics{}
	l := New(src, ing, metrics, zap.NewNop(), fastConfig())

	runUntil(t, l, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.acked) == 2
	})

	assert.Equal(t, []string{"AE0001", "AE0002"}, ing.seen)
	require.Len(t, src.acked, 2)
	assert.Equal(t, "AE0001", string(src.acked[0][0].Key))
	assert.Equal(t, "AE0002", string(src.acked[1][0].Key))
	assert.Equal(t, 2, metrics.acked)
	assert.Equal(t, 1, metrics.busErrors["fetch"])
}

func TestLoopAckFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{
		batches: [][]bus.Message{{msg("AE0001", `{"hex":"AE0001","lat":1,"lon":2}`)}},
		ackErr:  errors.New("commit rejected"),
	}
	metrics := &countingMetrics{}
	l := New(src, &recordingIngester{}, metrics, zap.NewNop(), fastConfig())

	runUntil(t, l, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return metrics.busErrors["ack"] == 1
	})
	assert.Equal(t, 0, metrics.acked)
}

func TestLoopShutdownFinishesCurrentBatch(t *testing.T) {
	src := &fakeSource{batches: [][]bus.Message{
		{msg("AE0001", `{"hex":"AE0001","lat":1,"lon":2}`), msg("AE0002", `{"hex":"AE0002","lat":1,"lon":2}`)},
		{msg("AE0003", `{"hex":"AE0003","lat":1,"lon":2}`)},
	}}
	ing := &recordingIngester{}
	l := New(src, ing, nil, zap.NewNop(), fastConfig())
	// Request shutdown while the first batch is being fetched.
	src.onFetch = func(n int) {
		if n == 1 {
			l.Shutdown()
		}
	}

	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, []string{"AE0001", "AE0002"}, ing.seen)
	require.Len(t, src.acked, 1)
	assert.Len(t, src.acked[0], 2)
	assert.True(t, src.closed)
	assert.Equal(t, StateStopped, l.State())

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	src := &fakeSource{}
	l := New(src, &recordingIngester{}, nil, zap.NewNop(), fastConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.True(t, src.closed)
}

func TestShutdownIsIdempotent(t *testing.T) {
	l := New(&fakeSource{}, &recordingIngester{}, nil, zap.NewNop(), Config{})
	l.Shutdown()
	l.Shutdown()
	assert.Equal(t, StateIdle, l.State())
	assert.Equal(t, 500, l.cfg.BatchSize)
	assert.Equal(t, time.Second, l.cfg.BackoffInitial)
	assert.Equal(t, 30*time.Second, l.cfg.BackoffMax)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "unknown", State(99).String())
}
