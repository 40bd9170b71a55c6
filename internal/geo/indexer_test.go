package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miltracker/internal/ingest"
	"miltracker/internal/storage"
)

type memorySink struct {
	docs []storage.GeoDocument
	err  error
}

func (s *memorySink) InsertGeoDocuments(_ context.Context, docs []storage.GeoDocument) error {
	if s.err != nil {
		return s.err
	}
	s.docs = append(s.docs, docs...)
	return nil
}

type countingMetrics struct {
	ingested, skipped int
	failed            []string
}

func (m *countingMetrics) Ingested()          { m.ingested++ }
func (m *countingMetrics) Skipped()           { m.skipped++ }
func (m *countingMetrics) Failed(step string) { m.failed = append(m.failed, step) }

func TestIndexerIndexesPositionedRecords(t *testing.T) {
	sink := &memorySink{}
	m := &countingMetrics{}
	ix := NewIndexer(sink, NewConverter(fixedClock), m, zap.NewNop())

	out := ix.Ingest(context.Background(), decodeRecord(t, `{"hex":"ae1234","lat":38.9,"lon":-77.0}`))

	assert.Equal(t, ingest.StatusIngested, out.Status)
	require.Len(t, sink.docs, 1)
	assert.Equal(t, "AE1234", sink.docs[0].Hex)
	assert.Equal(t, 1, m.ingested)
}

func TestIndexerSkipsRecordsWithoutPosition(t *testing.T) {
	sink := &memorySink{}
	m := &countingMetrics{}
	ix := NewIndexer(sink, NewConverter(fixedClock), m, zap.NewNop())

	out := ix.Ingest(context.Background(), decodeRecord(t, `{"hex":"ae1234","lat":38.9}`))

	assert.Equal(t, ingest.StatusSkippedNoPosition, out.Status)
	assert.Empty(t, sink.docs)
	assert.Equal(t, 1, m.skipped)
}

func TestIndexerReportsSinkFailure(t *testing.T) {
	sink := &memorySink{err: errors.New("clickhouse down")}
	m := &countingMetrics{}
	ix := NewIndexer(sink, NewConverter(fixedClock), m, zap.NewNop())

	out := ix.Ingest(context.Background(), decodeRecord(t, `{"hex":"ae1234","lat":38.9,"lon":-77.0}`))

	assert.Equal(t, ingest.StatusFailed, out.Status)
	var pe *ingest.PersistenceError
	require.True(t, errors.As(out.Err, &pe))
	assert.Equal(t, StepIndex, pe.Step)
	assert.Equal(t, []string{StepIndex}, m.failed)
}

func TestIndexerIgnoresCancelledContext(t *testing.T) {
	sink := &memorySink{}
	ix := NewIndexer(sink, NewConverter(fixedClock), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ix.Ingest(ctx, decodeRecord(t, `{"hex":"ae1234","lat":38.9,"lon":-77.0}`))

	assert.Equal(t, ingest.StatusIngested, out.Status)
	assert.Len(t, sink.docs, 1)
}
