package geo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"miltracker/internal/adsb"
	"miltracker/internal/ingest"
	"miltracker/internal/storage"
)

// StepIndex labels failures writing to the search store.
const StepIndex = "index"

// Sink accepts geo documents.
type Sink interface {
	InsertGeoDocuments(ctx context.Context, docs []storage.GeoDocument) error
}

// Indexer writes one document per positioned sighting. It has no
// transactional link to the relational store; failures are reported and
// dropped.
type Indexer struct {
	sink      Sink
	converter *Converter
	metrics   ingest.Metrics
	logger    *zap.Logger
}

// NewIndexer creates an indexer. A nil metrics sink counts nothing.
func NewIndexer(sink Sink, converter *Converter, metrics ingest.Metrics, logger *zap.Logger) *Indexer {
	if metrics == nil {
		metrics = ingest.NopMetrics{}
	}
	if converter == nil {
		converter = NewConverter(nil)
	}
	return &Indexer{
		sink:      sink,
		converter: converter,
		metrics:   metrics,
		logger:    logger,
	}
}

// Ingest converts and indexes rec.
func (i *Indexer) Ingest(ctx context.Context, rec *adsb.Record) ingest.Outcome {
	if !rec.HasPosition() {
		i.metrics.Skipped()
		i.logger.Debug("skipping record without coordinates", zap.String("hex", rec.Hex))
		return ingest.Outcome{Status: ingest.StatusSkippedNoPosition, Hex: rec.Hex}
	}

	doc, err := i.converter.Document(rec)
	if err != nil {
		return i.fail(rec, fmt.Errorf("convert: %w", err))
	}

	if err := i.sink.InsertGeoDocuments(context.WithoutCancel(ctx), []storage.GeoDocument{doc}); err != nil {
		return i.fail(rec, &ingest.PersistenceError{Step: StepIndex, Err: err})
	}

	i.metrics.Ingested()
	return ingest.Outcome{Status: ingest.StatusIngested, Hex: rec.Hex}
}

func (i *Indexer) fail(rec *adsb.Record, err error) ingest.Outcome {
	i.metrics.Failed(StepIndex)
	i.logger.Warn("geo index failed", zap.String("hex", rec.Hex), zap.Error(err))
	return ingest.Outcome{Status: ingest.StatusFailed, Hex: rec.Hex, Err: err}
}
