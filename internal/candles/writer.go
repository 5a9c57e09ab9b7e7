package candles

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/storage"
)

// Writer serializes candle upserts per (symbol, interval) series. The store's
// conflict-replacing upsert already guarantees uniqueness; the per-series
// mutex keeps concurrent writers for one series from interleaving batches, so
// a series is always written in whole-batch order.
type Writer struct {
	store   storage.CandleStore
	archive storage.CandleArchive
	log     logrus.FieldLogger

	mu    sync.Mutex
	locks map[seriesKey]*sync.Mutex
}

type seriesKey struct {
	symbolID int64
	interval string
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithArchive tees every written batch into a long-horizon archive. Archive
// writes are best effort and never fail the primary upsert.
func WithArchive(archive storage.CandleArchive) WriterOption {
	return func(w *Writer) {
		w.archive = archive
	}
}

// NewWriter creates a Writer on top of the given store.
func NewWriter(store storage.CandleStore, log logrus.FieldLogger, opts ...WriterOption) *Writer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &Writer{
		store: store,
		log:   log.WithField("component", "candle_writer"),
		locks: make(map[seriesKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// lockFor returns the mutex guarding one series, creating it on first use.
// Lock entries are never evicted; the set of live series is small and stable.
func (w *Writer) lockFor(symbolID int64, interval string) *sync.Mutex {
	key := seriesKey{symbolID: symbolID, interval: interval}

	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

// Upsert writes a batch for one series under the series mutex. No-op on
// empty input. The batch is stamped with symbolID and interval before write.
func (w *Writer) Upsert(ctx context.Context, symbolID int64, interval string, batch []*domain.Candle) error {
	if len(batch) == 0 {
		return nil
	}

	for _, c := range batch {
		c.SymbolID = symbolID
		c.Interval = interval
	}

	l := w.lockFor(symbolID, interval)
	l.Lock()
	defer l.Unlock()

	if err := w.store.UpsertBulk(ctx, batch); err != nil {
		return fmt.Errorf("upsert %d candles for symbol %d %s: %w", len(batch), symbolID, interval, err)
	}

	if w.archive != nil {
		if err := w.archive.WriteBatch(ctx, batch); err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{
				"symbol_id": symbolID,
				"interval":  interval,
			}).Warn("archive write failed")
		}
	}

	observability.RecordCandlesUpserted(len(batch))
	w.log.WithFields(logrus.Fields{
		"symbol_id": symbolID,
		"interval":  interval,
		"count":     len(batch),
	}).Debug("candles upserted")

	return nil
}
