package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/models"
)

const (
	defaultRecorderBuffer = 8192
	defaultBatchSize      = 256
	defaultFlushInterval  = time.Second
)

// Recorder persists received telemetry in the background. Record never
// blocks: when the buffer is full the record is dropped and counted.
type Recorder struct {
	coll          TelemetryCollection
	sessionID     string
	pending       chan models.TelemetryDocument
	batchSize     int
	flushInterval time.Duration

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates a recorder writing to coll under a fresh session id.
func NewRecorder(coll TelemetryCollection) *Recorder {
	return &Recorder{
		coll:          coll,
		sessionID:     uuid.NewString(),
		pending:       make(chan models.TelemetryDocument, defaultRecorderBuffer),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
}

// SessionID identifies the documents written by this process.
func (r *Recorder) SessionID() string { return r.sessionID }

// Record queues rec for insertion.
func (r *Recorder) Record(rec models.TelemetryRecord, source string, receivedAt time.Time) {
	doc := models.TelemetryDocument{
		SessionID:  r.sessionID,
		Source:     source,
		ReceivedAt: receivedAt,
		Record:     rec,
	}
	select {
	case r.pending <- doc:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued records in batches until ctx is cancelled, then flushes
// whatever is left.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]models.TelemetryDocument, 0, r.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.coll.InsertTelemetry(ctx, batch); err != nil {
			r.failed.Add(uint64(len(batch)))
			log.WithError(err).WithField("records", len(batch)).Error("Failed to record telemetry")
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	log.WithField("session_id", r.sessionID).Info("Telemetry recorder started")
	for {
		select {
		case <-ctx.Done():
			r.drainInto(&batch)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdownCtx)
			cancel()
			log.WithFields(log.Fields{
				"session_id": r.sessionID,
				"written":    r.written.Load(),
				"dropped":    r.dropped.Load(),
				"failed":     r.failed.Load(),
			}).Info("Telemetry recorder stopped")
			return ctx.Err()
		case doc := <-r.pending:
			batch = append(batch, doc)
			if len(batch) >= r.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (r *Recorder) drainInto(batch *[]models.TelemetryDocument) {
	for {
		select {
		case doc := <-r.pending:
			*batch = append(*batch, doc)
		default:
			return
		}
	}
}

// Written returns how many records were stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns how many records were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
