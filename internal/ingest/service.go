// Package ingest owns the telemetry socket and the vehicle store and runs
// the per-tick decode, predict, assemble and build pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/codec"
	"github.com/ukydev/platoon-telemetry/internal/models"
	"github.com/ukydev/platoon-telemetry/internal/platoon"
	"github.com/ukydev/platoon-telemetry/internal/scene"
	"github.com/ukydev/platoon-telemetry/internal/store"
)

const (
	maxDatagram      = 1024
	defaultQueueSize = 4096
	readPollInterval = 100 * time.Millisecond
)

type datagram struct {
	payload    []byte
	source     string
	receivedAt time.Time
}

// Recorder receives every decoded record. Record must not block.
type Recorder interface {
	Record(rec models.TelemetryRecord, source string, receivedAt time.Time)
}

// Stats are cumulative packet counters. Dropped covers both undecodable
// packets and packets lost to a full queue.
type Stats struct {
	Received   uint64
	Decoded    uint64
	Legacy     uint64
	Dropped    uint64
	ReadErrors uint64
	Ticks      uint64
}

// Options configures a Service. Store, Assembler and Builder are required.
type Options struct {
	Socket     PacketSocket
	Store      *store.Store
	Assembler  *platoon.Assembler
	Builder    *scene.Builder
	Recorder   Recorder
	EvictAfter time.Duration
	QueueSize  int
	Now        func() time.Time
}

// Service is the ingestion and tick engine. Listen runs on its own
// goroutine; Tick must only be called from one goroutine at a time. Latest,
// Store and Stats may be read from anywhere.
type Service struct {
	socket     PacketSocket
	store      *store.Store
	assembler  *platoon.Assembler
	builder    *scene.Builder
	recorder   Recorder
	evictAfter time.Duration
	now        func() time.Time

	queue  chan datagram
	latest atomic.Pointer[models.Scene]

	received   atomic.Uint64
	decoded    atomic.Uint64
	legacy     atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
	ticks      atomic.Uint64
}

// NewService creates a Service. A nil socket is allowed when packets are
// fed through Ingest directly.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Service{
		socket:     opts.Socket,
		store:      opts.Store,
		assembler:  opts.Assembler,
		builder:    opts.Builder,
		recorder:   opts.Recorder,
		evictAfter: opts.EvictAfter,
		now:        now,
		queue:      make(chan datagram, queueSize),
	}
	waiting := models.Scene{State: models.SceneWaiting}
	s.latest.Store(&waiting)
	return s
}

// Store returns the vehicle store.
func (s *Service) Store() *store.Store { return s.store }

// Assembler returns the platoon assembler.
func (s *Service) Assembler() *platoon.Assembler { return s.assembler }

// Latest returns the scene built by the most recent tick.
func (s *Service) Latest() models.Scene { return *s.latest.Load() }

// Stats returns a copy of the packet counters.
func (s *Service) Stats() Stats {
	return Stats{
		Received:   s.received.Load(),
		Decoded:    s.decoded.Load(),
		Legacy:     s.legacy.Load(),
		Dropped:    s.dropped.Load(),
		ReadErrors: s.readErrors.Load(),
		Ticks:      s.ticks.Load(),
	}
}

// Ingest decodes one datagram and merges it. Undecodable packets are dropped.
func (s *Service) Ingest(packet []byte, source string, receivedAt time.Time) bool {
	s.received.Add(1)
	res := codec.Decode(packet)
	if !res.Decoded() {
		s.dropped.Add(1)
		log.WithFields(log.Fields{
			"source": source,
			"bytes":  len(packet),
			"reason": res.Reason,
		}).Debug("Dropped undecodable packet")
		return false
	}
	s.decoded.Add(1)
	if res.Record.Layout == models.LayoutLegacy {
		s.legacy.Add(1)
	}
	s.store.Merge(res.Record, receivedAt)
	if s.recorder != nil {
		s.recorder.Record(res.Record, source, receivedAt)
	}
	return true
}

// Listen reads datagrams from the socket until ctx is cancelled, stamping
// each with its receipt time and queueing it for the next Drain. When the
// queue is full the datagram is dropped.
func (s *Service) Listen(ctx context.Context) error {
	if s.socket == nil {
		return errors.New("ingest: no socket configured")
	}
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A short deadline lets the loop notice cancellation.
		if err := s.socket.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, addr, err := s.socket.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			s.readErrors.Add(1)
			log.WithError(err).Warn("UDP read error")
			continue
		}
		d := datagram{payload: append([]byte(nil), buf[:n]...), receivedAt: s.now()}
		if addr != nil {
			d.source = addr.String()
		}
		select {
		case s.queue <- d:
		default:
			s.received.Add(1)
			s.dropped.Add(1)
		}
	}
}

// Drain ingests every datagram already queued and returns immediately when
// the queue is empty. It returns the number of datagrams processed.
func (s *Service) Drain() int {
	n := 0
	for {
		select {
		case d := <-s.queue:
			s.Ingest(d.payload, d.source, d.receivedAt)
			n++
		default:
			return n
		}
	}
}

// Tick drains the queue and rebuilds the scene using one timestamp for
// every vehicle.
func (s *Service) Tick() models.Scene {
	s.Drain()
	return s.Build(s.now())
}

// Build runs the assembly pipeline at now and publishes the result.
func (s *Service) Build(now time.Time) models.Scene {
	s.ticks.Add(1)
	if s.evictAfter > 0 {
		if evicted := s.store.EvictBefore(now.Add(-s.evictAfter)); len(evicted) > 0 {
			s.assembler.Forget(evicted...)
			log.WithField("vehicle_ids", evicted).Info("Evicted long-silent vehicles")
		}
	}
	p := s.assembler.Assemble(s.store.Snapshot(), now)
	sc := s.builder.Build(p)
	s.latest.Store(&sc)
	return sc
}

// Run starts the socket reader, if any, and ticks every interval until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if s.socket != nil {
		go func() {
			if err := s.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("UDP listener stopped")
			}
		}()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fields := log.Fields{"interval": interval}
	if s.socket != nil {
		fields["addr"] = s.socket.LocalAddr().String()
	}
	log.WithFields(fields).Info("Ingestion started")

	for {
		select {
		case <-ctx.Done():
			st := s.Stats()
			log.WithFields(log.Fields{
				"received": st.Received,
				"decoded":  st.Decoded,
				"dropped":  st.Dropped,
				"ticks":    st.Ticks,
			}).Info("Ingestion stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Vehicles reports every known vehicle, stale ones included, at now.
func (s *Service) Vehicles(now time.Time) []models.VehicleStatus {
	snap := s.store.Snapshot()
	leader, hasLeader := platoon.SelectLeader(snap)
	pred := s.assembler.Predictor()

	out := make([]models.VehicleStatus, 0, len(snap))
	for _, id := range s.store.All() {
		st, ok := snap[id]
		if !ok {
			continue
		}
		out = append(out, models.VehicleStatus{
			ID:                st.ID,
			Position:          st.Position,
			PredictedPosition: pred.PredictedPosition(st, now),
			Speed:             st.Speed,
			Braking:           st.Braking,
			Decoupled:         st.Decoupled,
			LastSeen:          st.LastSeen,
			Stale:             !s.assembler.IsActive(st, now),
			Leader:            hasLeader && id == leader,
		})
	}
	return out
}

// ResetSmoothing discards every smoothed gap so the next tick reseeds them
// from raw gaps.
func (s *Service) ResetSmoothing() {
	s.assembler.Reset()
	log.Info("Gap smoothing reset")
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }
