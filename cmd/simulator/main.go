package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/codec"
	"github.com/ukydev/platoon-telemetry/internal/control"
	"github.com/ukydev/platoon-telemetry/internal/models"
	"github.com/ukydev/platoon-telemetry/internal/store"
)

// Scenario holds scripted events. A zero time disables the event and an id
// of -1 selects no truck.
type Scenario struct {
	BrakeAt    time.Duration // leader starts braking
	BrakeFor   time.Duration // then releases after this long
	JamID      int32         // truck whose radio fails
	JamAt      time.Duration
	DecoupleID int32 // truck that decouples at start
}

// SimConfig is read from the environment.
type SimConfig struct {
	FleetSize         int
	TargetAddr        string
	PhysicsInterval   time.Duration
	BroadcastInterval time.Duration
	Layout            models.Layout
	Scenario          Scenario
}

func loadConfig(getenv func(string) string) SimConfig {
	cfg := SimConfig{
		FleetSize:         4,
		TargetAddr:        "127.0.0.1:4999",
		PhysicsInterval:   100 * time.Millisecond,
		BroadcastInterval: 50 * time.Millisecond,
		Layout:            models.LayoutCurrent,
		Scenario: Scenario{
			BrakeFor:   5 * time.Second,
			JamID:      -1,
			DecoupleID: -1,
		},
	}

	if val := getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 1 {
			cfg.FleetSize = n
		} else {
			log.WithField("value", val).Warn("Ignoring invalid FLEET_SIZE")
		}
	}
	if val := getenv("TARGET_ADDR"); val != "" {
		cfg.TargetAddr = val
	}
	if getenv("LEGACY_LAYOUT") == "true" {
		cfg.Layout = models.LayoutLegacy
	}

	cfg.Scenario.BrakeAt = envDuration(getenv, "BRAKE_AT", 0)
	cfg.Scenario.BrakeFor = envDuration(getenv, "BRAKE_FOR", cfg.Scenario.BrakeFor)
	cfg.Scenario.JamAt = envDuration(getenv, "JAM_AT", 0)
	cfg.Scenario.JamID = envID(getenv, "JAM_ID")
	cfg.Scenario.DecoupleID = envID(getenv, "DECOUPLE_ID")
	return cfg
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	val := getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		log.WithFields(log.Fields{"key": key, "value": val}).Warn("Ignoring invalid duration")
		return def
	}
	return d
}

func envID(getenv func(string) string, key string) int32 {
	val := getenv(key)
	if val == "" {
		return -1
	}
	n, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": val}).Warn("Ignoring invalid truck id")
		return -1
	}
	return int32(n)
}

// Truck is one simulated vehicle with its own view of the platoon.
type Truck struct {
	ID        int32
	physics   *control.Physics
	neighbors *store.Store
	braking   bool
	decoupled bool
	jamming   bool
}

func (t *Truck) self() control.Self {
	return control.Self{
		ID:        t.ID,
		Position:  t.physics.Position(),
		Speed:     t.physics.Speed(),
		Braking:   t.braking,
		Decoupled: t.decoupled,
	}
}

func (t *Truck) record(now time.Time, layout models.Layout) models.TelemetryRecord {
	return models.TelemetryRecord{
		ID:        t.ID,
		Position:  t.physics.Position(),
		Speed:     t.physics.Speed(),
		Braking:   t.braking,
		Decoupled: t.decoupled && layout == models.LayoutCurrent,
		SentAt:    now.Unix(),
		Layout:    layout,
	}
}

// Fleet runs every truck in one process. Trucks hear each other directly;
// the visualizer hears them through send.
type Fleet struct {
	trucks   []*Truck
	ctrl     control.Controller
	layout   models.Layout
	scenario Scenario
	send     func([]byte) error
}

func newFleet(cfg SimConfig, send func([]byte) error) *Fleet {
	f := &Fleet{
		ctrl:     control.Controller{TargetPlatoonSize: cfg.FleetSize},
		layout:   cfg.Layout,
		scenario: cfg.Scenario,
		send:     send,
	}
	for i := 0; i < cfg.FleetSize; i++ {
		id := int32(i)
		f.trucks = append(f.trucks, &Truck{
			ID:        id,
			physics:   control.NewPhysics(id),
			neighbors: store.New(),
			decoupled: id == cfg.Scenario.DecoupleID,
		})
	}
	return f
}

// applyScenario sets event flags for the time elapsed since start.
func (f *Fleet) applyScenario(elapsed time.Duration) {
	sc := f.scenario
	for _, t := range f.trucks {
		if t.ID == control.LeaderID && sc.BrakeAt > 0 {
			braking := elapsed >= sc.BrakeAt && elapsed < sc.BrakeAt+sc.BrakeFor
			if braking != t.braking {
				log.WithFields(log.Fields{"truck": t.ID, "braking": braking}).Info("Scenario brake event")
			}
			t.braking = braking
		}
		if t.ID == sc.JamID {
			jamming := elapsed >= sc.JamAt
			if jamming != t.jamming {
				log.WithField("truck", t.ID).Info("Scenario radio failure")
			}
			t.jamming = jamming
		}
	}
}

// step advances every truck by dt.
func (f *Fleet) step(now time.Time, dt time.Duration) {
	for _, t := range f.trucks {
		t.neighbors.EvictBefore(now.Add(-control.NeighborTimeout))
		if t.braking {
			t.physics.EmergencyStop(dt)
			continue
		}
		target := f.ctrl.TargetSpeed(t.self(), t.neighbors.Snapshot(), now)
		t.physics.Update(target, dt)
	}
}

// broadcast sends each truck's state to the visualizer and to every other
// truck, skipping trucks whose radio is jammed.
func (f *Fleet) broadcast(now time.Time) {
	for _, t := range f.trucks {
		if t.jamming {
			continue
		}
		rec := t.record(now, f.layout)
		for _, other := range f.trucks {
			if other != t {
				other.neighbors.Merge(rec, now)
			}
		}
		if err := f.send(codec.Encode(rec, f.layout)); err != nil {
			log.WithError(err).WithField("truck", t.ID).Warn("Failed to send telemetry")
		}
	}
}

func (f *Fleet) run(ctx context.Context, cfg SimConfig) {
	physics := time.NewTicker(cfg.PhysicsInterval)
	defer physics.Stop()
	radio := time.NewTicker(cfg.BroadcastInterval)
	defer radio.Stop()

	start := time.Now()
	status := time.NewTicker(time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-physics.C:
			f.applyScenario(now.Sub(start))
			f.step(now, cfg.PhysicsInterval)
		case now := <-radio.C:
			f.broadcast(now)
		case <-status.C:
			for _, t := range f.trucks {
				log.WithFields(log.Fields{
					"truck":     t.ID,
					"position":  t.physics.Position(),
					"speed_kmh": t.physics.Speed() / control.KmhToMs,
					"braking":   t.braking,
					"jamming":   t.jamming,
				}).Debug("Truck status")
			}
		}
	}
}

func main() {
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	cfg := loadConfig(os.Getenv)

	conn, err := net.Dial("udp", cfg.TargetAddr)
	if err != nil {
		log.WithError(err).Fatal("Failed to open UDP socket")
	}
	defer conn.Close()

	log.WithFields(log.Fields{
		"fleet_size": cfg.FleetSize,
		"target":     cfg.TargetAddr,
		"layout":     cfg.Layout,
		"brake_at":   cfg.Scenario.BrakeAt,
		"jam_id":     cfg.Scenario.JamID,
	}).Info("Starting platoon simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fleet := newFleet(cfg, func(b []byte) error {
		_, err := conn.Write(b)
		return err
	})
	fleet.run(ctx, cfg)
	log.Info("Simulation stopped")
}
