// Package platoon turns a snapshot of vehicle states into an ordered,
// gap-annotated platoon for a single tick.
package platoon

import (
	"sort"
	"sync"
	"time"

	"github.com/ukydev/platoon-telemetry/internal/models"
	"github.com/ukydev/platoon-telemetry/internal/predict"
)

// NominalLeaderID is the vehicle that leads the platoon whenever it is known.
const NominalLeaderID int32 = 0

const (
	DefaultTimeout        = 2 * time.Second
	DefaultSmoothing      = 0.9
	DefaultObstacleOffset = 20.0
)

// Config holds the assembler tunables.
type Config struct {
	Timeout        time.Duration
	Smoothing      float64 // weight of the previous smoothed gap
	ObstacleOffset float64 // meters ahead of the camera focus
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		Smoothing:      DefaultSmoothing,
		ObstacleOffset: DefaultObstacleOffset,
	}
}

// Member is one active vehicle in platoon order.
type Member struct {
	State     models.VehicleState
	Predicted float64
	Gap       *float64 // smoothed gap to the member ahead; nil for the front
}

// Platoon is the result of one assembly pass.
type Platoon struct {
	LeaderID    int32
	HasLeader   bool
	CameraFocus float64
	Members     []Member // front to back
	Obstacle    *float64 // world position of the obstacle marker
}

// Empty reports whether no vehicle is active.
func (p Platoon) Empty() bool { return len(p.Members) == 0 }

// Assembler owns the gap smoothing state, which outlives any single tick.
type Assembler struct {
	cfg       Config
	predictor predict.Predictor

	mu       sync.Mutex
	smoothed map[int32]float64
}

// NewAssembler creates an Assembler. Zero config fields take their defaults.
func NewAssembler(cfg Config, predictor predict.Predictor) *Assembler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.ObstacleOffset == 0 {
		cfg.ObstacleOffset = def.ObstacleOffset
	}
	return &Assembler{
		cfg:       cfg,
		predictor: predictor,
		smoothed:  make(map[int32]float64),
	}
}

// Predictor returns the predictor used for every position in the platoon.
func (a *Assembler) Predictor() predict.Predictor { return a.predictor }

// Timeout returns the staleness window.
func (a *Assembler) Timeout() time.Duration { return a.cfg.Timeout }

// SelectLeader picks vehicle 0 if it was ever seen, otherwise the largest
// known id. Staleness is not considered.
func SelectLeader(vehicles map[int32]models.VehicleState) (int32, bool) {
	if len(vehicles) == 0 {
		return 0, false
	}
	if _, ok := vehicles[NominalLeaderID]; ok {
		return NominalLeaderID, true
	}
	first := true
	var leader int32
	for id := range vehicles {
		if first || id > leader {
			leader = id
			first = false
		}
	}
	return leader, true
}

// IsActive reports whether st was refreshed within the timeout at now.
func (a *Assembler) IsActive(st models.VehicleState, now time.Time) bool {
	return now.Sub(st.LastSeen) < a.cfg.Timeout
}

// Assemble orders the active vehicles of snapshot by predicted position at
// now and updates their smoothed gaps. The same now is used for every vehicle.
func (a *Assembler) Assemble(snapshot map[int32]models.VehicleState, now time.Time) Platoon {
	var p Platoon

	p.LeaderID, p.HasLeader = SelectLeader(snapshot)
	if p.HasLeader {
		p.CameraFocus = a.predictor.PredictedPosition(snapshot[p.LeaderID], now)
	}

	members := make([]Member, 0, len(snapshot))
	for _, st := range snapshot {
		if !a.IsActive(st, now) {
			continue
		}
		members = append(members, Member{State: st, Predicted: a.predictor.PredictedPosition(st, now)})
	}
	// Map iteration is random; settle on id order before the stable sort.
	sort.Slice(members, func(i, j int) bool { return members[i].State.ID < members[j].State.ID })
	sort.SliceStable(members, func(i, j int) bool { return members[i].Predicted > members[j].Predicted })

	a.mu.Lock()
	for i := 1; i < len(members); i++ {
		raw := members[i-1].Predicted - members[i].Predicted
		gap := a.smooth(members[i].State.ID, raw)
		members[i].Gap = &gap
	}
	a.mu.Unlock()
	p.Members = members

	if lead, ok := snapshot[NominalLeaderID]; ok && lead.Braking {
		pos := p.CameraFocus + a.cfg.ObstacleOffset
		p.Obstacle = &pos
	}
	return p
}

// smooth must be called with a.mu held.
func (a *Assembler) smooth(id int32, raw float64) float64 {
	prev, ok := a.smoothed[id]
	if !ok {
		a.smoothed[id] = raw
		return raw
	}
	next := prev*a.cfg.Smoothing + raw*(1-a.cfg.Smoothing)
	a.smoothed[id] = next
	return next
}

// SmoothedGap returns the current smoothed gap for a follower.
func (a *Assembler) SmoothedGap(id int32) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.smoothed[id]
	return g, ok
}

// Forget drops the smoothing state of the given vehicles.
func (a *Assembler) Forget(ids ...int32) {
	a.mu.Lock()
	for _, id := range ids {
		delete(a.smoothed, id)
	}
	a.mu.Unlock()
}

// Reset drops all smoothing state; the next tick reseeds from raw gaps.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.smoothed = make(map[int32]float64)
	a.mu.Unlock()
}
