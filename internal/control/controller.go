package control

import (
	"math"
	"sort"
	"time"

	"github.com/ukydev/platoon-telemetry/internal/models"
)

const (
	LeaderID          int32 = 0
	LeaderCruiseSpeed       = 50.0 * KmhToMs
	TargetDistance          = 30.0 // meters per rank
	ExtraGapDistance        = 30.0 // meters per decoupled truck at or ahead
	ProportionalGain        = 1.0
	GapTolerance            = 1.0   // meters
	RearLagLimit            = 300.0 // meters
	SafetyBuffer            = 10.0  // meters on top of stopping distance
	ProximityDistance       = 30.0
	NeighborTimeout         = 2 * time.Second
	DeadReckoningWindow     = time.Second
)

// Self is the controlling truck's own state.
type Self struct {
	ID        int32
	Position  float64
	Speed     float64
	Braking   bool
	Decoupled bool
}

// Controller computes target speeds. TargetPlatoonSize is how many trucks,
// the leader included, must be heard before the leader sets off.
type Controller struct {
	TargetPlatoonSize int
}

type rank struct {
	id        int32
	position  float64
	decoupled bool
}

// TargetSpeed returns the speed in m/s self should aim for given the
// neighbor table at now.
func (c Controller) TargetSpeed(self Self, neighbors map[int32]models.VehicleState, now time.Time) float64 {
	if self.Braking {
		return 0
	}
	if self.ID == LeaderID && 1+len(neighbors) < c.TargetPlatoonSize {
		return 0
	}
	// Any braking truck stops the whole platoon.
	for _, n := range neighbors {
		if n.Braking {
			return 0
		}
	}

	order := make([]rank, 0, len(neighbors)+1)
	order = append(order, rank{self.ID, self.Position, self.Decoupled})
	for id, n := range neighbors {
		order = append(order, rank{id, n.Position, n.Decoupled})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].position != order[j].position {
			return order[i].position > order[j].position
		}
		return order[i].id < order[j].id
	})

	myRank, extraGaps := 0, 0
	for i, r := range order {
		if r.decoupled {
			extraGaps++
		}
		if r.id == self.ID {
			myRank = i
			break
		}
	}

	if myRank+1 < len(order) && self.Position-order[myRank+1].position > RearLagLimit {
		return 0
	}
	if self.ID == LeaderID {
		return LeaderCruiseSpeed
	}

	front := order[0].id
	leader, ok := neighbors[front]
	if front == self.ID || !ok {
		return 0
	}

	leaderPos := leader.Position
	if dt := now.Sub(leader.LastSeen); dt > 0 && dt < DeadReckoningWindow {
		leaderPos += leader.Speed * dt.Seconds()
	}
	desiredGap := float64(myRank)*TargetDistance + float64(extraGaps)*ExtraGapDistance
	gapErr := leaderPos - desiredGap - self.Position

	desired := leader.Speed
	if math.Abs(gapErr) > GapTolerance {
		desired += ProportionalGain * gapErr
	}

	if ahead, ok := neighbors[order[myRank-1].id]; ok {
		dist := ahead.Position - self.Position
		if dist < StoppingDistance(self.Speed)+SafetyBuffer {
			return 0
		}
		if dist < ProximityDistance {
			desired = min(desired, ahead.Speed)
		}
	}

	return max(0, min(desired, MaxSpeed))
}

// StoppingDistance is the distance needed to stop from speed at MaxBrake.
func StoppingDistance(speed float64) float64 {
	return speed * speed / (2 * MaxBrake)
}
