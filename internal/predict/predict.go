// Package predict extrapolates vehicle positions between telemetry updates.
package predict

import (
	"time"

	"github.com/ukydev/platoon-telemetry/internal/models"
)

// DefaultMaxExtrapolation bounds how far past LastSeen a position is projected.
const DefaultMaxExtrapolation = 500 * time.Millisecond

// Predictor performs bounded dead reckoning.
type Predictor struct {
	MaxExtrapolation time.Duration
}

// New returns a Predictor; a non-positive max falls back to DefaultMaxExtrapolation.
func New(max time.Duration) Predictor {
	if max <= 0 {
		max = DefaultMaxExtrapolation
	}
	return Predictor{MaxExtrapolation: max}
}

// PredictedPosition returns position + speed*dt where dt is the time since
// LastSeen clamped to [0, MaxExtrapolation]. Past the ceiling the prediction
// freezes instead of running away.
func (p Predictor) PredictedPosition(st models.VehicleState, at time.Time) float64 {
	dt := at.Sub(st.LastSeen)
	if dt < 0 {
		dt = 0
	}
	if dt > p.MaxExtrapolation {
		dt = p.MaxExtrapolation
	}
	return st.Position + st.Speed*dt.Seconds()
}
