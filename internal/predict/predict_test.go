package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/platoon-telemetry/internal/models"
)

func TestPredictedPosition(t *testing.T) {
	seen := time.Unix(1000, 0)
	st := models.VehicleState{Position: 100, Speed: 8, LastSeen: seen}
	p := New(0)

	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"at receipt", seen, 100},
		{"quarter second", seen.Add(250 * time.Millisecond), 102},
		{"ceiling", seen.Add(500 * time.Millisecond), 104},
		{"past ceiling freezes", seen.Add(5 * time.Second), 104},
		{"clock skew clamps to zero", seen.Add(-time.Second), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.PredictedPosition(st, tt.at), 1e-9)
		})
	}
}

func TestPredictedPosition_NegativeSpeed(t *testing.T) {
	seen := time.Unix(1000, 0)
	st := models.VehicleState{Position: -10, Speed: -4, LastSeen: seen}
	assert.InDelta(t, -11.0, New(0).PredictedPosition(st, seen.Add(250*time.Millisecond)), 1e-9)
}

func TestNew_CustomCeiling(t *testing.T) {
	seen := time.Unix(1000, 0)
	st := models.VehicleState{Speed: 10, LastSeen: seen}
	p := New(time.Second)
	assert.Equal(t, time.Second, p.MaxExtrapolation)
	assert.InDelta(t, 10.0, p.PredictedPosition(st, seen.Add(3*time.Second)), 1e-9)
}
