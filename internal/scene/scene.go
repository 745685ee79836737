// Package scene projects an assembled platoon into camera-relative display
// coordinates.
package scene

import (
	"math"

	"github.com/ukydev/platoon-telemetry/internal/models"
	"github.com/ukydev/platoon-telemetry/internal/platoon"
)

const (
	DefaultScale        = 12.0 // pixels per meter
	DefaultAnchor       = 0.8  // camera focus as a fraction of width
	DefaultWidth        = 1900.0
	DefaultHeight       = 600.0
	DefaultCullMargin   = 200.0
	DefaultMarkerPeriod = 150.0 // road marker spacing in pixels

	msToKmh = 3.6
)

// Config describes the display surface.
type Config struct {
	Scale        float64
	Anchor       float64
	Width        float64
	Height       float64
	CullMargin   float64
	MarkerPeriod float64
}

// DefaultConfig returns the stock display settings.
func DefaultConfig() Config {
	return Config{
		Scale:        DefaultScale,
		Anchor:       DefaultAnchor,
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		CullMargin:   DefaultCullMargin,
		MarkerPeriod: DefaultMarkerPeriod,
	}
}

// Builder turns platoons into scene models.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder. Zero config fields take their defaults.
func NewBuilder(cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.Scale <= 0 {
		cfg.Scale = def.Scale
	}
	if cfg.Anchor <= 0 || cfg.Anchor > 1 {
		cfg.Anchor = def.Anchor
	}
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.CullMargin <= 0 {
		cfg.CullMargin = def.CullMargin
	}
	if cfg.MarkerPeriod <= 0 {
		cfg.MarkerPeriod = def.MarkerPeriod
	}
	return &Builder{cfg: cfg}
}

// AnchorX is the pixel column the camera focus is pinned to.
func (b *Builder) AnchorX() float64 { return b.cfg.Width * b.cfg.Anchor }

// PixelX maps a world position to a pixel column relative to focus.
func (b *Builder) PixelX(position, focus float64) float64 {
	return b.AnchorX() + (position-focus)*b.cfg.Scale
}

func (b *Builder) visible(x float64) bool {
	return x > -b.cfg.CullMargin && x < b.cfg.Width+b.cfg.CullMargin
}

// Build produces the scene for p. Culling only affects the vehicle list;
// gaps were already smoothed for every active vehicle.
func (b *Builder) Build(p platoon.Platoon) models.Scene {
	if p.Empty() {
		return models.Scene{State: models.SceneWaiting}
	}

	s := models.Scene{
		State:               models.SceneActive,
		CameraFocusPosition: p.CameraFocus,
		ScrollOffset:        positiveMod(p.CameraFocus*b.cfg.Scale, b.cfg.MarkerPeriod),
		Vehicles:            make([]models.SceneVehicle, 0, len(p.Members)),
	}

	if p.Obstacle != nil {
		s.Obstacle = &models.Obstacle{
			Position: *p.Obstacle,
			PixelX:   b.PixelX(*p.Obstacle, p.CameraFocus),
			PixelY:   b.cfg.Height / 2,
		}
	}

	for _, m := range p.Members {
		x := b.PixelX(m.Predicted, p.CameraFocus)
		if !b.visible(x) {
			continue
		}
		v := models.SceneVehicle{
			ID:              m.State.ID,
			PixelX:          x,
			Speed:           m.State.Speed,
			SpeedKmh:        m.State.Speed * msToKmh,
			Braking:         m.State.Braking,
			Decoupled:       m.State.Decoupled,
			IsLeader:        p.HasLeader && m.State.ID == p.LeaderID,
			DisplayPosition: m.Predicted,
		}
		if m.Gap != nil {
			gap := *m.Gap
			v.GapToVehicleAhead = &gap
		}
		s.Vehicles = append(s.Vehicles, v)
	}
	return s
}

func positiveMod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}
