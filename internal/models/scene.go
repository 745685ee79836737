package models

// SceneState tells the renderer whether there is a platoon to draw.
type SceneState string

const (
	SceneWaiting SceneState = "waiting"
	SceneActive  SceneState = "active"
)

// Scene is the render-ready description of one tick. When State is
// SceneWaiting every other field is zero.
type Scene struct {
	State               SceneState     `json:"state"`
	CameraFocusPosition float64        `json:"camera_focus_position"`
	ScrollOffset        float64        `json:"scroll_offset"`
	Obstacle            *Obstacle      `json:"obstacle,omitempty"`
	Vehicles            []SceneVehicle `json:"vehicles,omitempty"` // front to back
}

// Obstacle is the locally synthesized marker shown while vehicle 0 brakes.
type Obstacle struct {
	Position float64 `json:"position"` // meters, world frame
	PixelX   float64 `json:"pixel_x"`
	PixelY   float64 `json:"pixel_y"`
}

// SceneVehicle is one drawable vehicle.
type SceneVehicle struct {
	ID                int32    `json:"id"`
	PixelX            float64  `json:"pixel_x"`
	Speed             float64  `json:"speed"`
	SpeedKmh          float64  `json:"speed_kmh"`
	Braking           bool     `json:"braking"`
	Decoupled         bool     `json:"decoupled"`
	IsLeader          bool     `json:"is_leader"`
	DisplayPosition   float64  `json:"display_position"`
	GapToVehicleAhead *float64 `json:"gap_to_vehicle_ahead,omitempty"`
}

// IsWaiting reports whether the scene has no platoon to show.
func (s Scene) IsWaiting() bool {
	return s.State != SceneActive
}
