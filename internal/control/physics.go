// Package control holds the truck-side longitudinal controller and vehicle
// dynamics used by the simulator to produce realistic telemetry.
package control

import "time"

const (
	KmhToMs  = 1.0 / 3.6
	MaxSpeed = 100.0 * KmhToMs
	MaxAccel = 3.0 // m/s²
	MaxBrake = 5.0 // m/s²
)

// Physics integrates one truck's speed and position.
type Physics struct {
	speed    float64
	position float64
}

// NewPhysics places truck id TargetDistance meters behind the previous id.
func NewPhysics(id int32) *Physics {
	return &Physics{position: -float64(id) * TargetDistance}
}

// Update moves speed toward target within the acceleration and braking
// limits, then advances position.
func (p *Physics) Update(target float64, dt time.Duration) {
	sec := dt.Seconds()
	switch {
	case p.speed < target:
		p.speed += min(target-p.speed, MaxAccel*sec)
	case p.speed > target:
		p.speed -= min(p.speed-target, MaxBrake*sec)
	}
	p.position += p.speed * sec
}

// EmergencyStop brakes at full force regardless of any target.
func (p *Physics) EmergencyStop(dt time.Duration) {
	sec := dt.Seconds()
	p.speed = max(0, p.speed-MaxBrake*sec)
	p.position += p.speed * sec
}

func (p *Physics) Speed() float64    { return p.speed }
func (p *Physics) Position() float64 { return p.position }
