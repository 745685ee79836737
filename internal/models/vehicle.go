package models

import "time"

// VehicleStatus is a known vehicle as reported by the vehicles endpoint,
// including vehicles that have gone stale.
type VehicleStatus struct {
	ID                int32     `json:"id"`
	Position          float64   `json:"position"`
	PredictedPosition float64   `json:"predicted_position"`
	Speed             float64   `json:"speed"`
	Braking           bool      `json:"braking"`
	Decoupled         bool      `json:"decoupled"`
	LastSeen          time.Time `json:"last_seen"`
	Stale             bool      `json:"stale"`
	Leader            bool      `json:"leader"`
}
