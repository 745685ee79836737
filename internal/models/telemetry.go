package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Layout identifies which wire-format generation a packet was decoded with.
type Layout string

const (
	LayoutCurrent Layout = "current"
	LayoutLegacy  Layout = "legacy"
)

// TelemetryRecord is one decoded vehicle broadcast. It is never modified after decoding.
type TelemetryRecord struct {
	ID        int32   `json:"id" bson:"vehicle_id"`
	Position  float64 `json:"position" bson:"position"` // meters, any sign
	Speed     float64 `json:"speed" bson:"speed"`       // m/s
	Braking   bool    `json:"braking" bson:"braking"`
	Decoupled bool    `json:"decoupled" bson:"decoupled"` // always false for legacy packets
	SentAt    int64   `json:"sent_at" bson:"sent_at"`     // sender clock, units unspecified
	Layout    Layout  `json:"layout" bson:"layout"`
}

// VehicleState is the latest known state of a vehicle. LastSeen is the local
// receipt time of the record it was built from, not the sender's timestamp.
type VehicleState struct {
	ID        int32     `json:"id"`
	Position  float64   `json:"position"`
	Speed     float64   `json:"speed"`
	Braking   bool      `json:"braking"`
	Decoupled bool      `json:"decoupled"`
	LastSeen  time.Time `json:"last_seen"`
}

// StateFromRecord builds the stored state for rec as received at receivedAt.
func StateFromRecord(rec TelemetryRecord, receivedAt time.Time) VehicleState {
	return VehicleState{
		ID:        rec.ID,
		Position:  rec.Position,
		Speed:     rec.Speed,
		Braking:   rec.Braking,
		Decoupled: rec.Decoupled,
		LastSeen:  receivedAt,
	}
}

// TelemetryDocument is a received record as persisted by the recorder.
type TelemetryDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  string             `bson:"session_id" json:"session_id"`
	Source     string             `bson:"source" json:"source"`
	ReceivedAt time.Time          `bson:"received_at" json:"received_at"`
	Record     TelemetryRecord    `bson:"record" json:"record"`
}
