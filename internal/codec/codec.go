// Package codec decodes and encodes the fixed 32-byte telemetry frame
// broadcast by platoon vehicles.
//
// Frames are little-endian. Two generations exist and share the first 25
// bytes:
//
//	0..3   int32   vehicle id
//	4..7           padding
//	8..15  float64 position (m)
//	16..23 float64 speed (m/s)
//	24     bool    braking
//	25     bool    decoupled (current) | padding (legacy)
//	26..27         padding
//	28..31 int32   send timestamp
//
// Bytes past the first 32 are ignored.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/ukydev/platoon-telemetry/internal/models"
)

// FrameSize is the number of bytes consumed from every packet.
const FrameSize = 32

const (
	offID        = 0
	offPosition  = 8
	offSpeed     = 16
	offBraking   = 24
	offDecoupled = 25
	offSentAt    = 28
)

// Reason explains why a buffer was not decodable.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonShort        Reason = "short"
	ReasonInvalidFlags Reason = "invalid_flags"
)

// Result is the outcome of Decode: either a record or Unrecognized with a reason.
type Result struct {
	Record models.TelemetryRecord
	Reason Reason
	ok     bool
}

// Decoded reports whether Record holds a decoded frame.
func (r Result) Decoded() bool { return r.ok }

func decoded(rec models.TelemetryRecord) Result {
	return Result{Record: rec, ok: true}
}

func unrecognized(reason Reason) Result {
	return Result{Reason: reason}
}

// Decode tries the current layout first and falls back to the legacy one.
// It never panics; a buffer neither layout accepts is Unrecognized.
func Decode(buf []byte) Result {
	if len(buf) < FrameSize {
		return unrecognized(ReasonShort)
	}
	frame := buf[:FrameSize]
	if rec, ok := decodeCurrent(frame); ok {
		return decoded(rec)
	}
	if rec, ok := decodeLegacy(frame); ok {
		return decoded(rec)
	}
	return unrecognized(ReasonInvalidFlags)
}

func decodeCurrent(frame []byte) (models.TelemetryRecord, bool) {
	braking, ok := parseBool(frame[offBraking])
	if !ok {
		return models.TelemetryRecord{}, false
	}
	decoupled, ok := parseBool(frame[offDecoupled])
	if !ok {
		return models.TelemetryRecord{}, false
	}
	rec := decodeCommon(frame)
	rec.Braking = braking
	rec.Decoupled = decoupled
	rec.Layout = models.LayoutCurrent
	return rec, true
}

func decodeLegacy(frame []byte) (models.TelemetryRecord, bool) {
	braking, ok := parseBool(frame[offBraking])
	if !ok {
		return models.TelemetryRecord{}, false
	}
	rec := decodeCommon(frame)
	rec.Braking = braking
	rec.Layout = models.LayoutLegacy
	return rec, true
}

func decodeCommon(frame []byte) models.TelemetryRecord {
	le := binary.LittleEndian
	return models.TelemetryRecord{
		ID:       int32(le.Uint32(frame[offID:])),
		Position: math.Float64frombits(le.Uint64(frame[offPosition:])),
		Speed:    math.Float64frombits(le.Uint64(frame[offSpeed:])),
		SentAt:   int64(int32(le.Uint32(frame[offSentAt:]))),
	}
}

// A C bool only ever holds 0 or 1; anything else is padding of the other layout.
func parseBool(b byte) (bool, bool) {
	switch b {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}

// Encode builds a frame for rec in the given layout with zeroed padding.
// The send timestamp is truncated to 32 bits.
func Encode(rec models.TelemetryRecord, layout models.Layout) []byte {
	frame := make([]byte, FrameSize)
	le := binary.LittleEndian
	le.PutUint32(frame[offID:], uint32(rec.ID))
	le.PutUint64(frame[offPosition:], math.Float64bits(rec.Position))
	le.PutUint64(frame[offSpeed:], math.Float64bits(rec.Speed))
	frame[offBraking] = boolByte(rec.Braking)
	if layout != models.LayoutLegacy {
		frame[offDecoupled] = boolByte(rec.Decoupled)
	}
	le.PutUint32(frame[offSentAt:], uint32(int32(rec.SentAt)))
	return frame
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
