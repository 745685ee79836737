package db

import (
	"context"

	"github.com/ukydev/platoon-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TelemetryCollection defines the interface for recorded telemetry operations.
type TelemetryCollection interface {
	InsertTelemetry(ctx context.Context, docs []models.TelemetryDocument) error
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (TelemetryCursor, error)
}

// TelemetryCursor defines the interface for telemetry cursor operations.
type TelemetryCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
