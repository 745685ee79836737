package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/platoon-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TelemetryCollectionName is where received records are stored.
const TelemetryCollectionName = "telemetry"

// ConnectMongo connects to MongoDB at uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoCollection wraps a MongoDB collection for telemetry operations.
type MongoCollection struct {
	Collection *mongo.Collection
}

// NewTelemetryCollection returns the telemetry collection of database dbName.
func NewTelemetryCollection(client *mongo.Client, dbName string) *MongoCollection {
	return &MongoCollection{Collection: client.Database(dbName).Collection(TelemetryCollectionName)}
}

// EnsureIndexes creates the indexes used by session and vehicle queries.
func (c *MongoCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "received_at", Value: 1}}},
		{Keys: bson.D{{Key: "record.vehicle_id", Value: 1}, {Key: "received_at", Value: -1}}},
	})
	return err
}

// InsertTelemetry inserts recorded telemetry documents in one batch.
func (c *MongoCollection) InsertTelemetry(ctx context.Context, docs []models.TelemetryDocument) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i := range docs {
		batch[i] = docs[i]
	}
	_, err := c.Collection.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	return err
}

// mongoTelemetryCursor wraps a MongoDB cursor for telemetry queries.
type mongoTelemetryCursor struct {
	cursor *mongo.Cursor
}

// All retrieves all results from the cursor.
func (m *mongoTelemetryCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

func (m *mongoTelemetryCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}

// Find queries telemetry records from the collection.
func (c *MongoCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (TelemetryCursor, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoTelemetryCursor{cursor: cursor}, nil
}

// DeleteAll deletes all telemetry records from the collection.
func (c *MongoCollection) DeleteAll(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.DeleteMany(ctx, bson.M{})
	return err
}

// SessionFilter matches the documents recorded by one ingest session.
func SessionFilter(sessionID string) bson.M {
	return bson.M{"session_id": sessionID}
}

// VehicleHistory returns the most recent records of one vehicle, newest first.
func VehicleHistory(ctx context.Context, coll TelemetryCollection, vehicleID int32, limit int64) ([]models.TelemetryDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(limit)
	cursor, err := coll.Find(ctx, bson.M{"record.vehicle_id": vehicleID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var docs []models.TelemetryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
