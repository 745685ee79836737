package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/platoon-telemetry/internal/db"
	"github.com/ukydev/platoon-telemetry/internal/ingest"
	"github.com/ukydev/platoon-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MockSceneSource is a mock implementation of SceneSource
type MockSceneSource struct {
	mock.Mock
}

func (m *MockSceneSource) Latest() models.Scene {
	return m.Called().Get(0).(models.Scene)
}

func (m *MockSceneSource) Vehicles(now time.Time) []models.VehicleStatus {
	return m.Called(now).Get(0).([]models.VehicleStatus)
}

func (m *MockSceneSource) Stats() ingest.Stats {
	return m.Called().Get(0).(ingest.Stats)
}

func (m *MockSceneSource) ResetSmoothing() {
	m.Called()
}

func (m *MockSceneSource) Now() time.Time {
	return m.Called().Get(0).(time.Time)
}

// MockTelemetryCollection is a mock implementation of db.TelemetryCollection
type MockTelemetryCollection struct {
	mock.Mock
}

func (m *MockTelemetryCollection) InsertTelemetry(ctx context.Context, docs []models.TelemetryDocument) error {
	return m.Called(ctx, docs).Error(0)
}

func (m *MockTelemetryCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (db.TelemetryCursor, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(db.TelemetryCursor), args.Error(1)
}

// MockCursor is a mock implementation of db.TelemetryCursor
type MockCursor struct {
	mock.Mock
}

func (m *MockCursor) All(ctx context.Context, out interface{}) error {
	return m.Called(ctx, out).Error(0)
}

func (m *MockCursor) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func activeScene() models.Scene {
	gap := 15.0
	return models.Scene{
		State:               models.SceneActive,
		CameraFocusPosition: 100,
		ScrollOffset:        0,
		Obstacle:            &models.Obstacle{Position: 120, PixelX: 1760, PixelY: 300},
		Vehicles: []models.SceneVehicle{
			{ID: 0, PixelX: 1520, Speed: 10, SpeedKmh: 36, IsLeader: true, DisplayPosition: 100},
			{ID: 1, PixelX: 1340, Speed: 10, SpeedKmh: 36, DisplayPosition: 85, GapToVehicleAhead: &gap},
		},
	}
}

func TestPlatoonHandler_Scene(t *testing.T) {
	source := new(MockSceneSource)
	source.On("Latest").Return(activeScene())
	handler := NewPlatoonHandler(source, nil)

	req := httptest.NewRequest("GET", "/api/scene", nil)
	w := httptest.NewRecorder()
	handler.Scene(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Scene
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, activeScene(), got)
	source.AssertExpectations(t)
}

func TestPlatoonHandler_SceneWaiting(t *testing.T) {
	source := new(MockSceneSource)
	source.On("Latest").Return(models.Scene{State: models.SceneWaiting})
	handler := NewPlatoonHandler(source, nil)

	w := httptest.NewRecorder()
	handler.Scene(w, httptest.NewRequest("GET", "/api/scene", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"waiting"`)
	assert.NotContains(t, w.Body.String(), `"vehicles"`)
}

func TestPlatoonHandler_Vehicles(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	statuses := []models.VehicleStatus{
		{ID: 0, Position: 100, PredictedPosition: 101, Speed: 10, LastSeen: now, Leader: true},
		{ID: 1, Position: 80, PredictedPosition: 80, LastSeen: now.Add(-3 * time.Second), Stale: true},
	}
	source := new(MockSceneSource)
	source.On("Now").Return(now)
	source.On("Vehicles", now).Return(statuses)
	handler := NewPlatoonHandler(source, nil)

	w := httptest.NewRecorder()
	handler.Vehicles(w, httptest.NewRequest("GET", "/api/vehicles", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.VehicleStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, statuses, got)
	source.AssertExpectations(t)
}

func TestPlatoonHandler_Health(t *testing.T) {
	source := new(MockSceneSource)
	source.On("Latest").Return(models.Scene{State: models.SceneWaiting})
	source.On("Stats").Return(ingest.Stats{Received: 3, Decoded: 2, Dropped: 1})
	handler := NewPlatoonHandler(source, nil)

	w := httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "waiting", body["scene"])
}

func TestPlatoonHandler_Reset(t *testing.T) {
	source := new(MockSceneSource)
	source.On("ResetSmoothing").Return()
	handler := NewPlatoonHandler(source, nil)

	w := httptest.NewRecorder()
	handler.Reset(w, httptest.NewRequest("POST", "/api/platoon/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.Reset(w, httptest.NewRequest("GET", "/api/platoon/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	source.AssertNumberOfCalls(t, "ResetSmoothing", 1)
}

func TestPlatoonHandler_MethodNotAllowed(t *testing.T) {
	handler := NewPlatoonHandler(new(MockSceneSource), nil)
	for _, h := range []http.HandlerFunc{handler.Scene, handler.Vehicles, handler.Health, handler.History} {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest("DELETE", "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	}
}

func TestPlatoonHandler_History(t *testing.T) {
	docs := []models.TelemetryDocument{
		{SessionID: "s1", Source: "10.0.0.2:5001", Record: models.TelemetryRecord{ID: 3, Position: 42}},
	}

	t.Run("returns recorded documents", func(t *testing.T) {
		cursor := new(MockCursor)
		cursor.On("All", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			out := args.Get(1).(*[]models.TelemetryDocument)
			*out = docs
		}).Return(nil)
		cursor.On("Close", mock.Anything).Return(nil)

		coll := new(MockTelemetryCollection)
		coll.On("Find", mock.Anything, bson.M{"record.vehicle_id": int32(3)}).Return(cursor, nil)

		handler := NewPlatoonHandler(new(MockSceneSource), coll)
		w := httptest.NewRecorder()
		handler.History(w, httptest.NewRequest("GET", "/api/vehicles/history?id=3&limit=5", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var got []models.TelemetryDocument
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, int32(3), got[0].Record.ID)
		coll.AssertExpectations(t)
		cursor.AssertExpectations(t)
	})

	t.Run("empty history is an empty array", func(t *testing.T) {
		cursor := new(MockCursor)
		cursor.On("All", mock.Anything, mock.Anything).Return(nil)
		cursor.On("Close", mock.Anything).Return(nil)
		coll := new(MockTelemetryCollection)
		coll.On("Find", mock.Anything, mock.Anything).Return(cursor, nil)

		handler := NewPlatoonHandler(new(MockSceneSource), coll)
		w := httptest.NewRecorder()
		handler.History(w, httptest.NewRequest("GET", "/api/vehicles/history?id=9", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("query error", func(t *testing.T) {
		coll := new(MockTelemetryCollection)
		coll.On("Find", mock.Anything, mock.Anything).Return(nil, assert.AnError)

		handler := NewPlatoonHandler(new(MockSceneSource), coll)
		w := httptest.NewRecorder()
		handler.History(w, httptest.NewRequest("GET", "/api/vehicles/history?id=3", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("bad parameters", func(t *testing.T) {
		handler := NewPlatoonHandler(new(MockSceneSource), new(MockTelemetryCollection))
		for _, target := range []string{
			"/api/vehicles/history",
			"/api/vehicles/history?id=abc",
			"/api/vehicles/history?id=99999999999",
			"/api/vehicles/history?id=1&limit=0",
			"/api/vehicles/history?id=1&limit=x",
		} {
			w := httptest.NewRecorder()
			handler.History(w, httptest.NewRequest("GET", target, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
		}
	})

	t.Run("recording disabled", func(t *testing.T) {
		handler := NewPlatoonHandler(new(MockSceneSource), nil)
		w := httptest.NewRecorder()
		handler.History(w, httptest.NewRequest("GET", "/api/vehicles/history?id=3", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
