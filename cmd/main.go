package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/auth"
	"github.com/ukydev/platoon-telemetry/internal/broker"
	"github.com/ukydev/platoon-telemetry/internal/config"
	"github.com/ukydev/platoon-telemetry/internal/db"
	"github.com/ukydev/platoon-telemetry/internal/handlers"
	"github.com/ukydev/platoon-telemetry/internal/ingest"
	"github.com/ukydev/platoon-telemetry/internal/middleware"
	"github.com/ukydev/platoon-telemetry/internal/models"
	"github.com/ukydev/platoon-telemetry/internal/platoon"
	"github.com/ukydev/platoon-telemetry/internal/predict"
	"github.com/ukydev/platoon-telemetry/internal/scene"
	"github.com/ukydev/platoon-telemetry/internal/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ConfigureLogging(); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Visualizer stopped")
	}
	log.Info("Visualizer stopped")
}

// run wires the ingest pipeline, optional recorder and publisher, and the
// HTTP API, and blocks until ctx is cancelled or one of them fails.
func run(ctx context.Context, cfg *config.Config) error {
	conn, err := ingest.ListenUDP(cfg.IngestAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	g, ctx := errgroup.WithContext(ctx)

	var (
		recorder ingest.Recorder
		history  db.TelemetryCollection
	)
	if cfg.MongoURI != "" {
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.WithError(err).Warn("Failed to disconnect from MongoDB")
			}
		}()
		coll := db.NewTelemetryCollection(client, cfg.MongoDB)
		if err := coll.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create telemetry indexes")
		}
		rec := db.NewRecorder(coll)
		g.Go(func() error { return rec.Run(ctx) })
		recorder = rec
		history = coll
		log.WithField("database", cfg.MongoDB).Info("Recording telemetry to MongoDB")
	}

	svc := newService(cfg, conn, recorder)
	g.Go(func() error { return svc.Run(ctx, cfg.TickInterval) })

	if cfg.MQTTBroker != "" {
		client, err := broker.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return err
		}
		pub := broker.NewPublisher(client, cfg.MQTTTopic, svc.Latest)
		g.Go(func() error { return pub.Run(ctx, cfg.MQTTPublishInterval) })
	}

	router, err := newRouter(cfg, svc, history)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newService(cfg *config.Config, sock ingest.PacketSocket, recorder ingest.Recorder) *ingest.Service {
	assembler := platoon.NewAssembler(platoon.Config{
		Timeout:        cfg.StaleTimeout,
		Smoothing:      cfg.GapSmoothing,
		ObstacleOffset: cfg.ObstacleOffset,
	}, predict.New(cfg.MaxExtrapolation))

	return ingest.NewService(ingest.Options{
		Socket:     sock,
		Store:      store.New(),
		Assembler:  assembler,
		Builder:    scene.NewBuilder(cfg.Display),
		Recorder:   recorder,
		EvictAfter: cfg.EvictAfter,
	})
}

// newRouter builds the read API. With AUTH_DISABLED every route is open
// and the login route is not registered.
func newRouter(cfg *config.Config, source handlers.SceneSource, history db.TelemetryCollection) (http.Handler, error) {
	var authService *auth.Service
	if !cfg.AuthDisabled {
		var err error
		authService, err = auth.NewService(cfg.JWTSecret, cfg.JWTExpiry, models.Operator{
			Username:     cfg.OperatorUsername,
			PasswordHash: cfg.OperatorHash,
			Role:         models.RoleAdmin,
		})
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("Authentication is disabled")
	}

	authMW := middleware.NewAuthMiddleware(authService)
	rateMW := middleware.NewRateLimitMiddleware()
	platoonHandler := handlers.NewPlatoonHandler(source, history)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", platoonHandler.Health)
	if authService != nil {
		mux.HandleFunc("/api/auth/login", handlers.NewAuthHandler(authService).Login)
	}
	mux.Handle("/api/scene", authMW.RequirePermission("view_scene")(http.HandlerFunc(platoonHandler.Scene)))
	mux.Handle("/api/vehicles", authMW.RequirePermission("view_vehicles")(http.HandlerFunc(platoonHandler.Vehicles)))
	mux.Handle("/api/vehicles/history", authMW.RequirePermission("view_vehicles")(http.HandlerFunc(platoonHandler.History)))
	mux.Handle("/api/platoon/reset", authMW.RequirePermission("reset_smoothing")(http.HandlerFunc(platoonHandler.Reset)))

	return middleware.Logging(rateMW.RateLimit(cfg.RateLimit, time.Minute)(authMW.Authenticate(mux))), nil
}
