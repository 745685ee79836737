package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/platoon"
	"github.com/ukydev/platoon-telemetry/internal/predict"
	"github.com/ukydev/platoon-telemetry/internal/scene"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds everything the visualizer service needs at startup.
type Config struct {
	IngestAddr       string
	HTTPAddr         string
	TickInterval     time.Duration
	StaleTimeout     time.Duration
	MaxExtrapolation time.Duration
	GapSmoothing     float64
	ObstacleOffset   float64
	EvictAfter       time.Duration
	Display          scene.Config

	MongoURI string
	MongoDB  string

	MQTTBroker          string
	MQTTTopic           string
	MQTTClientID        string
	MQTTPublishInterval time.Duration

	AuthDisabled     bool
	JWTSecret        string
	JWTExpiry        time.Duration
	OperatorUsername string
	OperatorHash     string
	RateLimit        int

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	display := scene.DefaultConfig()

	cfg := &Config{
		IngestAddr:       ":" + p.str("INGEST_PORT", "4999"),
		HTTPAddr:         ":" + p.str("PORT", "8080"),
		TickInterval:     p.duration("TICK_INTERVAL", 16*time.Millisecond),
		StaleTimeout:     p.duration("STALE_TIMEOUT", platoon.DefaultTimeout),
		MaxExtrapolation: p.duration("MAX_EXTRAPOLATION", predict.DefaultMaxExtrapolation),
		GapSmoothing:     p.float("GAP_SMOOTHING", platoon.DefaultSmoothing),
		ObstacleOffset:   p.float("OBSTACLE_OFFSET", platoon.DefaultObstacleOffset),
		EvictAfter:       p.duration("EVICT_AFTER", 0),
		Display: scene.Config{
			Scale:        p.float("METERS_TO_PIXELS", display.Scale),
			Anchor:       p.float("CAMERA_ANCHOR", display.Anchor),
			Width:        p.float("DISPLAY_WIDTH", display.Width),
			Height:       p.float("DISPLAY_HEIGHT", display.Height),
			CullMargin:   display.CullMargin,
			MarkerPeriod: display.MarkerPeriod,
		},

		MongoURI: getenv("MONGO_URI"),
		MongoDB:  p.str("MONGO_DB", "platoon"),

		MQTTBroker:          getenv("MQTT_BROKER"),
		MQTTTopic:           p.str("MQTT_TOPIC", "platoon/scene"),
		MQTTClientID:        p.str("MQTT_CLIENT_ID", "platoon-visualizer"),
		MQTTPublishInterval: p.duration("MQTT_PUBLISH_INTERVAL", 200*time.Millisecond),

		AuthDisabled:     p.boolean("AUTH_DISABLED", false),
		JWTSecret:        p.str("JWT_SECRET", "default-secret-key-change-in-production"),
		JWTExpiry:        p.duration("JWT_EXPIRY", 24*time.Hour),
		OperatorUsername: p.str("OPERATOR_USERNAME", "operator"),
		OperatorHash:     getenv("OPERATOR_PASSWORD_HASH"),
		RateLimit:        p.integer("RATE_LIMIT_PER_MINUTE", 600),

		LogLevel:  p.str("LOG_LEVEL", "info"),
		LogFormat: p.str("LOG_FORMAT", "text"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: TICK_INTERVAL must be positive", ErrInvalid)
	case c.StaleTimeout <= 0:
		return fmt.Errorf("%w: STALE_TIMEOUT must be positive", ErrInvalid)
	case c.MaxExtrapolation <= 0:
		return fmt.Errorf("%w: MAX_EXTRAPOLATION must be positive", ErrInvalid)
	case c.GapSmoothing <= 0 || c.GapSmoothing >= 1:
		return fmt.Errorf("%w: GAP_SMOOTHING must be in (0, 1)", ErrInvalid)
	case c.Display.Anchor <= 0 || c.Display.Anchor > 1:
		return fmt.Errorf("%w: CAMERA_ANCHOR must be in (0, 1]", ErrInvalid)
	case c.Display.Scale <= 0:
		return fmt.Errorf("%w: METERS_TO_PIXELS must be positive", ErrInvalid)
	case c.EvictAfter < 0:
		return fmt.Errorf("%w: EVICT_AFTER must not be negative", ErrInvalid)
	case c.EvictAfter > 0 && c.EvictAfter <= c.StaleTimeout:
		return fmt.Errorf("%w: EVICT_AFTER must exceed STALE_TIMEOUT", ErrInvalid)
	case c.MQTTBroker != "" && c.MQTTPublishInterval <= 0:
		return fmt.Errorf("%w: MQTT_PUBLISH_INTERVAL must be positive", ErrInvalid)
	case !c.AuthDisabled && c.OperatorHash == "":
		return fmt.Errorf("%w: OPERATOR_PASSWORD_HASH is required unless AUTH_DISABLED=true", ErrInvalid)
	}
	return nil
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalid, err)
	}
	log.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// parser records the first parse error so FromEnv can read every field in one pass.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, val, err)
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) float(key string, def float64) float64 {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) integer(key string, def int) int {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}
