package config

import (
	"os"
	"strconv"
	"time"
)

// Engine holds all configuration for the on-device hazard engine.
type Engine struct {
	// Backend
	BaseURL     string
	HTTPTimeout time.Duration

	// Durable storage
	DataDir string

	// Hazard cache / viewport fetching
	CacheTTL          time.Duration
	RefetchDistanceKm float64
	RefetchZoomDelta  int
	ViewportDebounce  time.Duration

	// Offline queue
	QueueTTL time.Duration

	// Proximity alerting
	AlertDistanceM    float64
	GlobalCooldown    time.Duration
	PerHazardCooldown time.Duration
	ConeHalfAngleDeg  float64
	MovingSpeedMps    float64

	// Route corridor
	CorridorWidthM float64

	// Logging
	LogLevel string
}

// LoadEngine loads engine configuration from environment variables.
func LoadEngine() *Engine {
	return &Engine{
		BaseURL:     getEnv("API_BASE_URL", "http://localhost:8080"),
		HTTPTimeout: getDurationEnv("API_TIMEOUT", 10*time.Second),

		DataDir: getEnv("DATA_DIR", "data"),

		CacheTTL:          getDurationEnv("HAZARD_CACHE_TTL", time.Hour),
		RefetchDistanceKm: getFloatEnv("REFETCH_DISTANCE_KM", 2.0),
		RefetchZoomDelta:  getIntEnv("REFETCH_ZOOM_DELTA", 1),
		ViewportDebounce:  getDurationEnv("VIEWPORT_DEBOUNCE", 500*time.Millisecond),

		QueueTTL: getDurationEnv("QUEUE_TTL", 24*time.Hour),

		AlertDistanceM:    getFloatEnv("ALERT_DISTANCE_M", 300),
		GlobalCooldown:    getDurationEnv("ALERT_GLOBAL_COOLDOWN", 3*time.Second),
		PerHazardCooldown: getDurationEnv("SPEECH_COOLDOWN", 30*time.Second),
		ConeHalfAngleDeg:  getFloatEnv("ALERT_CONE_HALF_ANGLE_DEG", 45),
		MovingSpeedMps:    getFloatEnv("MOVING_SPEED_MPS", 1.0),

		CorridorWidthM: getFloatEnv("CORRIDOR_WIDTH_M", 80),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Server holds all configuration for the hazard dev server.
type Server struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// HTTP
	Port string

	// Report merging
	MergeRadiusM float64

	// Nearby mode=auto resolution
	PointsMinZoom  int
	PointsMaxRows  int
	ClusterTargets int

	// Hazard lifecycle
	SweepInterval   time.Duration
	DeactivateAfter time.Duration

	// Per-client rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Logging
	LogLevel string
}

// LoadServer loads server configuration from environment variables.
func LoadServer() *Server {
	return &Server{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "dodanati"),

		Port: getEnv("PORT", "8080"),

		MergeRadiusM: getFloatEnv("MERGE_RADIUS_M", 30),

		PointsMinZoom:  getIntEnv("POINTS_MIN_ZOOM", 14),
		PointsMaxRows:  getIntEnv("POINTS_MAX_ROWS", 200),
		ClusterTargets: getIntEnv("CLUSTER_TARGET_CELLS", 160),

		SweepInterval:   getDurationEnv("SWEEP_INTERVAL", time.Hour),
		DeactivateAfter: getDurationEnv("DEACTIVATE_AFTER", 90*24*time.Hour),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
