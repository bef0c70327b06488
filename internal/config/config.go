package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	MongoURI string
	MongoDB  string

	RedisAddr string

	// Backends: "mongo"/"memory" for the store, "memory"/"redis" for the
	// session cache and the queue.
	StoreBackend string
	CacheBackend string
	QueueBackend string
	CacheTTL     time.Duration

	FaceServiceURL string
	FaceSkip       bool
	FaceTimeout    time.Duration

	RateLimitPerMin int

	// Attendance policy.
	Timezone      string
	SessionWindow time.Duration
	LateAfter     time.Duration
	SpoofMinConf  float64
}

// Load returns application config populated from environment variables with
// sensible defaults. A .env file in the working directory is honored when
// present.
func Load() App {
	_ = godotenv.Load()

	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:         getEnv("MONGO_DB", "campustrack"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		StoreBackend:    getEnv("STORE_BACKEND", "mongo"),
		CacheBackend:    getEnv("CACHE_BACKEND", "memory"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		CacheTTL:        durationEnv("CACHE_TTL", 2*time.Hour),
		FaceServiceURL:  getEnv("FACE_SERVICE_URL", "http://localhost:8000"),
		FaceSkip:        boolEnv("FACE_SKIP", false),
		FaceTimeout:     durationEnv("FACE_TIMEOUT", 60*time.Second),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		Timezone:        getEnv("TIMEZONE", "Asia/Manila"),
		SessionWindow:   durationEnv("SESSION_WINDOW", 30*time.Minute),
		LateAfter:       durationEnv("LATE_AFTER", 15*time.Minute),
		SpoofMinConf:    floatEnv("SPOOF_MIN_CONFIDENCE", 0.70),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var parsed float64
		if _, err := fmt.Sscanf(val, "%f", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
