package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"castly-sync-server/chat"
	"castly-sync-server/lifecycle"
	"castly-sync-server/playback"
	"castly-sync-server/signaling"
	ws "castly-sync-server/websocket"
)

type Config struct {
	Port             string
	LogLevel         string
	InstanceID       string
	GracePeriod      time.Duration
	DriftThreshold   float64
	ChatMaxLength    int
	RoomMaxMembers   int
	SignalMaxPayload int
	WSMaxMessageSize int64
	AllowedOrigins   []string
	RedisURL         string
	ShutdownTimeout  time.Duration
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	instanceID := getEnv("INSTANCE_ID", "")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	return Config{
		Port:             getEnv("PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		InstanceID:       instanceID,
		GracePeriod:      getEnvAsDuration("GRACE_PERIOD", lifecycle.DefaultGracePeriod),
		DriftThreshold:   getEnvAsFloat("DRIFT_THRESHOLD", playback.DefaultDriftThreshold),
		ChatMaxLength:    getEnvAsInt("CHAT_MAX_LENGTH", chat.DefaultMaxLength),
		RoomMaxMembers:   getEnvAsInt("ROOM_MAX_MEMBERS", 0),
		SignalMaxPayload: getEnvAsInt("SIGNAL_MAX_PAYLOAD", signaling.DefaultMaxPayload),
		WSMaxMessageSize: int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", ws.DefaultMaxMessageSize)),
		AllowedOrigins:   getEnvAsSlice("WS_ALLOWED_ORIGINS", "*"),
		RedisURL:         getEnv("REDIS_URL", ""),
		ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		} else {
			slog.Warn("invalid integer environment variable", "key", key, "value", value, "error", err)
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		} else {
			slog.Warn("invalid float environment variable", "key", key, "value", value, "error", err)
		}
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	slog.Warn("invalid duration environment variable", "key", key, "value", value)
	return fallback
}

func getEnvAsSlice(key, fallback string) []string {
	value := getEnv(key, fallback)
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
