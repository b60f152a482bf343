package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the server recognizes. Values come from the
// environment (cmd/server loads .env first) with the reference defaults.
type Config struct {
	ListenAddr     string
	RoundTimeout   time.Duration
	ReconnectGrace time.Duration
	WinThreshold   int
	MinRoomCodeLen int
	RoomCodeLen    int
	LogLevel       string
	LogFormat      string
}

func FromEnv() Config {
	return Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		RoundTimeout:   time.Duration(getEnvAsInt("ROUND_TIMEOUT_MS", 20000)) * time.Millisecond,
		ReconnectGrace: time.Duration(getEnvAsInt("RECONNECT_GRACE_MS", 20000)) * time.Millisecond,
		WinThreshold:   getEnvAsInt("WIN_THRESHOLD", 5),
		MinRoomCodeLen: getEnvAsInt("MIN_ROOM_CODE_LEN", 5),
		RoomCodeLen:    getEnvAsInt("ROOM_CODE_LEN", 6),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
