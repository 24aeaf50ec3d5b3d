package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Redis RedisConfig
	Store StoreConfig
	Sync  SyncConfig
	HTTP  HTTPConfig
}

type StoreConfig struct {
	// SQLitePath is the local embedded database file. ":memory:" is valid.
	SQLitePath string
	// MongoURI is optional; empty means the system runs permanently offline.
	MongoURI  string
	MongoName string
	// DefaultEngine decides which store is authoritative for reads:
	// "sqlite" or "mongo".
	DefaultEngine string
}

type SyncConfig struct {
	// ProbeTimeout bounds a single connectivity probe against the remote store.
	ProbeTimeout time.Duration
	// PollInterval is the background connectivity poll cadence.
	PollInterval time.Duration
	// SyncInterval is the background push/pull cadence. Zero disables the timer.
	SyncInterval time.Duration
}

type HTTPConfig struct {
	Addr string
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Store: StoreConfig{
			SQLitePath:    getEnv("SQLITE_PATH", "pos.db"),
			MongoURI:      getEnv("MONGO_URI", ""),
			MongoName:     getEnv("MONGO_DB", "pos"),
			DefaultEngine: getEnv("DB_ENGINE", "sqlite"),
		},
		Sync: SyncConfig{
			ProbeTimeout: getDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
			PollInterval: getDuration("CONNECTIVITY_POLL_INTERVAL", 5*time.Second),
			SyncInterval: getDuration("SYNC_INTERVAL", 5*time.Minute),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
