// apps/go-server/internal/config/config.go
//
// Process configuration from the environment.
// `.env` is loaded first when present (development); real environment
// variables always win.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every tunable of the server.
type Config struct {
	Port              string
	LogLevel          string
	DBPath            string // empty selects the in-memory store
	ClientOrigin      string
	TicketSecret      string
	TicketTTL         time.Duration
	ReapInterval      time.Duration
	StaleAfter        time.Duration
	DefaultMaxPlayers int
	SaveTimeout       time.Duration
}

// Load reads `.env` (if any) and the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() Config {
	c := Config{
		Port:              getEnv("PORT", "5175"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ClientOrigin:      getEnv("CLIENT_ORIGIN", "http://localhost:5173"),
		TicketSecret:      getEnv("TICKET_SECRET", "dev_secret_change_me"),
		TicketTTL:         time.Duration(envInt("TICKET_TTL_HOURS", 24)) * time.Hour,
		ReapInterval:      time.Duration(envInt("REAP_INTERVAL_MINUTES", 10)) * time.Minute,
		StaleAfter:        time.Duration(envInt("STALE_AFTER_HOURS", 24)) * time.Hour,
		DefaultMaxPlayers: envInt("DEFAULT_MAX_PLAYERS", 6),
		SaveTimeout:       time.Duration(envInt("SAVE_TIMEOUT_SECONDS", 5)) * time.Second,
	}
	// DB_PATH="" is meaningful (memory store), so only default when unset.
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		c.DBPath = v
	} else {
		c.DBPath = "./data/forsale.db"
	}
	if c.TicketSecret == "dev_secret_change_me" {
		log.Warn().Msg("TICKET_SECRET not set; using development secret")
	}
	return c
}

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envInt parses k as a positive integer, falling back to def.
func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", k).Str("value", v).Int("default", def).Msg("ignoring invalid integer")
		return def
	}
	return n
}
