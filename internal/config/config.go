// Package config reads service settings from the environment. A
// .env.local file, when present, is loaded first and never overrides
// variables already set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	DBMigrate   bool
	AuthMode    string

	AuthHMACSecret string
	AuthJWKSURL    string
	AuthRoleClaim  string

	RateRPS   float64
	RateBurst int

	WebhookMaxAttempts int

	RoadGraphFile    string
	RoadGraphMaxSnap float64 // meters, 0 disables the check
	OracleTimeout    time.Duration
	StoreTimeout     time.Duration

	AdvisorURL     string
	AdvisorAPIKey  string
	AdvisorTimeout time.Duration

	LogV int
}

// Load reads envFiles (default .env.local) and then the process environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env.local"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{get: getenv}
	c := Config{
		Port:               p.str("PORT", "8080"),
		DatabaseURL:        strings.TrimSpace(getenv("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(getenv("REDIS_URL")),
		DBMigrate:          p.str("DB_MIGRATE", "true") != "false",
		AuthMode:           p.str("AUTH_MODE", "dev"),
		AuthHMACSecret:     getenv("AUTH_HMAC_SECRET"),
		AuthJWKSURL:        strings.TrimSpace(getenv("AUTH_JWKS_URL")),
		AuthRoleClaim:      p.str("AUTH_ROLE_CLAIM", "role"),
		RateRPS:            p.float("RATE_RPS", 0),
		RateBurst:          p.int("RATE_BURST", 20),
		WebhookMaxAttempts: p.int("WEBHOOK_MAX_ATTEMPTS", 10),
		RoadGraphFile:      p.str("ROADGRAPH_FILE", "roads.yaml"),
		RoadGraphMaxSnap:   p.float("ROADGRAPH_MAX_SNAP_M", 20000),
		OracleTimeout:      p.duration("ORACLE_TIMEOUT", 3*time.Second),
		StoreTimeout:       p.duration("STORE_TIMEOUT", 5*time.Second),
		AdvisorURL:         strings.TrimSpace(getenv("ADVISOR_URL")),
		AdvisorAPIKey:      getenv("ADVISOR_API_KEY"),
		AdvisorTimeout:     p.duration("ADVISOR_TIMEOUT", 10*time.Second),
		LogV:               p.int("LOG_V", 0),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return c, nil
}

// Redacted is the view exposed on the debug endpoint.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"PORT":                 c.Port,
		"AUTH_MODE":            c.AuthMode,
		"AUTH_JWKS_URL":        c.AuthJWKSURL,
		"HAS_AUTH_HMAC_SECRET": c.AuthHMACSecret != "",
		"RATE_RPS":             c.RateRPS,
		"RATE_BURST":           c.RateBurst,
		"WEBHOOK_MAX_ATTEMPTS": c.WebhookMaxAttempts,
		"ROADGRAPH_FILE":       c.RoadGraphFile,
		"ROADGRAPH_MAX_SNAP_M": c.RoadGraphMaxSnap,
		"ORACLE_TIMEOUT":       c.OracleTimeout.String(),
		"STORE_TIMEOUT":        c.StoreTimeout.String(),
		"ADVISOR_TIMEOUT":      c.AdvisorTimeout.String(),
		"HAS_DATABASE_URL":     c.DatabaseURL != "",
		"HAS_REDIS_URL":        c.RedisURL != "",
		"HAS_ADVISOR":          c.AdvisorURL != "",
	}
}

// parser keeps the first conversion error.
type parser struct {
	get func(string) string
	err error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.get(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.get(key))
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

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.get(key))
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

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.get(key))
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

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config %s=%q: %w", key, val, err)
	}
}
