package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	// Store selects the review store: mysql|memory.
	Store         string
	// ApprovalStore selects where live approval state is kept: mysql|redis.
	ApprovalStore string
	CacheTTL      time.Duration
	StoreTimeout  time.Duration

	IngestStrict bool
	Workers      int
	HostawayBase string
	HostawayAcct string
	HostawayKey  string
	HostawayMock string
	DefaultActor string
}

func Load() Config {
	// .env is optional; real env vars always win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg(".env present but unreadable")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:        env("APP_ENV", "prod"),
		LogLevel:      env("LOG_LEVEL", "info"),
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		MetricsAddr:   env("METRICS_ADDR", ""),
		MySQLDSN:      env("MYSQL_DSN", "root:root@tcp(localhost:3306)/reviews?parseTime=true&charset=utf8mb4&loc=UTC"),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPass:     env("REDIS_PASSWORD", ""),
		RedisDB:       atoi("REDIS_DB", 0),
		Store:         strings.ToLower(env("APP_STORE", "mysql")),
		ApprovalStore: strings.ToLower(env("APPROVAL_STORE", "mysql")),
		CacheTTL:      time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,
		StoreTimeout:  time.Duration(atoi("STORE_TIMEOUT_MS", 3000)) * time.Millisecond,
		IngestStrict:  envBool("INGEST_STRICT", false),
		Workers:       atoi("INGEST_WORKERS", 4),
		HostawayBase:  env("HOSTAWAY_BASE_URL", "https://api.hostaway.com"),
		HostawayAcct:  env("HOSTAWAY_ACCOUNT_ID", ""),
		HostawayKey:   env("HOSTAWAY_API_KEY", ""),
		HostawayMock:  env("HOSTAWAY_MOCK_FILE", "data/hostaway_mock.json"),
		DefaultActor:  env("AUDIT_ACTOR_DEFAULT", "manager"),
	}
	if c.ApprovalStore != "mysql" && c.ApprovalStore != "redis" {
		log.Warn().Str("value", c.ApprovalStore).Msg("unknown APPROVAL_STORE, using mysql")
		c.ApprovalStore = "mysql"
	}
	if c.Store != "mysql" && c.Store != "memory" {
		log.Warn().Str("value", c.Store).Msg("unknown APP_STORE, using mysql")
		c.Store = "mysql"
	}
	if c.HostawayKey == "" {
		log.Warn().Msg("HOSTAWAY_API_KEY is empty; ingestion will use the mock file")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
