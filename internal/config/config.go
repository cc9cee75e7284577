package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

// Store drivers understood by internal/store.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	JWTSecret             string
	AccessTokenTTLMinutes int

	StoreDriver string
	DatabaseDSN string
	MongoURI    string
	MongoDB     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NotifyPreviewLen int
	WSSendBuffer     int
	CORSOrigins      []string
	RateLimitRPS     int
	RateLimitBurst   int
	ShutdownTimeout  time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getint returns def when the variable is unset, malformed or not positive.
func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getduration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getlist(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load 读取环境变量，工作目录下的 .env 文件（若存在）会先合并进来。
func Load() Config {
	_ = godotenv.Load()

	env := getenv("APP_ENV", "dev")
	level := "info"
	if env == "dev" {
		level = "debug"
	}
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   env,
		LogLevel:              getenv("LOG_LEVEL", level),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getint("ACCESS_TOKEN_TTL_MINUTES", 7*24*60),
		StoreDriver:           getenv("STORE_DRIVER", DriverPostgres),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=directchat port=5432 sslmode=disable TimeZone=UTC"),
		MongoURI:              getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:               getenv("MONGO_DB", "directchat"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getint("REDIS_DB", 0),
		NotifyPreviewLen:      getint("NOTIFY_PREVIEW_LEN", 50),
		WSSendBuffer:          getint("WS_SEND_BUFFER", 256),
		CORSOrigins:           getlist("CORS_ORIGINS"),
		RateLimitRPS:          getint("RATE_LIMIT_RPS", 20),
		RateLimitBurst:        getint("RATE_LIMIT_BURST", 40),
		ShutdownTimeout:       getduration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// Validate 检查会导致服务不可用或不安全的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is empty")
	}
	switch cfg.StoreDriver {
	case DriverPostgres, DriverSQLite:
		if cfg.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for driver %q", cfg.StoreDriver)
		}
	case DriverMongo:
		if cfg.MongoURI == "" || cfg.MongoDB == "" {
			return errors.New("MONGO_URI and MONGO_DB are required for driver \"mongo\"")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	return nil
}
