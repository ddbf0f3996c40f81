package config

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything main needs to wire the engine. Values come from
// the environment so deployments stay twelve-factor; every field has a
// development default except the signing seed, which falls back to an
// ephemeral key.
type Config struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string

	// PostgresDSN is empty for in-memory mode (tests, local development).
	PostgresDSN string

	Redis RedisConfig

	// KafkaBrokers is empty when the bulletin/fan-out is disabled.
	KafkaBrokers []string

	Proof ProofConfig

	// SigningSeed is the hex-encoded 32-byte Ed25519 seed. Empty means a
	// fresh ephemeral key per process, fine for development only.
	SigningSeed []byte

	RetentionSweepInterval time.Duration
}

// RedisConfig configures the disclosure-token consumption store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProofConfig tunes the Merkle batcher: latency against checkpoint overhead.
type ProofConfig struct {
	Shards      int
	MaxLeaves   int
	BatchWindow time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	var seed []byte
	if s := os.Getenv("VEIL_SIGNING_SEED"); s != "" {
		if decoded, err := hex.DecodeString(s); err == nil {
			seed = decoded
		}
	}

	jwtKey := os.Getenv("VEIL_JWT_SIGNING_KEY")
	if jwtKey == "" {
		// Development default, must be overridden in production.
		jwtKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if b := os.Getenv("VEIL_KAFKA_BROKERS"); b != "" {
		brokers = splitCSV(b)
	}

	return Config{
		Addr:          envString("VEIL_ADDR", ":8080"),
		JWTSigningKey: jwtKey,
		JWTIssuer:     envString("VEIL_JWT_ISSUER", "veil"),
		PostgresDSN:   os.Getenv("VEIL_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("VEIL_REDIS_URL"),
			PoolSize:     envInt("VEIL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("VEIL_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("VEIL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("VEIL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("VEIL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		KafkaBrokers: brokers,
		Proof: ProofConfig{
			Shards:      envInt("VEIL_PROOF_SHARDS", 4),
			MaxLeaves:   envInt("VEIL_PROOF_MAX_LEAVES", 256),
			BatchWindow: envDuration("VEIL_PROOF_BATCH_WINDOW", 5*time.Second),
		},
		SigningSeed:            seed,
		RetentionSweepInterval: envDuration("VEIL_RETENTION_SWEEP_INTERVAL", time.Hour),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
