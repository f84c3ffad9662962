// Package config loads service configuration from VERIFICA_* environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Pinner backends.
const (
	PinnerLocal  = "local"
	PinnerPinata = "pinata"
)

// ScrollSepolia is the ledger network enabled when VERIFICA_LEDGER_NETWORKS is unset.
const ScrollSepolia int64 = 534351

// Config holds everything the binaries need to wire the service.
type Config struct {
	HTTPAddr         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	MaxBodyBytes     int64

	LogLevel  string
	LogFormat string

	AuthSecret string

	StoreBackend  string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LedgerNetworks is the registry allow-list.
	LedgerNetworks []int64
	// RegistryEndpoints maps a chain id to the gRPC address of its registry relay.
	// Networks without an endpoint use an in-process registry.
	RegistryEndpoints map[int64]string

	// NameServiceURLs maps a chain id to a JSON-RPC endpoint used as the caller's
	// connection when the request names that chain.
	NameServiceURLs map[int64]string
	// NameFallbackURL is the JSON-RPC endpoint of the home test network.
	NameFallbackURL string
	NameCacheTTL    time.Duration
	NameCacheSize   int

	Pinner         string
	PinataJWT      string
	PinataAPIKey   string
	PinataSecret   string
	PinataEndpoint string
	PinataGateway  string

	RoleOverridesFile string

	RateLimitRPS   float64
	RateLimitBurst int

	RegistrydAddr    string
	RegistrydChainID int64
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.HTTPAddr = getEnvDefault("VERIFICA_HTTP_ADDR", ":8080")
	if cfg.HTTPReadTimeout, err = getEnvDuration("VERIFICA_HTTP_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("VERIFICA_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("VERIFICA_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("VERIFICA_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("VERIFICA_HTTP_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("VERIFICA_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("VERIFICA_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("VERIFICA_SHUTDOWN_TIMEOUT: %w", err)
	}
	maxBody, err := getEnvInt("VERIFICA_MAX_BODY_BYTES", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("VERIFICA_MAX_BODY_BYTES: %w", err)
	}
	cfg.MaxBodyBytes = int64(maxBody)

	cfg.LogLevel = getEnvDefault("VERIFICA_LOG_LEVEL", "info")
	cfg.LogFormat = getEnvDefault("VERIFICA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("VERIFICA_LOG_FORMAT: unsupported format %q (json, text)", cfg.LogFormat)
	}

	cfg.AuthSecret = strings.TrimSpace(os.Getenv("VERIFICA_AUTH_SECRET"))

	cfg.StoreBackend = strings.ToLower(getEnvDefault("VERIFICA_STORE", StoreMemory))
	cfg.PostgresDSN = os.Getenv("VERIFICA_PG_DSN")
	cfg.RedisAddr = getEnvDefault("VERIFICA_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("VERIFICA_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("VERIFICA_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("VERIFICA_REDIS_DB: %w", err)
	}
	switch cfg.StoreBackend {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("VERIFICA_PG_DSN: required when VERIFICA_STORE=%s", StorePostgres)
		}
	default:
		return nil, fmt.Errorf("VERIFICA_STORE: unsupported backend %q", cfg.StoreBackend)
	}

	if cfg.LedgerNetworks, err = getEnvChainList("VERIFICA_LEDGER_NETWORKS", []int64{ScrollSepolia}); err != nil {
		return nil, fmt.Errorf("VERIFICA_LEDGER_NETWORKS: %w", err)
	}
	if cfg.RegistryEndpoints, err = getEnvChainMap("VERIFICA_REGISTRY_ENDPOINTS"); err != nil {
		return nil, fmt.Errorf("VERIFICA_REGISTRY_ENDPOINTS: %w", err)
	}

	if cfg.NameServiceURLs, err = getEnvChainMap("VERIFICA_NAME_RPC_URLS"); err != nil {
		return nil, fmt.Errorf("VERIFICA_NAME_RPC_URLS: %w", err)
	}
	cfg.NameFallbackURL = os.Getenv("VERIFICA_NAME_FALLBACK_URL")
	if cfg.NameCacheTTL, err = getEnvDuration("VERIFICA_NAME_CACHE_TTL", 0); err != nil {
		return nil, fmt.Errorf("VERIFICA_NAME_CACHE_TTL: %w", err)
	}
	if cfg.NameCacheSize, err = getEnvInt("VERIFICA_NAME_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("VERIFICA_NAME_CACHE_SIZE: %w", err)
	}

	cfg.Pinner = strings.ToLower(getEnvDefault("VERIFICA_PINNER", PinnerLocal))
	cfg.PinataJWT = os.Getenv("VERIFICA_PINATA_JWT")
	cfg.PinataAPIKey = os.Getenv("VERIFICA_PINATA_API_KEY")
	cfg.PinataSecret = os.Getenv("VERIFICA_PINATA_SECRET_KEY")
	cfg.PinataEndpoint = getEnvDefault("VERIFICA_PINATA_ENDPOINT", "https://api.pinata.cloud/pinning/pinFileToIPFS")
	cfg.PinataGateway = getEnvDefault("VERIFICA_PINATA_GATEWAY", "https://gateway.pinata.cloud/ipfs/")
	switch cfg.Pinner {
	case PinnerLocal:
	case PinnerPinata:
		if cfg.PinataJWT == "" && (cfg.PinataAPIKey == "" || cfg.PinataSecret == "") {
			return nil, fmt.Errorf("VERIFICA_PINATA_JWT or VERIFICA_PINATA_API_KEY/VERIFICA_PINATA_SECRET_KEY: required when VERIFICA_PINNER=%s", PinnerPinata)
		}
	default:
		return nil, fmt.Errorf("VERIFICA_PINNER: unsupported pinner %q", cfg.Pinner)
	}

	cfg.RoleOverridesFile = os.Getenv("VERIFICA_ROLE_OVERRIDES")

	rps, err := getEnvFloat("VERIFICA_RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("VERIFICA_RATE_LIMIT_RPS: %w", err)
	}
	cfg.RateLimitRPS = rps
	if cfg.RateLimitBurst, err = getEnvInt("VERIFICA_RATE_LIMIT_BURST", 40); err != nil {
		return nil, fmt.Errorf("VERIFICA_RATE_LIMIT_BURST: %w", err)
	}

	cfg.RegistrydAddr = getEnvDefault("VERIFICA_REGISTRYD_ADDR", ":9090")
	chain, err := getEnvInt("VERIFICA_REGISTRYD_CHAIN_ID", int(ScrollSepolia))
	if err != nil {
		return nil, fmt.Errorf("VERIFICA_REGISTRYD_CHAIN_ID: %w", err)
	}
	cfg.RegistrydChainID = int64(chain)

	return cfg, nil
}

// ChainIDs returns the chain ids named by the name-service map, sorted.
func (c *Config) ChainIDs() []int64 {
	out := make([]int64, 0, len(c.NameServiceURLs))
	for id := range c.NameServiceURLs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func getEnvDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", val)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use Go format: 30s, 1h, 15m)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

// getEnvChainList parses "534351,11155111".
func getEnvChainList(key string, defaultVal []int64) ([]int64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	var out []int64
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := parseChainID(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// getEnvChainMap parses "534351=host:9090,1=https://rpc.example".
func getEnvChainMap(key string) (map[int64]string, error) {
	out := make(map[int64]string)
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return out, nil
	}
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rawID, target, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(target) == "" {
			return nil, fmt.Errorf("invalid entry %q (want chain=value)", part)
		}
		id, err := parseChainID(strings.TrimSpace(rawID))
		if err != nil {
			return nil, err
		}
		out[id] = strings.TrimSpace(target)
	}
	return out, nil
}

func parseChainID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chain id %q", raw)
	}
	return id, nil
}
