package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Fatalf("StoreBackend = %q", cfg.StoreBackend)
	}
	if len(cfg.LedgerNetworks) != 1 || cfg.LedgerNetworks[0] != ScrollSepolia {
		t.Fatalf("LedgerNetworks = %v", cfg.LedgerNetworks)
	}
	if cfg.NameCacheTTL != 0 {
		t.Fatalf("name cache must be disabled by default, got %v", cfg.NameCacheTTL)
	}
	if cfg.Pinner != PinnerLocal {
		t.Fatalf("Pinner = %q", cfg.Pinner)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VERIFICA_STORE", "Postgres")
	t.Setenv("VERIFICA_PG_DSN", "postgres://localhost/verifica")
	t.Setenv("VERIFICA_LEDGER_NETWORKS", "534351, 11155111")
	t.Setenv("VERIFICA_REGISTRY_ENDPOINTS", "534351=registry:9090")
	t.Setenv("VERIFICA_NAME_RPC_URLS", "11155111=https://sepolia.example,1=https://mainnet.example")
	t.Setenv("VERIFICA_NAME_CACHE_TTL", "30s")
	t.Setenv("VERIFICA_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != StorePostgres {
		t.Fatalf("StoreBackend = %q", cfg.StoreBackend)
	}
	if len(cfg.LedgerNetworks) != 2 || cfg.LedgerNetworks[1] != 11155111 {
		t.Fatalf("LedgerNetworks = %v", cfg.LedgerNetworks)
	}
	if cfg.RegistryEndpoints[ScrollSepolia] != "registry:9090" {
		t.Fatalf("RegistryEndpoints = %v", cfg.RegistryEndpoints)
	}
	if ids := cfg.ChainIDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 11155111 {
		t.Fatalf("ChainIDs = %v", ids)
	}
	if cfg.NameCacheTTL != 30*time.Second {
		t.Fatalf("NameCacheTTL = %v", cfg.NameCacheTTL)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("RateLimitRPS = %v", cfg.RateLimitRPS)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"VERIFICA_STORE": "mongo"}},
		{"postgres without dsn", map[string]string{"VERIFICA_STORE": "postgres"}},
		{"bad chain list", map[string]string{"VERIFICA_LEDGER_NETWORKS": "scroll"}},
		{"bad chain map", map[string]string{"VERIFICA_REGISTRY_ENDPOINTS": "534351"}},
		{"negative ttl", map[string]string{"VERIFICA_NAME_CACHE_TTL": "-1s"}},
		{"pinata without jwt", map[string]string{"VERIFICA_PINNER": "pinata"}},
		{"bad log format", map[string]string{"VERIFICA_LOG_FORMAT": "xml"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
