package config

import (
	"testing"

	"fixdesk/backend/internal/domain"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadStockPolicy(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.StockPolicy
	}{
		{"", domain.StockPermissive},
		{"strict", domain.StockStrict},
		{"STRICT", domain.StockStrict},
		{"permissive", domain.StockPermissive},
		{"yolo", domain.StockPermissive},
	}
	for _, tt := range cases {
		t.Setenv("STOCK_POLICY", tt.raw)
		if got := Load().StockPolicy; got != tt.want {
			t.Fatalf("STOCK_POLICY=%q: got %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("REDIS_DB", "abc")
	t.Setenv("MIGRATE_ON_START", "true")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected default redis db, got %d", cfg.RedisDB)
	}
	if !cfg.MigrateOnStart {
		t.Fatalf("expected MIGRATE_ON_START to parse as true")
	}
	if cfg.Address() != ":"+cfg.Port {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}
