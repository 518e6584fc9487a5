package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadStockOverridesDefaultOff(t *testing.T) {
	t.Setenv("ALLOW_NEGATIVE_STOCK", "")
	t.Setenv("ALLOW_BACKORDER", "")

	cfg := Load()
	if cfg.AllowNegativeStock {
		t.Fatal("expected ALLOW_NEGATIVE_STOCK to default to false")
	}
	if cfg.AllowBackorder {
		t.Fatal("expected ALLOW_BACKORDER to default to false")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("DEFAULT_TENANT_ID", "acme")

	cfg := Load()
	if !cfg.AllowNegativeStock {
		t.Fatal("expected ALLOW_NEGATIVE_STOCK=true to be honored")
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Fatalf("expected token TTL 60, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DefaultTenantID != "acme" {
		t.Fatalf("expected tenant acme, got %q", cfg.DefaultTenantID)
	}
}
