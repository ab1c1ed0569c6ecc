package api

import "testing"

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("LOTGATE_AUTH_MAX_BODY_BYTES", "")
	t.Setenv("LOTGATE_DEFAULT_ROLE", "")
	t.Setenv("LOTGATE_VERIFY_URL", "")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 64<<10 {
		t.Fatalf("max body bytes=%d", cfg.MaxBodyBytes)
	}
	if cfg.DefaultRole != "emprendedores" {
		t.Fatalf("default role=%q", cfg.DefaultRole)
	}
	if cfg.VerifyURL != "http://localhost:8080/api/auth/verify" {
		t.Fatalf("verify url=%q", cfg.VerifyURL)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOTGATE_AUTH_MAX_BODY_BYTES", "99999999")
	t.Setenv("LOTGATE_DEFAULT_ROLE", " Vendedor ")
	t.Setenv("LOTGATE_VERIFY_URL", "https://autos.example.com/verificar")
	t.Setenv("LOTGATE_AUTH_NAME_MAX_LEN", "-3")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("max body bytes not clamped: %d", cfg.MaxBodyBytes)
	}
	if cfg.DefaultRole != "vendedor" {
		t.Fatalf("default role=%q", cfg.DefaultRole)
	}
	if cfg.VerifyURL != "https://autos.example.com/verificar" {
		t.Fatalf("verify url=%q", cfg.VerifyURL)
	}
	if cfg.NameMaxLen != 120 {
		t.Fatalf("invalid name len should fall back, got %d", cfg.NameMaxLen)
	}
}
