package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "DATABASE_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
		"STORAGE_PATH", "VOLUMEN_PATH", "STORAGE_BACKEND", "S3_BUCKET",
		"MATCH_THRESHOLD", "MATCH_INDEX", "EMBEDDING_MODEL", "EMBEDDING_DIM",
		"TOKEN_TTL", "AUTH_TEST_TOKENS", "WEB_ALLOWED_ORIGINS", "WEB_PORT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Web.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Web.Port)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("expected 12h token TTL, got %s", cfg.Auth.TokenTTL)
	}
	if !cfg.Auth.TestTokens {
		t.Error("expected test tokens enabled by default")
	}
	if cfg.Embedding.Model != "Facenet" {
		t.Errorf("expected Facenet model, got %q", cfg.Embedding.Model)
	}
	if got := cfg.Threshold(); got != 0.37 {
		t.Errorf("expected threshold 0.37, got %v", got)
	}
	if got := cfg.EmbeddingDim(); got != 128 {
		t.Errorf("expected dim 128, got %d", got)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.Path != "./data" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

func TestLoad_ThresholdOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("MATCH_THRESHOLD", "0.25")

	if got := Load().Threshold(); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
}

func TestLoad_ModelProfile(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_MODEL", "ArcFace")

	cfg := Load()
	if cfg.EmbeddingDim() != 512 {
		t.Errorf("expected 512 dims for ArcFace, got %d", cfg.EmbeddingDim())
	}
	if cfg.Threshold() != 0.68 {
		t.Errorf("expected 0.68 for ArcFace, got %v", cfg.Threshold())
	}
}

func TestLoad_UnknownModelFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_MODEL", "NoSuchModel")

	if got := Load().Threshold(); got != 0.37 {
		t.Errorf("expected fallback threshold 0.37, got %v", got)
	}
}

func TestLoad_TokenTTLZeroDisablesExpiry(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_TTL", "0s")

	if got := Load().Auth.TokenTTL; got != 0 {
		t.Errorf("expected 0, got %s", got)
	}
}

func TestLoad_MySQLDSNFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "usuarios")

	cfg := Load()
	if cfg.Database.Driver != "mysql" {
		t.Errorf("expected mysql driver, got %q", cfg.Database.Driver)
	}
	if !strings.Contains(cfg.Database.URL, "root:secret@tcp(db:3306)/usuarios") {
		t.Errorf("unexpected DSN %q", cfg.Database.URL)
	}
	if !strings.Contains(cfg.Database.URL, "parseTime=true") {
		t.Errorf("expected parseTime in DSN %q", cfg.Database.URL)
	}
}

func TestLoad_DriverDetection(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u:p@localhost/db", "postgres"},
		{"postgresql://u:p@localhost/db", "postgres"},
		{"u:p@tcp(localhost:3306)/db", "mysql"},
	}
	for _, tt := range tests {
		if got := detectDriver(tt.url); got != tt.want {
			t.Errorf("detectDriver(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestLoad_LegacyVolumePath(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOLUMEN_PATH", "/volumen")

	if got := Load().Storage.Path; got != "/volumen" {
		t.Errorf("expected /volumen, got %q", got)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	got := Load().Web.AllowedOrigins
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", got)
	}
}

func TestEnvInt_InvalidUsesDefault(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	if got := envInt("TEST_INT", 7); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	t.Setenv("TEST_INT", "-3")
	if got := envInt("TEST_INT", 7); got != 7 {
		t.Errorf("expected 7 for negative, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without database URL")
	}

	cfg.Database.URL = "postgres://localhost/db"
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for s3 without bucket")
	}
	cfg.Storage.S3Bucket = "faces"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Match.Index = "ivf"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown index")
	}
}
