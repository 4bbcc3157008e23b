package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.RankingStrategy != RankingFrequency {
		t.Errorf("ranking strategy = %q, want %q", cfg.Search.RankingStrategy, RankingFrequency)
	}
	if cfg.ATS.PagesPerKeyword != 2 {
		t.Errorf("pages per keyword = %d, want 2", cfg.ATS.PagesPerKeyword)
	}
	if cfg.Enrich.NoteMaxChars != 500 {
		t.Errorf("note cap = %d, want 500", cfg.Enrich.NoteMaxChars)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
search:
  rankingStrategy: category
  defaultMaxCandidates: 3
  maxCandidatesLimit: 20
ats:
  searchTimeout: 2s
enrich:
  concurrency: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.RankingStrategy != RankingCategory {
		t.Errorf("ranking strategy = %q", cfg.Search.RankingStrategy)
	}
	if cfg.Search.DefaultMaxCandidates != 3 {
		t.Errorf("default max candidates = %d", cfg.Search.DefaultMaxCandidates)
	}
	if cfg.ATS.SearchTimeout != 2*time.Second {
		t.Errorf("search timeout = %v", cfg.ATS.SearchTimeout)
	}
	// Untouched values keep their defaults.
	if cfg.ATS.NotesTimeout != 10*time.Second {
		t.Errorf("notes timeout = %v", cfg.ATS.NotesTimeout)
	}
	if cfg.Enrich.Concurrency != 4 {
		t.Errorf("concurrency = %d", cfg.Enrich.Concurrency)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CW_RANKING_STRATEGY", "category")
	t.Setenv("CW_SERVER_PORT", "9999")
	t.Setenv("CW_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("CW_KAFKA_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.RankingStrategy != RankingCategory {
		t.Errorf("ranking strategy = %q", cfg.Search.RankingStrategy)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || !cfg.Kafka.Enabled {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown ranking", func(c *Config) { c.Search.RankingStrategy = "bm25" }},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "etcd" }},
		{"unknown provider", func(c *Config) { c.Summarizer.Provider = "llama" }},
		{"zero search timeout", func(c *Config) { c.ATS.SearchTimeout = 0 }},
		{"zero pages", func(c *Config) { c.ATS.PagesPerKeyword = 0 }},
		{"default above limit", func(c *Config) { c.Search.DefaultMaxCandidates = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
