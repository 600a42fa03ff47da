package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.LLM.Provider != "ollama" || cfg.Limits.SavesPerMinute != 10 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Browser.Debounce != 800*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Browser.Debounce)
	}
}

func TestExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit file")
	}
}

func TestFileThenEnv(t *testing.T) {
	path := writeFile(t, `
db_path: /tmp/from-file.db
addr: ":9090"
token_ttl: 48h
llm:
  provider: ollama
  model: llama3.2
  base_url: http://gpu-box:11434
browser:
  interaction_ttl: 10s
limits:
  ai_per_hour: 5
`)
	t.Setenv("POSTKEEP_ADDR", ":7070")
	t.Setenv("OLLAMA_MODEL", "qwen2.5:1.5b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name      string
		got, want any
	}{
		{"file value", cfg.DBPath, "/tmp/from-file.db"},
		{"env beats file", cfg.Addr, ":7070"},
		{"duration", cfg.TokenTTL, 48 * time.Hour},
		{"nested duration", cfg.Browser.InteractionTTL, 10 * time.Second},
		{"ollama env model", cfg.LLM.Model, "qwen2.5:1.5b"},
		{"file base url", cfg.LLM.BaseURL, "http://gpu-box:11434"},
		{"untouched default", cfg.Limits.SavesPerMinute, 10},
		{"file limit", cfg.Limits.AIPerHour, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestOllamaEnvIgnoredForOtherProviders(t *testing.T) {
	path := writeFile(t, "llm:\n  provider: openai\n  model: gpt-4o-mini\n")
	t.Setenv("OLLAMA_MODEL", "qwen2.5:1.5b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if p := cfg.Provider(); p.Provider != "openai" || p.Model != "gpt-4o-mini" {
		t.Errorf("provider config = %+v", p)
	}
}

func TestInvalidYAML(t *testing.T) {
	path := writeFile(t, "addr: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
