package explorer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Task = "map the API"
	cfg.URL = "https://app.example.com"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxSteps != 30 {
		t.Errorf("MaxSteps = %d, want 30", cfg.MaxSteps)
	}
	if cfg.MaxLoginPauses != 2 {
		t.Errorf("MaxLoginPauses = %d, want 2", cfg.MaxLoginPauses)
	}
	if cfg.LoginTimeout != 5*time.Minute {
		t.Errorf("LoginTimeout = %v, want 5m", cfg.LoginTimeout)
	}
	if cfg.HistoryWindow != 10 {
		t.Errorf("HistoryWindow = %d, want 10", cfg.HistoryWindow)
	}
	if cfg.Browser.Headless {
		t.Error("default config should be headful")
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("APIKeyEnv = %q", cfg.LLM.APIKeyEnv)
	}
}

func TestHeadlessConfig(t *testing.T) {
	if !HeadlessConfig().Browser.Headless {
		t.Error("HeadlessConfig() should be headless")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no task", func(c *Config) { c.Task = "" }, "task"},
		{"no url", func(c *Config) { c.URL = "" }, "URL"},
		{"no host", func(c *Config) { c.URL = "https://" }, "no host"},
		{"bad scheme", func(c *Config) { c.URL = "ftp://files.example.com" }, "http"},
		{"zero steps", func(c *Config) { c.MaxSteps = 0 }, "max steps"},
		{"negative pauses", func(c *Config) { c.MaxLoginPauses = -1 }, "login pauses"},
		{"zero login timeout", func(c *Config) { c.LoginTimeout = 0 }, "login timeout"},
		{"negative window", func(c *Config) { c.HistoryWindow = -1 }, "history window"},
		{"no sessions dir", func(c *Config) { c.SessionsDir = "" }, "sessions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_TargetDomain(t *testing.T) {
	cfg := validConfig()
	cfg.URL = "https://app.example.com:8443/dashboard?x=1"
	if got := cfg.TargetDomain(); got != "app.example.com" {
		t.Errorf("TargetDomain() = %q", got)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explore.yaml")
	yml := `task: find the search API
url: https://shop.example.com
max_steps: 12
login_timeout: 90s
browser:
  headless: true
  chrome_path: /usr/bin/chromium
llm:
  model: gpt-4o
  api_key_env: SHOP_KEY
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Task != "find the search API" || cfg.MaxSteps != 12 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LoginTimeout != 90*time.Second {
		t.Errorf("LoginTimeout = %v, want 90s", cfg.LoginTimeout)
	}
	if !cfg.Browser.Headless || cfg.Browser.ChromePath != "/usr/bin/chromium" {
		t.Errorf("Browser = %+v", cfg.Browser)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.APIKeyEnv != "SHOP_KEY" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	// unset fields keep their defaults
	if cfg.MaxLoginPauses != DefaultMaxLoginPauses || cfg.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("defaults lost: pauses=%d window=%d", cfg.MaxLoginPauses, cfg.HistoryWindow)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explore.json")
	if err := os.WriteFile(path, []byte(`{"task":"t","url":"https://a.com","max_steps":4}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.MaxSteps != 4 || cfg.URL != "https://a.com" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("max_steps: [unclosed"), 0644)
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("LoadFromFile() should fail for invalid YAML")
	}
}

func TestConfig_SaveToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.LLM.APIKey = "sk-secret"

	for _, name := range []string{"out.yaml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}

			data, _ := os.ReadFile(path)
			if strings.Contains(string(data), "sk-secret") {
				t.Error("API key written to the config file")
			}

			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if loaded.Task != cfg.Task || loaded.LoginTimeout != cfg.LoginTimeout {
				t.Errorf("loaded = %+v", loaded)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Browser.ExtraHeaders = map[string]string{"X-Team": "red"}

	clone := cfg.Clone()
	clone.Browser.ExtraHeaders["X-Team"] = "blue"
	clone.Task = "other"

	if cfg.Browser.ExtraHeaders["X-Team"] != "red" || cfg.Task != "map the API" {
		t.Error("Clone() shares state with the original")
	}
	if clone.LLM.APIKey != "sk-secret" {
		t.Error("Clone() should keep the in-memory API key")
	}
}
