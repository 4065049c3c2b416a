package explorer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/OpenExplorer/internal/browser"
	"github.com/PentesterFlow/OpenExplorer/internal/llm"
)

// Loop limits and waits.
const (
	DefaultMaxSteps       = 30
	DefaultMaxLoginPauses = 2
	DefaultLoginTimeout   = 5 * time.Minute
	DefaultHistoryWindow  = 10

	// BlockedLimit consecutive blocked pages end the run.
	BlockedLimit = 2

	ScrollPixels = 500
	WaitAction   = 2 * time.Second
)

// Settle windows: quiet period, then the hard cap.
var (
	settleAfterAction = [2]time.Duration{500 * time.Millisecond, 5 * time.Second}
	settleAfterLogin  = [2]time.Duration{1 * time.Second, 8 * time.Second}
)

// Config holds all explorer configuration.
type Config struct {
	// Task is what the decision provider is asked to accomplish
	Task string `json:"task" yaml:"task"`

	// URL is the starting page; its host is the target domain
	URL string `json:"url" yaml:"url"`

	// Step budget
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// Login pauses allowed per run, initial check included
	MaxLoginPauses int `json:"max_login_pauses" yaml:"max_login_pauses"`

	// How long a human has to finish signing in
	LoginTimeout time.Duration `json:"login_timeout" yaml:"login_timeout"`

	// Past actions shown in each prompt
	HistoryWindow int `json:"history_window" yaml:"history_window"`

	// Root directory for session bundles and the session index
	SessionsDir string `json:"sessions_dir" yaml:"sessions_dir"`

	// Optional system prompt file overriding the built-in one
	PromptPath string `json:"prompt_path" yaml:"prompt_path"`

	// Browser configuration
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Decision provider configuration
	LLM llm.Config `json:"llm" yaml:"llm"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig returns a headful configuration: a visible browser so a
// human can sign in when asked.
func DefaultConfig() *Config {
	cfg := &Config{
		MaxSteps:       DefaultMaxSteps,
		MaxLoginPauses: DefaultMaxLoginPauses,
		LoginTimeout:   DefaultLoginTimeout,
		HistoryWindow:  DefaultHistoryWindow,
		SessionsDir:    DefaultSessionsDir(),
		Browser:        browser.DefaultConfig(),
		LLM:            llm.DefaultConfig(),
	}
	cfg.Browser.ProfileDir = DefaultProfileDir()
	return cfg
}

// HeadlessConfig returns a configuration for unattended runs. Any login
// page ends the run, so sign in beforehand with the login command.
func HeadlessConfig() *Config {
	cfg := DefaultConfig()
	cfg.Browser.Headless = true
	return cfg
}

// DefaultSessionsDir is ~/.openexplorer/sessions, or ./sessions when the
// home directory is unknown.
func DefaultSessionsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions"
	}
	return filepath.Join(home, ".openexplorer", "sessions")
}

// DefaultProfileDir is the persistent browser profile shared by the login
// and explore commands.
func DefaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openexplorer", "profile")
}

// LoadFromFile loads configuration from a file. Files ending in .json are
// parsed as JSON, everything else as YAML.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Task == "" {
		return fmt.Errorf("task is required")
	}

	if c.URL == "" {
		return fmt.Errorf("target URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("target URL %q has no host", c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target URL must be http or https")
	}

	if c.MaxSteps < 1 {
		return fmt.Errorf("max steps must be at least 1")
	}

	if c.MaxLoginPauses < 0 {
		return fmt.Errorf("max login pauses cannot be negative")
	}

	if c.LoginTimeout <= 0 {
		return fmt.Errorf("login timeout must be positive")
	}

	if c.HistoryWindow < 0 {
		return fmt.Errorf("history window cannot be negative")
	}

	if c.SessionsDir == "" {
		return fmt.Errorf("sessions directory is required")
	}

	return nil
}

// TargetDomain returns the host of URL, or "" if it does not parse.
func (c *Config) TargetDomain() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Clone creates a deep copy of the configuration. Fields that are never
// serialised are copied by hand.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	clone.LLM.APIKey = c.LLM.APIKey
	clone.LLM.Retry.RetryableTypes = append(clone.LLM.Retry.RetryableTypes, c.LLM.Retry.RetryableTypes...)
	return clone
}
