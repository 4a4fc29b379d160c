package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tobert/cruxview/internal/crux"
)

// projectConfigName is looked up from the working directory towards the repo root.
const projectConfigName = ".cruxview.json"

// Config holds the runtime configuration for cruxview.
// It can be populated from config files, CLI flags, and the environment.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// CrUX API access
	APIKey         string `json:"api_key,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`        // queryRecord URL
	FormFactor     string `json:"form_factor,omitempty"`     // PHONE, DESKTOP, TABLET
	Concurrency    int    `json:"concurrency,omitempty"`     // in-flight requests per search
	RequestTimeout string `json:"request_timeout,omitempty"` // per request, e.g. "15s"

	// Transport configuration
	Transport      string   `json:"transport,omitempty"`       // "http" (default) or "stdio"
	HTTPHost       string   `json:"http_host,omitempty"`       // HTTP server bind address
	HTTPPort       int      `json:"http_port,omitempty"`       // HTTP server port
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // Allowed Origin headers for CORS
	Stateless      bool     `json:"stateless,omitempty"`       // Run the /mcp endpoint in stateless mode

	// Views
	Locale    string  `json:"locale,omitempty"`     // BCP 47 tag for origin collation
	Threshold float64 `json:"threshold,omitempty"`  // initial row threshold
	BatchFile string  `json:"batch_file,omitempty"` // JSONL batch to watch at startup

	// Logging configuration
	Verbose bool `json:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// - the public CrUX endpoint, phone form factor
// - 4 concurrent requests, 15s each
// - HTTP on 127.0.0.1:3000, allowing any CORS origin
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       crux.DefaultEndpoint,
		FormFactor:     crux.DefaultFormFactor,
		Concurrency:    crux.DefaultConcurrency,
		RequestTimeout: "15s",
		Transport:      "http",
		HTTPHost:       "127.0.0.1",
		HTTPPort:       3000,
		AllowedOrigins: []string{"*"},
		Stateless:      false,
		Locale:         "en",
		Verbose:        false,
	}
}

// LoadConfigFromFile loads configuration from a JSON file at the given path.
// It returns an error if the file cannot be read or parsed.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .cruxview.json config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findProjectConfigFrom(dir)
}

func findProjectConfigFrom(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at the repo root even without a config
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/cruxview/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cruxview", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	// CrUX API settings
	if overlay.APIKey != "" {
		merged.APIKey = overlay.APIKey
	}
	if overlay.Endpoint != "" {
		merged.Endpoint = overlay.Endpoint
	}
	if overlay.FormFactor != "" {
		merged.FormFactor = overlay.FormFactor
	}
	if overlay.Concurrency > 0 {
		merged.Concurrency = overlay.Concurrency
	}
	if overlay.RequestTimeout != "" {
		merged.RequestTimeout = overlay.RequestTimeout
	}

	// Transport settings
	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}
	if overlay.HTTPHost != "" {
		merged.HTTPHost = overlay.HTTPHost
	}
	if overlay.HTTPPort > 0 {
		merged.HTTPPort = overlay.HTTPPort
	}
	if len(overlay.AllowedOrigins) > 0 {
		merged.AllowedOrigins = overlay.AllowedOrigins
	}
	if overlay.Stateless {
		merged.Stateless = overlay.Stateless
	}

	// View settings
	if overlay.Locale != "" {
		merged.Locale = overlay.Locale
	}
	if overlay.Threshold != 0 {
		merged.Threshold = overlay.Threshold
	}
	if overlay.BatchFile != "" {
		merged.BatchFile = overlay.BatchFile
	}

	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists and no explicit path)
// 4. Explicit config file (if specified via configPath)
// 5. Environment: GOOGLE_API_KEY and PORT
// Later sources override earlier ones. CLI flags are applied by the caller.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; a broken one is ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return applyEnv(config, os.Getenv)
}

// applyEnv overlays GOOGLE_API_KEY and PORT from the environment.
func applyEnv(config *Config, getenv func(string) string) (*Config, error) {
	merged := *config
	if key := getenv("GOOGLE_API_KEY"); key != "" {
		merged.APIKey = key
	}
	if port := getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", port)
		}
		merged.HTTPPort = p
	}
	return &merged, nil
}

// Timeout parses RequestTimeout; an empty value means the client default.
func (c *Config) Timeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", c.RequestTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid request_timeout %q: must not be negative", c.RequestTimeout)
	}
	return d, nil
}

// CruxConfig builds the client settings from the effective config.
func (c *Config) CruxConfig() (crux.Config, error) {
	timeout, err := c.Timeout()
	if err != nil {
		return crux.Config{}, err
	}
	return crux.Config{
		APIKey:     c.APIKey,
		Endpoint:   c.Endpoint,
		FormFactor: c.FormFactor,
		Timeout:    timeout,
	}, nil
}
