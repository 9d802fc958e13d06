package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config models transitionos.yml. Environment variables override file values.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	Database    struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	API struct {
		Host             string   `yaml:"host"`
		Port             int      `yaml:"port"`
		BasePath         string   `yaml:"base_path"`
		CORSAllowOrigins []string `yaml:"cors_allow_origins"`
	} `yaml:"api"`
	Gateway struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		BackendURL     string   `yaml:"backend_url"`
		BackendAPIKey  string   `yaml:"backend_api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"gateway"`
	Skills struct {
		EnableStubs bool `yaml:"enable_stubs"`
	} `yaml:"skills"`
	Policies  Policies  `yaml:"policies"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Policies toggle behavior the data model leaves open. Both default to off.
type Policies struct {
	EnforceBlockers        bool `yaml:"enforce_blockers"`
	AutoCompleteHouseholds bool `yaml:"auto_complete_households"`
}

type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

var environments = map[string]bool{"DEV": true, "TEST": true, "STAGE": true, "PROD": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !environments[c.Environment] {
		return fmt.Errorf("config.environment must be one of DEV, TEST, STAGE, PROD (got %q)", c.Environment)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config.database.url is required")
	}
	if strings.Contains(c.Database.URL, "://") && !strings.HasPrefix(c.Database.URL, "sqlite://") {
		return fmt.Errorf("config.database.url %q: only sqlite urls are supported", c.Database.URL)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config.api.port %d out of range", c.API.Port)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config.gateway.port %d out of range", c.Gateway.Port)
	}
	if !strings.HasPrefix(c.API.BasePath, "/") {
		return fmt.Errorf("config.api.base_path must start with /")
	}
	if c.Gateway.BackendURL == "" {
		return fmt.Errorf("config.gateway.backend_url is required")
	}
	switch c.Telemetry.Exporter {
	case "", "stdout", "otlp-http", "none":
	default:
		return fmt.Errorf("config.telemetry.exporter %q unsupported", c.Telemetry.Exporter)
	}
	return nil
}

// IsDev reports whether error details may be exposed to callers.
func (c *Config) IsDev() bool {
	return c.Environment == "DEV"
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML overlays raw YAML onto the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Load builds the effective config: defaults, then the optional YAML file,
// then environment variables (a .env file in the working directory is read
// first and never overrides variables already set).
func Load(v *viper.Viper, path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path != "" {
		fileCfg, err := FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = fileCfg
	}
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()
	applyEnv(v, cfg)
	cfg.Environment = strings.ToUpper(strings.TrimSpace(cfg.Environment))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(v *viper.Viper, cfg *Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setList := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = SplitList(v.GetString(key))
		}
	}
	setString("DATABASE_URL", &cfg.Database.URL)
	setString("ENVIRONMENT", &cfg.Environment)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("API_HOST", &cfg.API.Host)
	setInt("API_PORT", &cfg.API.Port)
	setString("API_BASE_PATH", &cfg.API.BasePath)
	setList("CORS_ALLOW_ORIGINS", &cfg.API.CORSAllowOrigins)
	setString("BACKEND_URL", &cfg.Gateway.BackendURL)
	setString("BACKEND_API_KEY", &cfg.Gateway.BackendAPIKey)
	setString("OPENCLAW_HOST", &cfg.Gateway.Host)
	setInt("OPENCLAW_PORT", &cfg.Gateway.Port)
	setList("OPENCLAW_ALLOWED_ORIGINS", &cfg.Gateway.AllowedOrigins)
	setBool("ENABLE_SKILL_STUBS", &cfg.Skills.EnableStubs)
	setBool("ENFORCE_TASK_BLOCKERS", &cfg.Policies.EnforceBlockers)
	setBool("AUTO_COMPLETE_HOUSEHOLDS", &cfg.Policies.AutoCompleteHouseholds)
	setBool("OTEL_ENABLED", &cfg.Telemetry.Enabled)
	setString("OTEL_EXPORTER", &cfg.Telemetry.Exporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const defaultTemplate = `environment: DEV
log_level: INFO

database:
  url: sqlite:///./transition_os.db

api:
  host: 0.0.0.0
  port: 8000
  base_path: /api
  cors_allow_origins:
    - http://localhost:5173
    - http://127.0.0.1:5173

gateway:
  host: 0.0.0.0
  port: 18789
  backend_url: http://localhost:8000
  allowed_origins: ["*"]

skills:
  enable_stubs: true

policies:
  enforce_blockers: false
  auto_complete_households: false

telemetry:
  enabled: false
  exporter: stdout
  service_name: transitionos
`
