package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/reveal"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: DUOEXPLAIN_ANALYZER__BASE_URL sets analyzer.base_url.
const EnvPrefix = "DUOEXPLAIN_"

// DefaultPaths are searched in order when no config path is given
var DefaultPaths = []string{"./duoexplain.toml", "$HOME/.duoexplain.toml"}

// Config represents the application configuration
type Config struct {
	Analyzer struct {
		BaseURL           string        `koanf:"base_url"`
		Timeout           time.Duration `koanf:"timeout"`
		RequestsPerSecond float64       `koanf:"requests_per_second"`
		LenientJSON       bool          `koanf:"lenient_json"`
	} `koanf:"analyzer"`

	Reveal struct {
		InitialDelay time.Duration `koanf:"initial_delay"`
		TickInterval time.Duration `koanf:"tick_interval"`
		Speed        string        `koanf:"speed"`
	} `koanf:"reveal"`

	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Mock struct {
		Port    int           `koanf:"port"`
		Latency time.Duration `koanf:"latency"`
	} `koanf:"mock"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"analyzer.base_url":            "",
		"analyzer.timeout":             analyzer.DefaultTimeout.String(),
		"analyzer.requests_per_second": 0,
		"analyzer.lenient_json":        false,
		"reveal.initial_delay":         "500ms",
		"reveal.tick_interval":         "850ms",
		"reveal.speed":                 "",
		"server.port":                  8888,
		"mock.port":                    8787,
		"mock.latency":                 "0s",
		"log.level":                    "info",
		"log.pretty":                   true,
	}
}

// LoadConfig loads defaults, then the TOML file, then .env, then the
// environment. An explicit configPath must exist.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range DefaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", path, err)
			}
			break
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// InitConfig writes a sample configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# duoexplain configuration

[analyzer]
# empty means the relative endpoint /analyze
base_url = "http://localhost:8787"
timeout = "15s"
requests_per_second = 0
lenient_json = false

[reveal]
initial_delay = "500ms"
tick_interval = "850ms"
# fast, medium, slow or very-slow; overrides tick_interval
speed = ""

[server]
port = 8888

[mock]
port = 8787
latency = "0s"

[log]
level = "info"
pretty = true
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	if cfg.Analyzer.Timeout <= 0 {
		return fmt.Errorf("analyzer.timeout must be positive, got %v", cfg.Analyzer.Timeout)
	}
	if cfg.Analyzer.RequestsPerSecond < 0 {
		return fmt.Errorf("analyzer.requests_per_second must not be negative")
	}
	if cfg.Analyzer.BaseURL != "" {
		u, err := url.Parse(cfg.Analyzer.BaseURL)
		if err != nil {
			return fmt.Errorf("analyzer.base_url is invalid: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("analyzer.base_url must be an http(s) URL, got %q", cfg.Analyzer.BaseURL)
		}
	}

	if cfg.Reveal.InitialDelay < 0 {
		return fmt.Errorf("reveal.initial_delay must not be negative")
	}
	if cfg.Reveal.TickInterval <= 0 {
		return fmt.Errorf("reveal.tick_interval must be positive, got %v", cfg.Reveal.TickInterval)
	}
	if cfg.Reveal.Speed != "" {
		if _, err := reveal.SpeedPreset(cfg.Reveal.Speed); err != nil {
			return err
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Mock.Port <= 0 || cfg.Mock.Port > 65535 {
		return fmt.Errorf("mock.port %d is out of range", cfg.Mock.Port)
	}
	if cfg.Mock.Latency < 0 {
		return fmt.Errorf("mock.latency must not be negative")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// AnalyzerConfig returns the client settings
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		BaseURL:           c.Analyzer.BaseURL,
		Timeout:           c.Analyzer.Timeout,
		RequestsPerSecond: c.Analyzer.RequestsPerSecond,
		LenientJSON:       c.Analyzer.LenientJSON,
	}
}

// RevealConfig returns the scheduler timing; a speed preset wins over
// tick_interval
func (c *Config) RevealConfig() (reveal.Config, error) {
	cfg := reveal.Config{
		InitialDelay: c.Reveal.InitialDelay,
		TickInterval: c.Reveal.TickInterval,
	}
	if c.Reveal.Speed != "" {
		interval, err := reveal.SpeedPreset(c.Reveal.Speed)
		if err != nil {
			return reveal.Config{}, err
		}
		cfg.TickInterval = interval
	}
	return cfg, nil
}
