package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"signalpulse/models"
)

const (
	// DefaultPath is the configuration file used when no path is given.
	DefaultPath = "config/config.yml"

	DefaultAPIBaseURL = "http://127.0.0.1:5000/api"

	PolicySurface = "surface"
	PolicyStatic  = "static"

	SourceAPI      = "api"
	SourceExchange = "exchange"
)

type Config struct {
	App        AppConfig         `yaml:"app"`
	API        APIConfig         `yaml:"api"`
	Symbols    SymbolsConfig     `yaml:"symbols"`
	Links      map[string]string `yaml:"links"`
	Server     ServerConfig      `yaml:"server"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Publish    PublishConfig     `yaml:"publish"`
	CloudWatch CloudWatchConfig  `yaml:"cloudwatch"`
	Logging    LoggingConfig     `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig describes the remote scanning backend.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type SymbolsConfig struct {
	// Source is "api" for the backend listing endpoint or "exchange" for
	// direct venue listing.
	Source string `yaml:"source"`
	Limit  int    `yaml:"limit"`
	// FallbackPolicy is "surface" or "static".
	FallbackPolicy string              `yaml:"fallback_policy"`
	Fallback       map[string][]string `yaml:"fallback"`
	Exchange       ExchangeConfig      `yaml:"exchange"`
}

type ExchangeConfig struct {
	BinanceURL string `yaml:"binance_url"`
	BybitURL   string `yaml:"bybit_url"`
}

type ServerConfig struct {
	Address          string        `yaml:"address"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ThemeStore       string        `yaml:"theme_store"`
	DefaultTheme     string        `yaml:"default_theme"`
	LogHistory       int           `yaml:"log_history"`
	ResourceInterval time.Duration `yaml:"resource_interval"`
	ResourceHistory  int           `yaml:"resource_history"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type PublishConfig struct {
	Buffer int         `yaml:"buffer"`
	Kafka  KafkaConfig `yaml:"kafka"`
	S3     S3Config    `yaml:"s3"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// envOverrides are read from the process environment after the YAML file.
// Empty values leave the file settings untouched.
type envOverrides struct {
	ScannerAPIURL   string   `envconfig:"SCANNER_API_URL"`
	ViteAPIURL      string   `envconfig:"VITE_API_URL"`
	Address         string   `envconfig:"PULSE_ADDRESS"`
	SymbolSource    string   `envconfig:"PULSE_SYMBOL_SOURCE"`
	FallbackPolicy  string   `envconfig:"PULSE_SYMBOL_FALLBACK"`
	S3Bucket        string   `envconfig:"S3_BUCKET"`
	AWSRegion       string   `envconfig:"AWS_REGION"`
	AccessKeyID     string   `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string   `envconfig:"AWS_SECRET_ACCESS_KEY"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		App: AppConfig{Name: "signalpulse", Version: "dev"},
		API: APIConfig{
			BaseURL:           DefaultAPIBaseURL,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Symbols: SymbolsConfig{
			Source:         SourceAPI,
			Limit:          150,
			FallbackPolicy: PolicySurface,
			Fallback:       defaultFallback(),
		},
		Links: map[string]string{
			string(models.VenueBinance):  "https://www.binance.com/en/futures/{symbol}",
			string(models.VenueBybit):    "https://www.bybit.com/trade/usdt/{symbol}",
			string(models.VenueMEXC):     "https://www.mexc.com/exchange/{symbol}?type=linear_swap",
			string(models.VenueCoinbase): "https://www.coinbase.com/advanced-trade/spot/{base}-USD",
		},
		Server: ServerConfig{
			Address:          ":8080",
			SessionTTL:       30 * time.Minute,
			SweepInterval:    time.Minute,
			ThemeStore:       "data/theme.yml",
			DefaultTheme:     "system",
			LogHistory:       200,
			ResourceInterval: 5 * time.Second,
			ResourceHistory:  120,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Publish: PublishConfig{
			Buffer: 64,
			Kafka:  KafkaConfig{Topic: "scan-signals"},
			S3:     S3Config{Prefix: "signals"},
		},
		CloudWatch: CloudWatchConfig{Namespace: "SignalPulse"},
		Logging:    LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func defaultFallback() map[string][]string {
	perps := []string{
		"BTC/USDT:USDT", "ETH/USDT:USDT", "SOL/USDT:USDT", "BNB/USDT:USDT", "XRP/USDT:USDT",
		"DOGE/USDT:USDT", "ADA/USDT:USDT", "AVAX/USDT:USDT", "LINK/USDT:USDT", "DOT/USDT:USDT",
	}
	return map[string][]string{
		string(models.VenueBinance):  perps,
		string(models.VenueBybit):    perps,
		string(models.VenueMEXC):     perps,
		string(models.VenueCoinbase): {"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD", "DOGE/USD", "ADA/USD", "AVAX/USD", "LINK/USD"},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result. A missing default file is
// not an error. APP_ENV may redirect the default path to an environment
// specific file.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	path = resolveEnvSpecificPath(path, DefaultPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err) && path == DefaultPath:
			// fall through to defaults
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	config.API.BaseURL = strings.TrimRight(strings.TrimSpace(config.API.BaseURL), "/")
	config.Publish.S3.Bucket = strings.TrimSpace(config.Publish.S3.Bucket)
	config.Symbols.Source = strings.ToLower(strings.TrimSpace(config.Symbols.Source))
	config.Symbols.FallbackPolicy = strings.ToLower(strings.TrimSpace(config.Symbols.FallbackPolicy))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	switch {
	case env.ScannerAPIURL != "":
		config.API.BaseURL = env.ScannerAPIURL
	case env.ViteAPIURL != "":
		config.API.BaseURL = env.ViteAPIURL
	}
	if env.Address != "" {
		config.Server.Address = env.Address
	}
	if env.SymbolSource != "" {
		config.Symbols.Source = env.SymbolSource
	}
	if env.FallbackPolicy != "" {
		config.Symbols.FallbackPolicy = env.FallbackPolicy
	}
	if len(env.KafkaBrokers) > 0 {
		config.Publish.Kafka.Brokers = env.KafkaBrokers
	}

	if config.Publish.S3.Enabled {
		if v := strings.TrimSpace(env.AccessKeyID); v != "" {
			config.Publish.S3.AccessKeyID = v
		}
		if v := strings.TrimSpace(env.SecretAccessKey); v != "" {
			config.Publish.S3.SecretAccessKey = v
		}
		if v := strings.TrimSpace(env.AWSRegion); v != "" {
			config.Publish.S3.Region = v
		}
		if v := strings.TrimSpace(env.S3Bucket); v != "" {
			config.Publish.S3.Bucket = v
		}
	}
	if config.CloudWatch.Enabled && config.CloudWatch.Region == "" {
		config.CloudWatch.Region = strings.TrimSpace(env.AWSRegion)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute http(s) URL", cfg.API.BaseURL)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be greater than 0")
	}
	if cfg.API.RequestsPerSecond < 0 || cfg.API.Burst < 0 {
		return fmt.Errorf("api rate limit must not be negative")
	}

	if cfg.Symbols.Limit <= 0 {
		return fmt.Errorf("symbols.limit must be greater than 0")
	}
	switch cfg.Symbols.Source {
	case SourceAPI, SourceExchange:
	default:
		return fmt.Errorf("symbols.source %q must be %q or %q", cfg.Symbols.Source, SourceAPI, SourceExchange)
	}
	switch cfg.Symbols.FallbackPolicy {
	case PolicySurface:
	case PolicyStatic:
		if len(cfg.Symbols.Fallback) == 0 {
			return fmt.Errorf("symbols.fallback lists are required with the static policy")
		}
	default:
		return fmt.Errorf("symbols.fallback_policy %q must be %q or %q", cfg.Symbols.FallbackPolicy, PolicySurface, PolicyStatic)
	}
	for venue := range cfg.Symbols.Fallback {
		if _, err := models.ParseVenue(venue); err != nil {
			return fmt.Errorf("symbols.fallback: %w", err)
		}
	}

	for venue, tmpl := range cfg.Links {
		if _, err := models.ParseVenue(venue); err != nil {
			return fmt.Errorf("links: %w", err)
		}
		if !strings.Contains(tmpl, "{symbol}") && !strings.Contains(tmpl, "{base}") {
			return fmt.Errorf("links.%s must contain {symbol} or {base}", venue)
		}
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Server.SessionTTL <= 0 {
		return fmt.Errorf("server.session_ttl must be greater than 0")
	}
	switch cfg.Server.DefaultTheme {
	case "light", "dark", "system":
	default:
		return fmt.Errorf("server.default_theme %q must be light, dark or system", cfg.Server.DefaultTheme)
	}

	if cfg.Publish.Kafka.Enabled {
		if len(cfg.Publish.Kafka.Brokers) == 0 {
			return fmt.Errorf("publish.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Publish.Kafka.Topic == "" {
			return fmt.Errorf("publish.kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Publish.S3.Enabled {
		if cfg.Publish.S3.Bucket == "" {
			return fmt.Errorf("publish.s3.bucket is required when S3 is enabled")
		}
		if cfg.Publish.S3.Region == "" {
			return fmt.Errorf("publish.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Publish.S3.Bucket) {
			return fmt.Errorf("publish.s3.bucket '%s' is invalid", cfg.Publish.S3.Bucket)
		}
	}

	if cfg.CloudWatch.Enabled && cfg.CloudWatch.Region == "" {
		return fmt.Errorf("cloudwatch.region is required when cloudwatch is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
