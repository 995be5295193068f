// Package config loads the checkout client's settings from TOML with
// environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mailsized/paygate"
)

//go:embed config.example.toml
var exampleConf []byte

type Config struct {
	API      APIConfig      `toml:"api"`
	Pricing  PricingConfig  `toml:"pricing"`
	Progress ProgressConfig `toml:"progress"`
	Redis    RedisConfig    `toml:"redis"`
	Storage  StorageConfig  `toml:"storage"`
	Download DownloadConfig `toml:"download"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type APIConfig struct {
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

type PricingConfig struct {
	FreeTierBytes int64    `toml:"free_tier_bytes"`
	BypassTokens  []string `toml:"bypass_tokens"`
}

type ProgressConfig struct {
	Transport           string `toml:"transport"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
}

type RedisConfig struct {
	Addr               string `toml:"addr"`
	Password           string `toml:"password"`
	FollowLeaseSeconds int    `toml:"follow_lease_seconds"`
}

type StorageConfig struct {
	Bucket   string `toml:"bucket"`
	Endpoint string `toml:"endpoint"`
	Region   string `toml:"region"`
}

type DownloadConfig struct {
	Dir      string `toml:"dir"`
	Strategy string `toml:"strategy"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

const (
	TransportSSE   = "sse"
	TransportRedis = "redis"

	StrategyAuto = "auto"
	StrategyLink = "link"
	StrategySave = "save"
)

// Default returns the embedded example config with environment overrides applied.
func Default() *Config {
	var c Config
	if err := toml.Unmarshal(exampleConf, &c); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	c.applyEnv()
	return &c
}

// Load reads path over the defaults. An empty path means defaults only.
func Load(path string) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(exampleConf, &c); err != nil {
		return nil, fmt.Errorf("failed to parse embedded default config: %w", err)
	}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if _, err := toml.Decode(string(data), &c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteExample writes the embedded example config to path. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("MAILSIZED_BASE_URL")); v != "" {
		c.API.BaseURL = v
	}
	if _, ok := os.LookupEnv("MAILSIZED_FREE_TIER_BYTES"); ok {
		c.Pricing.FreeTierBytes = paygate.FreeTierBytes()
	}
	if _, ok := os.LookupEnv("MAILSIZED_BYPASS_TOKENS"); ok {
		c.Pricing.BypassTokens = paygate.BypassTokens()
	}
	if v := strings.TrimSpace(os.Getenv("MAILSIZED_PROGRESS_TRANSPORT")); v != "" {
		c.Progress.Transport = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		c.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("OSS_BUCKET")); v != "" {
		c.Storage.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("OSS_ENDPOINT_PUBLIC")); v != "" {
		c.Storage.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OSS_REGION")); v != "" {
		c.Storage.Region = v
	}
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		c.Metrics.Addr = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("MAILSIZED_DOWNLOAD_DIR")); v != "" {
		c.Download.Dir = v
	}
	if n, ok := envSeconds("MAILSIZED_REQUEST_TIMEOUT_SECONDS"); ok {
		c.API.RequestTimeoutSeconds = n
	}
	if n, ok := envSeconds("MAILSIZED_FETCH_TIMEOUT_SECONDS"); ok {
		c.Progress.FetchTimeoutSeconds = n
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	switch c.Progress.Transport {
	case TransportSSE:
	case TransportRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("progress.transport=redis needs redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown progress.transport %q", c.Progress.Transport))
	}
	switch c.Download.Strategy {
	case StrategyAuto, StrategyLink, StrategySave:
	default:
		errs = append(errs, fmt.Errorf("unknown download.strategy %q", c.Download.Strategy))
	}
	if c.Pricing.FreeTierBytes < 0 {
		errs = append(errs, errors.New("pricing.free_tier_bytes must not be negative"))
	}
	if strings.TrimSpace(c.Storage.Bucket) != "" && strings.TrimSpace(c.Storage.Endpoint) == "" {
		errs = append(errs, errors.New("storage.bucket is set but storage.endpoint is empty"))
	}
	return errors.Join(errs...)
}

func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.API.RequestTimeoutSeconds, 30*time.Second)
}

func (c *Config) FetchTimeout() time.Duration {
	return seconds(c.Progress.FetchTimeoutSeconds, 15*time.Second)
}

func (c *Config) FollowLease() time.Duration {
	return seconds(c.Redis.FollowLeaseSeconds, 2*time.Minute)
}

// Gate builds the payment gate from the pricing section.
func (c *Config) Gate() paygate.Gate {
	return paygate.New(c.Pricing.FreeTierBytes, c.Pricing.BypassTokens)
}

func envSeconds(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
