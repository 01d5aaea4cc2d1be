package verify

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds the verification settings loaded from env vars.
type Config struct {
	BaseURL        string
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	HealthPath     string
	PredictPath    string
	MetricsPath    string // optional: checked only when set
	SampleFile     string // optional: a generated PNG is used when empty
}

// LoadConfig reads, defaults and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromEnv reads environment variables without defaulting or validating.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		BaseURL:     os.Getenv("VERIFY_BASE_URL"),
		HealthPath:  os.Getenv("VERIFY_HEALTH_PATH"),
		PredictPath: os.Getenv("VERIFY_PREDICT_PATH"),
		MetricsPath: os.Getenv("VERIFY_METRICS_PATH"),
		SampleFile:  os.Getenv("VERIFY_SAMPLE_FILE"),
	}

	var err error
	if cfg.ReadyTimeout, err = durationEnv("VERIFY_READY_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationEnv("VERIFY_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("VERIFY_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default fills unset fields.
func (c *Config) Default() {
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.PredictPath == "" {
		c.PredictPath = "/predict"
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 120 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("VERIFY_BASE_URL env var is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("VERIFY_BASE_URL %q must be an absolute URL", c.BaseURL)
	}
	return nil
}

// durationEnv accepts a Go duration ("90s") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
