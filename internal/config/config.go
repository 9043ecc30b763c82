package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string

	KorapayBaseURL   string
	KorapaySecretKey string
	KorapayPublicKey string
	RedirectURL      string
	WebhookURL       string

	ConferenceFee int64
	Currency      string

	JaegerEndpoint string
}

// Load reads configuration from the environment and validates it. The
// process must not start on a partially valid config, so every problem
// found is reported at once.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             os.Getenv("PORT"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KorapayBaseURL:   os.Getenv("KORAPAY_API_BASE_URL"),
		KorapaySecretKey: os.Getenv("KORAPAY_SECRET_KEY"),
		KorapayPublicKey: os.Getenv("KORAPAY_PUBLIC_KEY"),
		RedirectURL:      os.Getenv("KORAPAY_REDIRECT_URL"),
		WebhookURL:       os.Getenv("KORAPAY_WEBHOOK_URL"),
		Currency:         "NGN",
		ConferenceFee:    5000,
		JaegerEndpoint:   os.Getenv("JAEGER_ENDPOINT"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if fee := os.Getenv("CONFERENCE_FEE"); fee != "" {
		n, err := strconv.ParseInt(fee, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CONFERENCE_FEE must be a positive integer, got %q", fee)
		}
		cfg.ConferenceFee = n
	}

	var problems []string

	for _, field := range []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"KAFKA_BROKERS", cfg.KafkaBrokers},
		{"KORAPAY_SECRET_KEY", cfg.KorapaySecretKey},
		{"KORAPAY_PUBLIC_KEY", cfg.KorapayPublicKey},
	} {
		if strings.TrimSpace(field.value) == "" {
			problems = append(problems, field.name+" is required")
		}
	}

	for _, field := range []struct{ name, value string }{
		{"KORAPAY_API_BASE_URL", cfg.KorapayBaseURL},
		{"KORAPAY_REDIRECT_URL", cfg.RedirectURL},
		{"KORAPAY_WEBHOOK_URL", cfg.WebhookURL},
	} {
		if err := validateURL(field.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s %v", field.name, err))
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}

	cfg.KorapayBaseURL = strings.TrimRight(cfg.KorapayBaseURL, "/")
	return cfg, nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be a valid http(s) URL, got %q", raw)
	}
	return nil
}
