package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// External transaction service
	APIBaseURL string
	APITimeout time.Duration

	// Local key/value store (token, period marker)
	LocalStorePath string

	// Session events (optional; empty URL disables publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Analytics windows
	AnalyticsWeeks      int
	AnalyticsMonths     int
	AnalyticsPeriodDays int
}

func Load() *Config {
	return &Config{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000"),
		APITimeout: getEnvDuration("API_TIMEOUT", 30*time.Second),

		LocalStorePath: getEnv("LOCAL_STORE_PATH", "./data/receiptbox.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "receiptbox"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "session_events"),

		AnalyticsWeeks:      getEnvInt("ANALYTICS_WEEKS", 4),
		AnalyticsMonths:     getEnvInt("ANALYTICS_MONTHS", 12),
		AnalyticsPeriodDays: getEnvInt("ANALYTICS_PERIOD_DAYS", 30),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if parsed, err := url.Parse(c.APIBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsed.Scheme))
	}

	if c.APITimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at least 1 second", c.APITimeout))
	} else if c.APITimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at most 5 minutes", c.APITimeout))
	}

	if c.LocalStorePath == "" {
		errors = append(errors, "local store path cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.AnalyticsWeeks < 1 || c.AnalyticsWeeks > 104 {
		errors = append(errors, fmt.Sprintf("invalid analytics weeks %d: must be between 1 and 104", c.AnalyticsWeeks))
	}
	if c.AnalyticsMonths < 1 || c.AnalyticsMonths > 120 {
		errors = append(errors, fmt.Sprintf("invalid analytics months %d: must be between 1 and 120", c.AnalyticsMonths))
	}
	if c.AnalyticsPeriodDays < 1 || c.AnalyticsPeriodDays > 365 {
		errors = append(errors, fmt.Sprintf("invalid analytics period days %d: must be between 1 and 365", c.AnalyticsPeriodDays))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
