package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// Encryption key for the deduction marker store, hex-encoded
	// 32 bytes. Empty means reconciliation cannot run.
	VaultKey string

	// AMQP (optional deduction-event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// BTC/KRW rate used to value installment obligations. Zero
	// disables sat valuations for pending obligations.
	BtcKrwRate int64

	// Worker
	DeductionInterval time.Duration
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/syba.db"),
		VaultKey:     getEnv("SYBA_VAULT_KEY", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "syba"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "deduction_events"),

		BtcKrwRate: getEnvInt64("BTC_KRW_RATE", 0),

		DeductionInterval: getEnvDuration("DEDUCTION_INTERVAL", 6*time.Hour),
	}
}

// Validate checks the configuration, accumulating every problem into
// one error so a misconfigured environment is fixed in one pass.
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.VaultKey != "" {
		if raw, err := hex.DecodeString(c.VaultKey); err != nil {
			errors = append(errors, "SYBA_VAULT_KEY must be hex-encoded")
		} else if len(raw) != 32 {
			errors = append(errors, fmt.Sprintf("SYBA_VAULT_KEY must decode to 32 bytes, got %d", len(raw)))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.BtcKrwRate < 0 {
		errors = append(errors, fmt.Sprintf("invalid BTC_KRW_RATE %d: must not be negative", c.BtcKrwRate))
	}

	if c.DeductionInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid deduction interval %v: must be at least 1 minute", c.DeductionInterval))
	} else if c.DeductionInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid deduction interval %v: must be at most 7 days", c.DeductionInterval))
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
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
