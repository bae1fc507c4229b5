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
	// Backend endpoints
	BaseURL string
	Paths   Paths

	// Transport
	HTTPTimeout time.Duration

	// Auth
	RegisterPolicy string

	// Logging
	LogLevel  string
	LogFormat string

	// Development server
	Port                string
	SQLiteDBPath        string
	DevServerStringNums bool
	RateLimitPerMinute  int
	// AggregateCacheTTL < 0 disables the dev server's aggregate cache.
	AggregateCacheTTL time.Duration

	// AMQP ledger events (optional)
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string
	AMQPExportQueue string

	// Snapshot export
	ExportBackend            string
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// Paths maps each backend operation to its path under BaseURL.
type Paths struct {
	Auth             string
	GetExpenses      string
	UpdateExpenses   string
	GetIncome        string
	UpdateIncome     string
	GetNetTotal      string
	GetTotalIncome   string
	GetTotalExpenses string
}

// DefaultPaths returns the paths the backend has always served.
func DefaultPaths() Paths {
	return Paths{
		Auth:             "/api.php",
		GetExpenses:      "/getExpenses.php",
		UpdateExpenses:   "/updateExpenses.php",
		GetIncome:        "/getIncome.php",
		UpdateIncome:     "/updateIncome.php",
		GetNetTotal:      "/getNetTotal.php",
		GetTotalIncome:   "/get_total_income.php",
		GetTotalExpenses: "/get_total_expenses.php",
	}
}

func Load() *Config {
	def := DefaultPaths()
	cfg := &Config{
		BaseURL: getEnv("MONEYMIND_BASE_URL", "http://localhost:8080"),
		Paths: Paths{
			Auth:             getEnv("MONEYMIND_AUTH_PATH", def.Auth),
			GetExpenses:      getEnv("MONEYMIND_GET_EXPENSES_PATH", def.GetExpenses),
			UpdateExpenses:   getEnv("MONEYMIND_UPDATE_EXPENSES_PATH", def.UpdateExpenses),
			GetIncome:        getEnv("MONEYMIND_GET_INCOME_PATH", def.GetIncome),
			UpdateIncome:     getEnv("MONEYMIND_UPDATE_INCOME_PATH", def.UpdateIncome),
			GetNetTotal:      getEnv("MONEYMIND_GET_NET_TOTAL_PATH", def.GetNetTotal),
			GetTotalIncome:   getEnv("MONEYMIND_GET_TOTAL_INCOME_PATH", def.GetTotalIncome),
			GetTotalExpenses: getEnv("MONEYMIND_GET_TOTAL_EXPENSES_PATH", def.GetTotalExpenses),
		},

		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		RegisterPolicy: getEnv("REGISTER_SUCCESS_POLICY", "body"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		Port:                getEnv("PORT", "8080"),
		SQLiteDBPath:        getEnv("SQLITE_DB_PATH", "./data/moneymind.db"),
		DevServerStringNums: getEnvBool("DEVSERVER_STRING_NUMBERS", true),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		AggregateCacheTTL:   getEnvDuration("AGGREGATE_CACHE_TTL", 30*time.Second),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "moneymind"),
		AMQPQueue:       getEnv("AMQP_QUEUE", "ledger_changes"),
		AMQPExportQueue: getEnv("AMQP_EXPORT_QUEUE", "ledger_exports"),

		ExportBackend:            getEnv("EXPORT_BACKEND", "memory"),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Moneymind"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate backend URL
	if u, err := url.Parse(c.BaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid base URL '%s': %v", c.BaseURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	} else if u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid base URL '%s': missing host", c.BaseURL))
	}

	for name, p := range c.Paths.byName() {
		if !strings.HasPrefix(p, "/") {
			errors = append(errors, fmt.Sprintf("invalid %s path '%s': must start with '/'", name, p))
		}
	}

	if c.HTTPTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be positive", c.HTTPTimeout))
	} else if c.HTTPTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at most 5 minutes", c.HTTPTimeout))
	}

	if c.RegisterPolicy != "body" && c.RegisterPolicy != "status" {
		errors = append(errors, fmt.Sprintf("invalid register policy '%s': must be 'body' or 'status'", c.RegisterPolicy))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" || c.AMQPExportQueue == "" {
			errors = append(errors, "AMQP queue names cannot be empty when AMQP URL is provided")
		}
	}

	switch c.ExportBackend {
	case "memory":
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets export")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets export")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be one of [memory sheets]", c.ExportBackend))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (p Paths) byName() map[string]string {
	return map[string]string{
		"auth":               p.Auth,
		"get expenses":       p.GetExpenses,
		"update expenses":    p.UpdateExpenses,
		"get income":         p.GetIncome,
		"update income":      p.UpdateIncome,
		"get net total":      p.GetNetTotal,
		"get total income":   p.GetTotalIncome,
		"get total expenses": p.GetTotalExpenses,
	}
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
