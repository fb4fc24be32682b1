package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	APIBaseURL  string
	APIOrigin   string
	Login       string
	Password    string
	ClientID    string
	InsecureTLS bool

	BatchSize          int
	ScrapePageSize     int
	InterRecordDelayMs int
	InterFieldDelayMs  int
	ListingCacheSize   int

	ReportPath string
	Verbose    bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "xarid"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "xarid123"),
		PostgresDB:       getEnv("POSTGRES_DB", "xarid_sync"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		APIBaseURL:  getEnv("XT_XARID_API_URL", "https://api.xt-xarid.uz"),
		APIOrigin:   getEnv("XT_XARID_ORIGIN", "https://xt-xarid.uz"),
		Login:       getEnv("XT_XARID_LOGIN", ""),
		Password:    getEnv("XT_XARID_PASSWORD", ""),
		ClientID:    getEnv("XT_XARID_CLIENT_ID", "af36f6cbc"),
		InsecureTLS: getEnvBool("XT_XARID_INSECURE_TLS", true),

		BatchSize:          getEnvInt("BATCH_SIZE", 5),
		ScrapePageSize:     getEnvInt("SCRAPE_PAGE_SIZE", 100),
		InterRecordDelayMs: getEnvInt("INTER_RECORD_DELAY_MS", 10000),
		InterFieldDelayMs:  getEnvInt("INTER_FIELD_DELAY_MS", 500),
		ListingCacheSize:   getEnvInt("LISTING_CACHE_SIZE", 256),

		ReportPath: getEnv("REPORT_PATH", "./output/update_report.csv"),
		Verbose:    getEnvBool("VERBOSE", false),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// ValidateCredentials ensures the API credential surface is complete.
// Only the jobs that talk to the authenticated API need this.
func (c *Config) ValidateCredentials() error {
	if c.Login == "" || c.Password == "" {
		return fmt.Errorf("missing required environment variables: XT_XARID_LOGIN, XT_XARID_PASSWORD")
	}
	if c.ClientID == "" {
		return fmt.Errorf("missing required environment variable: XT_XARID_CLIENT_ID")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
