package app

import (
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/keyring"
)

type Config struct {
	Issuer   string // Issuer claim stamped into tokens and checked on verify
	Audience string // Audience claim stamped into tokens and checked on verify

	PrivateKeyPath string        // Path to the RSA private key PEM
	PublicKeyPath  string        // Path to the RSA public key PEM
	RSABits        int           // RSA key size when generating a fresh pair (default: 2048)
	AccessTTL      time.Duration // Access token lifetime (default: 1h)
	Leeway         time.Duration // Clock skew tolerance on verification (default: 0)

	ClientsFile string // Path to the YAML client registry (required)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:   getEnvOrDefault("AUTH_ISSUER", "jwt"),
		Audience: getEnvOrDefault("AUTH_AUDIENCE", "jwt"),

		PrivateKeyPath: getEnvOrDefault("AUTH_PRIVATE_KEY_PATH", keyring.DefaultPrivateKeyPath()),
		PublicKeyPath:  getEnvOrDefault("AUTH_PUBLIC_KEY_PATH", keyring.DefaultPublicKeyPath()),
		RSABits:        getEnvIntOrDefault("AUTH_RSA_BITS", 2048),
		AccessTTL:      getEnvDurationOrDefault("AUTH_ACCESS_TTL", time.Hour),
		Leeway:         getEnvDurationOrDefault("AUTH_LEEWAY", 0),

		ClientsFile: getEnvOrDefault("AUTH_CLIENTS_FILE", "clients.yaml"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Accept bare integers as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
