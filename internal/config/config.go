// Package config loads engine configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// AppConfig holds process-level settings.
type AppConfig struct {
	AppName string
	AppEnv  string
	AppPort string
}

// DBConfig selects and parameterizes the storage backend.
type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver     string
	SQLitePath string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
}

// GatewayConfig parameterizes the commission payout channel.
type GatewayConfig struct {
	// Channel is "mpesa" or "paypal".
	Channel string

	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaInitiator      string
	MpesaCredential     string
	MpesaResultURL      string
	MpesaTimeoutURL     string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalCurrency     string
	PayPalLive         bool
}

// BankConfig parameterizes the bank-transfer rail and the share accounts.
type BankConfig struct {
	BaseURL string
	APIKey  string

	// ConfirmSecretHash is the bcrypt hash transfers are authorized against.
	// ConfirmSecret (plain) is accepted for development only; the hash wins
	// when both are set.
	ConfirmSecretHash string
	ConfirmSecret     string

	ShaAccountName   string
	ShaAccountNumber string
	ShaBankCode      string
	MwuAccountName   string
	MwuAccountNumber string
	MwuBankCode      string
}

// ScheduleConfig parameterizes the daily trigger.
type ScheduleConfig struct {
	Enabled     bool
	Hour        int
	Minute      int
	Timezone    string
	AutoProcess bool
	// CleanupRetentionDays bounds how long resolved callback audit rows are
	// kept by the periodic cleanup job.
	CleanupRetentionDays int
}

// Config is the full engine configuration.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Gateway  GatewayConfig
	Bank     BankConfig
	Schedule ScheduleConfig
}

// Load reads configuration from the environment. A missing .env file is not
// an error; explicit environment variables always take precedence anyway.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	return &Config{
		App: AppConfig{
			AppName: getEnv("APP_NAME", "settlementd"),
			AppEnv:  getEnv("APP_ENV", "development"),
			AppPort: getEnv("APP_PORT", "8090"),
		},
		DB: DBConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			SQLitePath: getEnv("DB_PATH", "./data/settlement.db"),
			DBHost:     getEnv("DB_HOST", "localhost"),
			DBUser:     getEnv("DB_USER", "settlement"),
			DBPassword: getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "settlement"),
			DBPort:     getEnv("DB_PORT", "5432"),
		},
		Gateway: GatewayConfig{
			Channel:             getEnv("GATEWAY_CHANNEL", "mpesa"),
			MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			MpesaConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			MpesaConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			MpesaShortCode:      getEnv("MPESA_SHORTCODE", ""),
			MpesaInitiator:      getEnv("MPESA_INITIATOR", ""),
			MpesaCredential:     getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			MpesaResultURL:      getEnv("MPESA_RESULT_URL", ""),
			MpesaTimeoutURL:     getEnv("MPESA_TIMEOUT_URL", ""),
			PayPalClientID:      getEnv("PAYPAL_CLIENT_ID", ""),
			PayPalClientSecret:  getEnv("PAYPAL_CLIENT_SECRET", ""),
			PayPalCurrency:      getEnv("PAYPAL_CURRENCY", "USD"),
			PayPalLive:          getEnvBool("PAYPAL_LIVE", false),
		},
		Bank: BankConfig{
			BaseURL:           getEnv("BANK_API_BASE_URL", ""),
			APIKey:            getEnv("BANK_API_KEY", ""),
			ConfirmSecretHash: getEnv("TRANSFER_CONFIRM_SECRET_HASH", ""),
			ConfirmSecret:     getEnv("TRANSFER_CONFIRM_SECRET", ""),
			ShaAccountName:    getEnv("SHA_ACCOUNT_NAME", "Social Health Authority"),
			ShaAccountNumber:  getEnv("SHA_ACCOUNT_NUMBER", ""),
			ShaBankCode:       getEnv("SHA_BANK_CODE", ""),
			MwuAccountName:    getEnv("MWU_ACCOUNT_NAME", "Matatu Workers Union"),
			MwuAccountNumber:  getEnv("MWU_ACCOUNT_NUMBER", ""),
			MwuBankCode:       getEnv("MWU_BANK_CODE", ""),
		},
		Schedule: ScheduleConfig{
			Enabled:              getEnvBool("SCHEDULE_ENABLED", true),
			Hour:                 getEnvInt("SCHEDULE_HOUR", 0),
			Minute:               getEnvInt("SCHEDULE_MINUTE", 30),
			Timezone:             getEnv("SCHEDULE_TZ", "Africa/Nairobi"),
			AutoProcess:          getEnvBool("SCHEDULE_AUTO_PROCESS", false),
			CleanupRetentionDays: getEnvInt("CLEANUP_RETENTION_DAYS", 90),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		return cast.ToInt(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return cast.ToBool(value)
	}
	return fallback
}
