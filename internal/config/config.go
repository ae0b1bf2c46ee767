package config

import (
	"errors"
	"os"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all service-level configuration loaded from environment
// variables. These are populated at startup by LoadConfig. Economic market
// parameters are not ambient state; they travel in types.ExchangeConfig.
var (
	// ExchangeID is the identifier of the market this engine instance runs.
	ExchangeID string
	// OracleKey is the oracle price key of the market.
	OracleKey string
	// OwnerAddress and CounterpartyAddress gate privileged engine calls.
	OwnerAddress        string
	CounterpartyAddress string

	// InitialQuoteReserve and InitialBaseReserve seed the AMM pool.
	InitialQuoteReserve sdkmath.LegacyDec
	InitialBaseReserve  sdkmath.LegacyDec

	// NATSURL is the event-publishing endpoint. Empty disables publishing.
	NATSURL string
	// WebPort is the HTTP dashboard/metrics port.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. Reserve and identity variables are required.
func LoadConfig() error {
	log.Info().Msg("Loading engine configuration from environment variables...")

	var err error

	ExchangeID, err = getEnv("ENGINE_EXCHANGE_ID")
	if err != nil {
		return err
	}

	OracleKey, err = getEnv("ENGINE_ORACLE_KEY")
	if err != nil {
		return err
	}

	OwnerAddress, err = getEnv("ENGINE_OWNER_ADDRESS")
	if err != nil {
		return err
	}

	CounterpartyAddress, err = getEnv("ENGINE_COUNTERPARTY_ADDRESS")
	if err != nil {
		return err
	}

	InitialQuoteReserve, err = getEnvAsDec("ENGINE_INITIAL_QUOTE_RESERVE")
	if err != nil {
		return err
	}

	InitialBaseReserve, err = getEnvAsDec("ENGINE_INITIAL_BASE_RESERVE")
	if err != nil {
		return err
	}

	// Optional service endpoints.
	NATSURL = os.Getenv("NATS_URL")
	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Debug().
		Str("ExchangeID", ExchangeID).
		Str("OracleKey", OracleKey).
		Str("WebPort", WebPort).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsDec retrieves an environment variable as an 18-decimal fixed-point
// value. Returns error if not set or invalid.
func getEnvAsDec(key string) (sdkmath.LegacyDec, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	value, err := sdkmath.LegacyNewDecFromStr(valueStr)
	if err != nil {
		return sdkmath.LegacyDec{}, errors.New("environment variable " + key + " must be a valid decimal, got: " + valueStr)
	}
	return value, nil
}
