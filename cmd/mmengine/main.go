package main

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/openperp/mmengine/internal/amm"
	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/config"
	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/logger"
	"github.com/openperp/mmengine/internal/observability"
	"github.com/openperp/mmengine/internal/oracle"
	"github.com/openperp/mmengine/internal/state"
	"github.com/openperp/mmengine/internal/types"
	"github.com/openperp/mmengine/internal/vault"
	"github.com/openperp/mmengine/internal/web"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	BLOCK_INTERVAL = 1 * time.Second
	LOOP_INTERVAL  = 5 * time.Second
)

// main is the entry point for the market-making engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Market-Making Engine Starting...")

	// Initialize Database Connection (event archive + snapshot history).
	// The engine runs without a database when DB_HOST is unset.
	dbEnabled := os.Getenv("DB_HOST") != ""
	if dbEnabled {
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("DB_HOST not set. Running without event archive.")
	}

	// --- 2. Event Bus and Observability ---
	recorder := events.NewRecorder(1024)
	bus := events.NewBus(events.NewLogSink(), recorder)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	bus.Attach(observability.NewSink(metrics))

	if dbEnabled {
		bus.Attach(state.NewEventArchiver())
		bus.Attach(state.NewSnapshotArchiver())
	}

	if config.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(config.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", config.NATSURL).Msg("Failed to connect to NATS")
		}
		defer publisher.Close()
		bus.Attach(publisher)
		log.Info().Str("url", config.NATSURL).Msg("NATS event publishing enabled")
	}

	// --- 3. Engine Assembly with Dependency Injection ---
	clock := chrono.NewIntervalClock(time.Now(), BLOCK_INTERVAL)
	feeder := oracle.NewStaticFeeder()
	positions := amm.NewPositionBook()
	insurance := vault.NewMemoryInsuranceFund()

	cfg := config.DefaultExchangeConfig()
	cfg.Owner = config.OwnerAddress
	cfg.Counterparty = config.CounterpartyAddress
	cfg.OracleKey = config.OracleKey

	riskVault := vault.New(clock, bus)

	exchange, err := amm.NewExchange(
		config.ExchangeID,
		&cfg,
		clock,
		feeder,
		positions,
		riskVault,
		bus,
		types.Reserves{Quote: config.InitialQuoteReserve, Base: config.InitialBaseReserve},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exchange")
	}

	if err := riskVault.RegisterExchange(config.ExchangeID, &cfg, exchange, insurance); err != nil {
		log.Fatal().Err(err).Msg("Failed to register exchange with risk vault")
	}

	log.Info().
		Str("exchange", config.ExchangeID).
		Str("quote_reserve", config.InitialQuoteReserve.String()).
		Str("base_reserve", config.InitialBaseReserve.String()).
		Msg("Engine instance created successfully")

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, exchange, riskVault, recorder, registry)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting engine web server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Main Loop ---
	log.Info().Str("interval", LOOP_INTERVAL.String()).Msg("Starting engine main loop")

	ticker := time.NewTicker(LOOP_INTERVAL)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle(exchange, feeder)
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received, stopping engine")
			return
		}
	}
}

// runCycle performs the periodic engine duties: funding settlement when the
// schedule is due and oracle-price convergence when a fresh index price is
// available.
func runCycle(exchange *amm.Exchange, feeder *oracle.StaticFeeder) {
	rate, err := exchange.SettleFunding(config.CounterpartyAddress)
	switch {
	case err == nil:
		log.Info().Str("rate", rate.String()).Msg("Funding settled")
	case errors.Is(err, amm.ErrTooEarly):
		// Not due yet.
	default:
		log.Error().Err(err).Msg("Funding settlement failed")
	}

	oraclePrice, err := feeder.GetPrice(config.OracleKey)
	if err != nil {
		log.Debug().Str("key", config.OracleKey).Msg("No oracle price posted yet")
		return
	}

	moved, err := exchange.MoveAMMPriceToOracle(config.OwnerAddress, oraclePrice, config.OracleKey)
	if err != nil {
		log.Error().Err(err).Msg("Oracle convergence failed")
		return
	}
	if moved {
		log.Info().
			Str("oracle_price", oraclePrice.String()).
			Str("spot_price", exchange.SpotPrice().String()).
			Msg("AMM price moved toward oracle")
	}
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
