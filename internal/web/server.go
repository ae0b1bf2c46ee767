package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/openperp/mmengine/internal/amm"
	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/logger"
	"github.com/openperp/mmengine/internal/state"
	"github.com/openperp/mmengine/internal/types"
	"github.com/openperp/mmengine/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read-only HTTP endpoints over the engine state.
type WebServer struct {
	router   *mux.Router
	port     string
	exchange *amm.Exchange
	vault    *vault.RiskVault
	recorder *events.Recorder
	started  time.Time
}

// NewWebServer creates a new web server instance. The Prometheus registry may
// be nil, in which case the /metrics route is not mounted.
func NewWebServer(port string, exchange *amm.Exchange, riskVault *vault.RiskVault, recorder *events.Recorder, registry *prometheus.Registry) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:   mux.NewRouter(),
		port:     port,
		exchange: exchange,
		vault:    riskVault,
		recorder: recorder,
		started:  time.Now(),
	}

	server.setupRoutes(registry)
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes(registry *prometheus.Registry) {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	if registry != nil {
		ws.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/market/status", ws.handleGetMarketStatus).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/events/recent", ws.handleGetRecentEvents).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server on the configured port
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns system health information
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
			"uptime_seconds":     int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "mmengine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"market_open":      ws.exchange.IsOpen(),
			"exchange":         ws.exchange.ID(),
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetMarketStatus returns the current AMM state for the exchange.
func (ws *WebServer) handleGetMarketStatus(w http.ResponseWriter, r *http.Request) {
	reserves := ws.exchange.Reserves()
	funding := ws.exchange.FundingSchedule()

	twap, err := ws.exchange.History().TwapPrice(0)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute TWAP")
		return
	}

	response := map[string]interface{}{
		"exchange":         ws.exchange.ID(),
		"open":             ws.exchange.IsOpen(),
		"quote_reserve":    reserves.Quote,
		"base_reserve":     reserves.Base,
		"spot_price":       ws.exchange.SpotPrice(),
		"twap_price":       twap,
		"settlement_price": ws.exchange.SettlementPrice(),
		"funding":          funding,
		"snapshot_count":   ws.exchange.History().Len(),
		"timestamp":        time.Now().UTC(),
	}

	if state.DB != nil {
		if count, err := state.CountReserveSnapshots(ws.exchange.ID()); err == nil {
			response["archived_snapshots"] = count
		}
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultSummary returns per-tranche liquidity and PNL allocation.
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	exchange := ws.exchange.ID()

	tranches := make(map[string]interface{}, 2)
	for _, tranche := range []types.Tranche{types.TrancheHigh, types.TrancheLow} {
		liquidity, supply, err := ws.vault.TrancheLiquidity(exchange, tranche)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read tranche state")
			return
		}
		tranches[tranche.String()] = map[string]interface{}{
			"total_liquidity": liquidity,
			"token_supply":    supply,
		}
	}

	available, err := ws.vault.AvailableLiquidity(exchange)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute available liquidity")
		return
	}

	balance, err := ws.vault.Balance(exchange)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read vault balance")
		return
	}

	cached, err := ws.vault.CachedLiquidity(exchange)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read cached liquidity")
		return
	}

	highPnl, lowPnl, err := ws.vault.AllocatedPNL(exchange)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to allocate unrealized PNL")
		return
	}

	response := map[string]interface{}{
		"exchange":            exchange,
		"tranches":            tranches,
		"available_liquidity": available,
		"balance":             balance,
		"cached_liquidity":    cached,
		"allocated_pnl": map[string]interface{}{
			"HIGH": highPnl,
			"LOW":  lowPnl,
		},
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRecentEvents returns recently emitted engine events. The in-memory
// recorder is preferred; the database archive is the fallback when no recorder
// is attached.
func (ws *WebServer) handleGetRecentEvents(w http.ResponseWriter, r *http.Request) {
	if ws.recorder != nil {
		response := map[string]interface{}{
			"events": ws.recorder.Recent(),
			"source": "memory",
		}
		ws.writeJSONResponse(w, http.StatusOK, response)
		return
	}

	records, err := state.LoadRecentEvents(ws.exchange.ID(), 100)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	response := map[string]interface{}{
		"events": records,
		"source": "database",
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// corsMiddleware adds CORS headers to all responses
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs all HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rww *responseWriterWrapper) WriteHeader(code int) {
	rww.statusCode = code
	rww.ResponseWriter.WriteHeader(code)
}

// writeJSONResponse writes a JSON response with the given status code
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response in JSON format
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}
