package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openperp/mmengine/internal/events"
)

// Metrics holds all Prometheus metrics for the pricing engine.
type Metrics struct {
	SwapsTotal        *prometheus.CounterVec
	SwapQuoteVolume   *prometheus.CounterVec
	SpotPrice         *prometheus.GaugeVec
	OracleMoves       *prometheus.CounterVec
	FundingSettled    *prometheus.CounterVec
	FundingRate       *prometheus.GaugeVec
	LiquidityEvents   *prometheus.CounterVec
	TrancheLiquidity  *prometheus.GaugeVec
	BadDebtResolved   *prometheus.CounterVec
	MarketOpen        *prometheus.GaugeVec
	EventsEmitted     *prometheus.CounterVec
	SnapshotsAppended *prometheus.CounterVec
}

// NewMetrics registers all engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SwapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_swaps_total",
			Help: "Executed swaps by exchange, kind and direction.",
		}, []string{"exchange", "kind", "dir"}),
		SwapQuoteVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_swap_quote_volume",
			Help: "Quote-asset volume moved through the AMM.",
		}, []string{"exchange", "dir"}),
		SpotPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mmengine_spot_price",
			Help: "Current AMM spot price.",
		}, []string{"exchange"}),
		OracleMoves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_oracle_moves_total",
			Help: "Oracle convergence attempts by outcome.",
		}, []string{"exchange", "moved"}),
		FundingSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_funding_settlements_total",
			Help: "Funding settlements executed.",
		}, []string{"exchange"}),
		FundingRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mmengine_funding_rate",
			Help: "Funding rate computed at the last settlement.",
		}, []string{"exchange"}),
		LiquidityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_vault_liquidity_events_total",
			Help: "LP deposits and withdrawals by tranche.",
		}, []string{"exchange", "kind", "tranche"}),
		TrancheLiquidity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mmengine_vault_tranche_liquidity",
			Help: "Pooled liquidity per tranche.",
		}, []string{"exchange", "tranche"}),
		BadDebtResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_bad_debt_resolved_total",
			Help: "Bad debt drawn through the waterfall by source.",
		}, []string{"exchange", "source"}),
		MarketOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mmengine_market_open",
			Help: "1 while the market accepts trades, 0 after shutdown.",
		}, []string{"exchange"}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_events_emitted_total",
			Help: "Engine events emitted by type.",
		}, []string{"exchange", "event_type"}),
		SnapshotsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmengine_reserve_snapshots_total",
			Help: "Reserve snapshots appended.",
		}, []string{"exchange"}),
	}
}

// Sink adapts the metrics registry to the event bus so counters and gauges
// track engine activity without instrumenting the engine itself.
type Sink struct {
	metrics *Metrics
}

// NewSink wraps the metrics in an event sink.
func NewSink(metrics *Metrics) *Sink {
	return &Sink{metrics: metrics}
}

func (s *Sink) Publish(env events.Envelope) error {
	m := s.metrics
	m.EventsEmitted.WithLabelValues(env.Exchange, env.EventType).Inc()

	switch evt := env.Payload.(type) {
	case events.SwapInput:
		m.SwapsTotal.WithLabelValues(evt.Exchange, "input", evt.Dir).Inc()
		if volume, err := evt.QuoteAssetAmount.Float64(); err == nil {
			m.SwapQuoteVolume.WithLabelValues(evt.Exchange, evt.Dir).Add(volume)
		}
	case events.SwapOutput:
		m.SwapsTotal.WithLabelValues(evt.Exchange, "output", evt.Dir).Inc()
		if volume, err := evt.QuoteAssetAmount.Float64(); err == nil {
			m.SwapQuoteVolume.WithLabelValues(evt.Exchange, evt.Dir).Add(volume)
		}
	case events.ReserveSnapshotted:
		m.SnapshotsAppended.WithLabelValues(evt.Exchange).Inc()
		if price, err := evt.QuoteAssetReserve.Quo(evt.BaseAssetReserve).Float64(); err == nil {
			m.SpotPrice.WithLabelValues(evt.Exchange).Set(price)
		}
	case events.MoveAMMPrice:
		moved := "false"
		if evt.Moved {
			moved = "true"
		}
		m.OracleMoves.WithLabelValues(evt.Exchange, moved).Inc()
	case events.FundingSettled:
		m.FundingSettled.WithLabelValues(evt.Exchange).Inc()
		if rate, err := evt.FundingRate.Float64(); err == nil {
			m.FundingRate.WithLabelValues(evt.Exchange).Set(rate)
		}
	case events.LiquidityAdd:
		m.LiquidityEvents.WithLabelValues(evt.Exchange, "add", evt.Risk).Inc()
	case events.LiquidityRemove:
		m.LiquidityEvents.WithLabelValues(evt.Exchange, "remove", evt.Risk).Inc()
	case events.BadDebtResolved:
		if amount, err := evt.InsuranceFundResolveBadDebt.Float64(); err == nil {
			m.BadDebtResolved.WithLabelValues(evt.Exchange, "insurance").Add(amount)
		}
		if amount, err := evt.MMHighResolveBadDebt.Float64(); err == nil {
			m.BadDebtResolved.WithLabelValues(evt.Exchange, "high").Add(amount)
		}
		if amount, err := evt.MMLowResolveBadDebt.Float64(); err == nil {
			m.BadDebtResolved.WithLabelValues(evt.Exchange, "low").Add(amount)
		}
	case events.MarketShutdown:
		m.MarketOpen.WithLabelValues(evt.Exchange).Set(0)
	}
	return nil
}
