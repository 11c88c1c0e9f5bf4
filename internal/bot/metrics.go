package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradecore/internal/exchange"
	"tradecore/pkg/ratelimit"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================

// ============ Цикл ============

// TicksTotal - выполненные тики по исходу: ok, paused, skipped
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "loop",
		Name:      "ticks_total",
		Help:      "Total number of trading loop ticks",
	},
	[]string{"outcome"},
)

// TickDuration - длительность тика
var TickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradecore",
		Subsystem: "loop",
		Name:      "tick_duration_seconds",
		Help:      "Trading loop tick duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

// EntityErrors - ошибки обработки отдельных сущностей, цикл при этом продолжается
var EntityErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "loop",
		Name:      "entity_errors_total",
		Help:      "Errors processing a single entity within a tick",
	},
	[]string{"stage"},
)

// AdvisoriesTotal - пометки о неподключённых возможностях
var AdvisoriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "loop",
		Name:      "advisories_total",
		Help:      "Pending capability advisories logged per tick",
	},
	[]string{"id"},
)

// ============ Сетапы и сигналы ============

// SetupTransitions - переходы сетапов
var SetupTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "setup",
		Name:      "transitions_total",
		Help:      "Setup lifecycle transitions",
	},
	[]string{"to", "reason"},
)

// SetupsCreated - созданные сканером сетапы
var SetupsCreated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "setup",
		Name:      "created_total",
		Help:      "Setups created by the candidate scan",
	},
	[]string{"type"},
)

// SignalInvalidations - инвалидированные сигналы
var SignalInvalidations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "signal",
		Name:      "invalidations_total",
		Help:      "Signals invalidated on revalidation",
	},
	[]string{"type"},
)

// SignalsFired - сигналы, созданные детектором или вебхуком
var SignalsFired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "signal",
		Name:      "fired_total",
		Help:      "Signals attached to setups",
	},
	[]string{"type", "source"},
)

// ============ Риск ============

// RiskRejections - отказы проверок риска
var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Trades blocked by risk checks",
	},
	[]string{"check"},
)

// BreakerTrips - срабатывания предохранителей
var BreakerTrips = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "breaker_trips_total",
		Help:      "Circuit breaker trips by action",
	},
	[]string{"action"}, // pause, flatten
)

// TradingStateGauge - текущее состояние торгового автомата (1 для активного)
var TradingStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "state",
		Help:      "Trading state machine state per account",
	},
	[]string{"account", "state"},
)

// TradesTotal - сделки по исходу
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Trades by result",
	},
	[]string{"symbol", "result"}, // opened, failed, closed
)

// PnlTotal - реализованный PNL, может уходить в минус
var PnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "pnl_total",
		Help:      "Total realized PnL in quote currency",
	},
)

// ============ Биржи ============

// ExchangeErrors - ошибки бирж по видам
var ExchangeErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "exchange",
		Name:      "errors_total",
		Help:      "Exchange errors by kind",
	},
	[]string{"exchange", "operation", "kind"},
)

// LimiterQueueDepth - глубина очереди лимитера
var LimiterQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "ratelimit",
		Name:      "queue_depth",
		Help:      "Requests waiting in the rate limiter queue",
	},
	[]string{"account"},
)

// LimiterTokens - доступные токены
var LimiterTokens = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "ratelimit",
		Name:      "available_tokens",
		Help:      "Available rate limiter tokens",
	},
	[]string{"account"},
)

// LimiterRejected - отказы из-за переполненной очереди (накопительно)
var LimiterRejected = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "ratelimit",
		Name:      "rejected",
		Help:      "Requests rejected because the queue was full",
	},
	[]string{"account"},
)

// ============ Вспомогательные функции ============

// MetricsObserver пишет ошибки бирж в метрики
type MetricsObserver struct{}

// ObserveExchangeError реализует exchange.Observer
func (MetricsObserver) ObserveExchangeError(exchangeName, operation string, kind exchange.ErrorKind) {
	ExchangeErrors.WithLabelValues(exchangeName, operation, string(kind)).Inc()
}

// RecordLimiterStats публикует состояние лимитеров аккаунтов
func RecordLimiterStats(stats map[exchange.AccountKey]ratelimit.Stats) {
	for key, s := range stats {
		account := key.String()
		LimiterQueueDepth.WithLabelValues(account).Set(float64(s.QueueSize))
		LimiterTokens.WithLabelValues(account).Set(s.AvailableTokens)
		LimiterRejected.WithLabelValues(account).Set(float64(s.TotalRejected))
	}
}

// RecordTradingState выставляет 1 для текущего состояния аккаунта
func RecordTradingState(account string, state TradingState) {
	for _, s := range []TradingState{StateWatching, StatePositionOpen, StateCooldown, StatePaused} {
		v := 0.0
		if s == state {
			v = 1
		}
		TradingStateGauge.WithLabelValues(account, string(s)).Set(v)
	}
}

// RecordTrade записывает исход сделки
func RecordTrade(symbol, result string, pnl float64) {
	TradesTotal.WithLabelValues(symbol, result).Inc()
	if pnl != 0 {
		PnlTotal.Add(pnl)
	}
}
