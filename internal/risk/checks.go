package risk

import (
	"fmt"
	"math"

	"tradecore/internal/models"
)

// Идентификаторы проверок
const (
	CheckStopDistance        = "STOP_DISTANCE"
	CheckRiskPerTrade        = "RISK_PER_TRADE"
	CheckPositionSize        = "POSITION_SIZE"
	CheckDailyLoss           = "DAILY_LOSS"
	CheckConcurrentPositions = "CONCURRENT_POSITIONS"
	CheckCorrelation         = "CORRELATION"
	CheckRegimeAlignment     = "REGIME_ALIGNMENT"
	CheckPortfolioRisk       = "PORTFOLIO_RISK"
)

// Config - пороги проверок риска. Проценты заданы долями (0.02 = 2%).
type Config struct {
	MaxRiskPerTradePercent   float64 `yaml:"max_risk_per_trade_percent"`
	MaxPositionSizePercent   float64 `yaml:"max_position_size_percent"`
	MaxDailyLossPercent      float64 `yaml:"max_daily_loss_percent"`
	MaxConcurrentPositions   int     `yaml:"max_concurrent_positions"`
	MaxCorrelatedPositions   int     `yaml:"max_correlated_positions"`
	MaxStopDistancePercent1h float64 `yaml:"max_stop_distance_percent_1h"`
	MaxStopDistancePercent4h float64 `yaml:"max_stop_distance_percent_4h"`
	MaxStopDistancePercent1d float64 `yaml:"max_stop_distance_percent_1d"`
}

// DefaultConfig возвращает пороги по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTradePercent:   0.02,
		MaxPositionSizePercent:   0.3,
		MaxDailyLossPercent:      0.05,
		MaxConcurrentPositions:   3,
		MaxCorrelatedPositions:   2,
		MaxStopDistancePercent1h: 0.05,
		MaxStopDistancePercent4h: 0.08,
		MaxStopDistancePercent1d: 0.1,
	}
}

// MaxStopDistance - предельная дистанция стопа для таймфрейма
func (c Config) MaxStopDistance(tf models.Timeframe) float64 {
	switch tf {
	case models.Timeframe1D:
		return c.MaxStopDistancePercent1d
	case models.Timeframe4H:
		return c.MaxStopDistancePercent4h
	default:
		return c.MaxStopDistancePercent1h
	}
}

// Snapshot - состояние счёта и параметры предполагаемой сделки
type Snapshot struct {
	AccountBalance               float64
	RequestedRiskPercent         float64
	RequestedPositionSizePercent float64
	EntryPrice                   float64
	StopPrice                    float64
	Timeframe                    models.Timeframe
	Direction                    models.Direction
	Regime                       models.RegimeType
	DailyLossPercent             float64
	OpenPositions                int
	CorrelatedExposureCount      int
	OpenRiskPercent              float64
}

// Failure - отказ одной проверки
type Failure struct {
	CheckID string `json:"check_id"`
	Reason  string `json:"reason"`
}

// Result - итог проверок риска
type Result struct {
	Allowed                     bool       `json:"allowed"`
	Failures                    []Failure  `json:"failures"`
	RiskAmount                  float64    `json:"risk_amount"`
	PositionSizeUnits           float64    `json:"position_size_units"`
	PositionSizeNotionalPercent float64    `json:"position_size_notional_percent"`
	Advisories                  []Advisory `json:"advisories"`
}

// Failed проверяет, есть ли отказ с данным ID
func (r Result) Failed(checkID string) bool {
	for _, f := range r.Failures {
		if f.CheckID == checkID {
			return true
		}
	}
	return false
}

// EvaluateRiskChecks рассчитывает размер позиции от суммы риска и дистанции
// стопа и прогоняет все проверки. Отказы собираются полностью, любой из
// них запрещает сделку.
func EvaluateRiskChecks(s Snapshot, cfg Config) Result {
	var (
		failures []Failure
		adv      Advisories
	)
	fail := func(id, format string, args ...interface{}) {
		failures = append(failures, Failure{CheckID: id, Reason: fmt.Sprintf(format, args...)})
	}

	riskPercent := math.Min(s.RequestedRiskPercent, cfg.MaxRiskPerTradePercent)
	riskAmount := s.AccountBalance * riskPercent
	stopDistance := math.Abs(s.EntryPrice - s.StopPrice)

	if stopDistance == 0 {
		fail(CheckStopDistance, "stop distance cannot be zero")
	}

	var units, notional float64
	if stopDistance != 0 {
		units = riskAmount / stopDistance
	}
	if s.EntryPrice != 0 && s.AccountBalance != 0 {
		notional = units * s.EntryPrice / s.AccountBalance
	}

	if s.RequestedRiskPercent > cfg.MaxRiskPerTradePercent {
		fail(CheckRiskPerTrade, "requested risk %s exceeds maximum %s",
			pct(s.RequestedRiskPercent), pct(cfg.MaxRiskPerTradePercent))
	}

	if s.RequestedPositionSizePercent > cfg.MaxPositionSizePercent {
		fail(CheckPositionSize, "requested position size %s exceeds maximum %s",
			pct(s.RequestedPositionSizePercent), pct(cfg.MaxPositionSizePercent))
	}

	if s.DailyLossPercent >= cfg.MaxDailyLossPercent {
		fail(CheckDailyLoss, "daily loss %s breaches limit %s",
			pct(s.DailyLossPercent), pct(cfg.MaxDailyLossPercent))
	}

	if s.OpenPositions >= cfg.MaxConcurrentPositions {
		fail(CheckConcurrentPositions, "concurrent positions %d reaches limit %d",
			s.OpenPositions, cfg.MaxConcurrentPositions)
	}

	if s.CorrelatedExposureCount >= cfg.MaxCorrelatedPositions {
		fail(CheckCorrelation, "correlated positions %d reaches limit %d",
			s.CorrelatedExposureCount, cfg.MaxCorrelatedPositions)
		adv.Add(Advisory{
			ID:          AdvisoryCorrelationMatrix,
			Description: "integrate correlation matrix to compute correlated exposure dynamically",
		})
	}

	if !RegimeAligned(s.Direction, s.Regime) {
		fail(CheckRegimeAlignment, "direction %s misaligned with regime %s", s.Direction, s.Regime)
	}

	var stopPercent float64
	if s.EntryPrice != 0 {
		stopPercent = stopDistance / s.EntryPrice
	}
	if maxStop := cfg.MaxStopDistance(s.Timeframe); stopPercent > maxStop {
		fail(CheckStopDistance, "stop distance %s exceeds maximum %s", pct(stopPercent), pct(maxStop))
	}

	if s.OpenRiskPercent+riskPercent > cfg.MaxRiskPerTradePercent*float64(cfg.MaxConcurrentPositions) {
		fail(CheckPortfolioRisk, "total open risk %s exceeds allowed aggregate", pct(s.OpenRiskPercent+riskPercent))
	}

	if s.Regime == models.RegimeVolatile {
		adv.Add(Advisory{
			ID:          AdvisoryVolatilityNormalization,
			Description: "hook volatility feed to auto-toggle risk limits during volatile regimes",
		})
	}

	return Result{
		Allowed:                     len(failures) == 0,
		Failures:                    failures,
		RiskAmount:                  riskAmount,
		PositionSizeUnits:           units,
		PositionSizeNotionalPercent: notional,
		Advisories:                  adv.Items(),
	}
}

// RegimeAligned: в VOLATILE и DEAD не торгуем, против тренда тоже
func RegimeAligned(direction models.Direction, regime models.RegimeType) bool {
	switch regime {
	case models.RegimeVolatile, models.RegimeDead:
		return false
	case models.RegimeTrendingUp:
		return direction != models.DirectionShort
	case models.RegimeTrendingDown:
		return direction != models.DirectionLong
	}
	return true
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
