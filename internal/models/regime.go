package models

import "time"

// RegimeType - рыночный режим
type RegimeType string

const (
	RegimeTrendingUp   RegimeType = "TRENDING_UP"
	RegimeTrendingDown RegimeType = "TRENDING_DOWN"
	RegimeRanging      RegimeType = "RANGING"
	RegimeVolatile     RegimeType = "VOLATILE"
	RegimeDead         RegimeType = "DEAD"
	RegimeNeutral      RegimeType = "NEUTRAL"
)

// MarketRegime - режим рынка по инструменту и таймфрейму.
// Активным может быть только один режим на пару инструмент+таймфрейм.
type MarketRegime struct {
	ID            int64      `json:"id" db:"id"`
	InstrumentID  int64      `json:"instrument_id" db:"instrument_id"`
	Timeframe     Timeframe  `json:"timeframe" db:"timeframe"`
	Type          RegimeType `json:"regime_type" db:"regime_type"`
	TrendStrength float64    `json:"trend_strength" db:"trend_strength"`
	PriceVsMA     float64    `json:"price_vs_ma" db:"price_vs_ma"`
	Volatility    float64    `json:"volatility" db:"volatility"`
	StillActive   bool       `json:"still_active" db:"still_active"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Parameters    Metadata   `json:"parameters,omitempty" db:"parameters"`
}
