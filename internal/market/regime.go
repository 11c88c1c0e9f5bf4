package market

import (
	"time"

	"tradecore/internal/models"
)

// RegimeConfig - пороги классификатора режима
type RegimeConfig struct {
	// VolatileRatio: ATR/базовый ATR выше - VOLATILE
	VolatileRatio float64 `yaml:"volatile_ratio"`
	// DeadRatio: ATR/базовый ATR ниже - DEAD
	DeadRatio float64 `yaml:"dead_ratio"`
	// TrendThreshold: |EMA20-EMA50|/EMA50 выше - тренд
	TrendThreshold float64 `yaml:"trend_threshold"`
	// RangeThreshold: |EMA20-EMA50|/EMA50 ниже - боковик
	RangeThreshold float64 `yaml:"range_threshold"`
}

// DefaultRegimeConfig - пороги по умолчанию
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		VolatileRatio:  2.0,
		DeadRatio:      0.4,
		TrendThreshold: 0.01,
		RangeThreshold: 0.003,
	}
}

// ClassifierName записывается в параметры режима
const ClassifierName = "ema_atr"

// Classification - результат классификатора
type Classification struct {
	Type          models.RegimeType
	TrendStrength float64
	PriceVsMA     float64
	Volatility    float64
	// VolatilityRatio - ATR к базовому ATR; 1 при нехватке истории
	VolatilityRatio float64
}

// ClassifyRegime определяет режим по индикаторам и цене закрытия.
// Без EMA50 режим NEUTRAL.
func ClassifyRegime(ind Indicators, price float64, cfg RegimeConfig) Classification {
	c := Classification{Type: models.RegimeNeutral, VolatilityRatio: 1}

	if ind.ATR != nil && price > 0 {
		c.Volatility = *ind.ATR / price
	}
	if ind.ATR != nil && ind.ATRBaseline != nil && *ind.ATRBaseline > 0 {
		c.VolatilityRatio = *ind.ATR / *ind.ATRBaseline
	}

	if ind.EMA20 == nil || ind.EMA50 == nil || *ind.EMA50 == 0 {
		return c
	}
	ema20, ema50 := *ind.EMA20, *ind.EMA50
	c.TrendStrength = abs(ema20-ema50) / ema50
	c.PriceVsMA = (price - ema50) / ema50

	switch {
	case c.VolatilityRatio >= cfg.VolatileRatio:
		c.Type = models.RegimeVolatile
	case c.VolatilityRatio <= cfg.DeadRatio:
		c.Type = models.RegimeDead
	case c.TrendStrength >= cfg.TrendThreshold && ema20 > ema50 && price > ema20:
		c.Type = models.RegimeTrendingUp
	case c.TrendStrength >= cfg.TrendThreshold && ema20 < ema50 && price < ema20:
		c.Type = models.RegimeTrendingDown
	case c.TrendStrength <= cfg.RangeThreshold:
		c.Type = models.RegimeRanging
	}
	return c
}

// NewRegime строит запись режима из классификации
func NewRegime(instrumentID int64, tf models.Timeframe, c Classification, ind Indicators, now time.Time) *models.MarketRegime {
	params := models.Metadata{
		"atr_ratio":  c.VolatilityRatio,
		"classifier": ClassifierName,
	}
	if ind.EMA20 != nil {
		params["ema20"] = *ind.EMA20
	}
	if ind.EMA50 != nil {
		params["ema50"] = *ind.EMA50
	}
	if ind.RSI != nil {
		params["rsi"] = *ind.RSI
	}

	return &models.MarketRegime{
		InstrumentID:  instrumentID,
		Timeframe:     tf,
		Type:          c.Type,
		TrendStrength: c.TrendStrength,
		PriceVsMA:     c.PriceVsMA,
		Volatility:    c.Volatility,
		StillActive:   true,
		StartedAt:     now,
		Parameters:    params,
	}
}

// SameRegime - новая классификация не меняет текущий режим
func SameRegime(current *models.MarketRegime, c Classification) bool {
	return current != nil && current.StillActive && current.Type == c.Type
}
