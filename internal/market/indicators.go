package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/evdnx/goti"

	"tradecore/internal/models"
)

// Периоды индикаторов
const (
	EMAFastPeriod  = 20
	EMASlowPeriod  = 50
	VolumeMAPeriod = 20
	ATRPeriod      = 14

	// RSI считается goti с периодом по умолчанию (14)
	RSIOverbought = 65
	RSIOversold   = 35
)

// ErrNotEnoughCandles - истории не хватает ни для одного индикатора
var ErrNotEnoughCandles = errors.New("not enough candles for indicators")

// Indicators - значения индикаторов по последней закрытой свече.
// nil означает, что для индикатора не хватило истории.
type Indicators struct {
	RSI        *float64 `json:"rsi,omitempty"`
	EMA20      *float64 `json:"ema20,omitempty"`
	EMA50      *float64 `json:"ema50,omitempty"`
	VolumeMA20 *float64 `json:"volume_ma20,omitempty"`
	ATR        *float64 `json:"atr,omitempty"`
	// ATRBaseline - средний размах за всю переданную историю
	ATRBaseline *float64 `json:"atr_baseline,omitempty"`
}

// MarketData - срез рынка для ревалидации и детекции сигналов
type MarketData struct {
	Price         float64
	Candle        models.Candle
	RecentCandles []models.Candle
	Indicators    Indicators
}

// ComputeIndicators считает индикаторы по свечам от старых к новым
func ComputeIndicators(candles []models.Candle) (Indicators, error) {
	var ind Indicators
	if len(candles) == 0 {
		return ind, ErrNotEnoughCandles
	}

	rsi, err := computeRSI(candles)
	if err == nil && !math.IsNaN(rsi) && !math.IsInf(rsi, 0) {
		ind.RSI = &rsi
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	if v, ok := EMA(closes, EMAFastPeriod); ok {
		ind.EMA20 = &v
	}
	if v, ok := EMA(closes, EMASlowPeriod); ok {
		ind.EMA50 = &v
	}
	if v, ok := SMA(volumes, VolumeMAPeriod); ok {
		ind.VolumeMA20 = &v
	}
	if v, ok := ATR(candles, ATRPeriod); ok {
		ind.ATR = &v
	}
	if v, ok := ATR(candles, len(candles)-1); ok {
		ind.ATRBaseline = &v
	}
	return ind, nil
}

// computeRSI прогоняет свечи через индикаторный набор goti
func computeRSI(candles []models.Candle) (float64, error) {
	ic := goti.DefaultConfig()
	ic.RSIOverbought = RSIOverbought
	ic.RSIOversold = RSIOversold

	suite, err := goti.NewIndicatorSuiteWithConfig(ic)
	if err != nil {
		return 0, fmt.Errorf("indicator suite: %w", err)
	}
	for _, c := range candles {
		if err := suite.Add(c.High, c.Low, c.Close, c.Volume); err != nil {
			return 0, fmt.Errorf("add candle %s: %w", c.OpenTime.Format("2006-01-02T15:04"), err)
		}
	}
	return suite.GetRSI().Calculate()
}

// EMA - экспоненциальная средняя goti, засеянная SMA первых period значений
func EMA(values []float64, period int) (float64, bool) {
	return movingAverage(goti.EMAMovingAverage, values, period)
}

// SMA - простая средняя последних period значений
func SMA(values []float64, period int) (float64, bool) {
	return movingAverage(goti.SMAMovingAverage, values, period)
}

func movingAverage(kind goti.MovingAverageType, values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	ma, err := goti.NewMovingAverage(kind, period)
	if err != nil {
		return 0, false
	}
	for _, v := range values {
		if err := ma.AddValue(v); err != nil {
			return 0, false
		}
	}
	v, err := ma.Calculate()
	return v, err == nil
}

// ATR - средний истинный диапазон последних period свечей
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	atr, err := goti.NewAverageTrueRangeWithParams(period, goti.WithCloseValidation(false))
	if err != nil {
		return 0, false
	}
	for _, c := range candles {
		if err := atr.AddCandle(c.High, c.Low, c.Close); err != nil {
			return 0, false
		}
	}
	v, err := atr.Calculate()
	return v, err == nil
}
