package market

import (
	"sort"

	"tradecore/internal/models"
)

// Параметры поиска уровней
const (
	PivotWindow       = 2
	LevelMergePercent = 0.005
	LevelBreakPercent = 0.01
)

// DetectLevels находит уровни сопротивления и поддержки по локальным
// экстремумам. Близкие экстремумы (в пределах 0.5%) сливаются в один уровень,
// сила уровня - число касаний. Уровень, закрытие за который превысило 1%,
// помечается недействующим.
func DetectLevels(instrumentID int64, tf models.Timeframe, candles []models.Candle) []models.PriceLevel {
	if len(candles) < 2*PivotWindow+1 {
		return nil
	}

	var levels []models.PriceLevel
	add := func(price float64, typ models.PriceLevelType) {
		for i := range levels {
			l := &levels[i]
			if l.Type == typ && abs(l.Price-price)/l.Price <= LevelMergePercent {
				l.Price = (l.Price*float64(l.Tests) + price) / float64(l.Tests+1)
				l.Tests++
				l.Strength = float64(l.Tests)
				return
			}
		}
		levels = append(levels, models.PriceLevel{
			InstrumentID: instrumentID,
			Timeframe:    tf,
			Price:        price,
			Type:         typ,
			Strength:     1,
			Tests:        1,
			StillValid:   true,
		})
	}

	for i := PivotWindow; i < len(candles)-PivotWindow; i++ {
		if isPivotHigh(candles, i) {
			add(candles[i].High, models.LevelResistance)
		}
		if isPivotLow(candles, i) {
			add(candles[i].Low, models.LevelSupport)
		}
	}

	last := candles[len(candles)-1].Close
	for i := range levels {
		l := &levels[i]
		switch l.Type {
		case models.LevelResistance:
			l.StillValid = last <= l.Price*(1+LevelBreakPercent)
		case models.LevelSupport:
			l.StillValid = last >= l.Price*(1-LevelBreakPercent)
		}
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

func isPivotHigh(candles []models.Candle, i int) bool {
	for j := i - PivotWindow; j <= i+PivotWindow; j++ {
		if j != i && candles[j].High >= candles[i].High {
			return false
		}
	}
	return true
}

func isPivotLow(candles []models.Candle, i int) bool {
	for j := i - PivotWindow; j <= i+PivotWindow; j++ {
		if j != i && candles[j].Low <= candles[i].Low {
			return false
		}
	}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
