package execution

import (
	"tradecore/internal/models"
	"tradecore/internal/risk"
)

// Запасные дистанции от середины зоны, когда у сетапа нет своих уровней
const (
	FallbackStopPercent       = 0.02
	FallbackTakeProfitPercent = 0.03
)

// Пометки о подставленных уровнях
const (
	AdvisorySetupStop              = "TODO_SETUP_STOP"
	AdvisorySetupTakeProfit1       = "TODO_SETUP_TAKE_PROFIT_1"
	AdvisorySetupTakeProfit2       = "TODO_SETUP_TAKE_PROFIT_2"
	AdvisorySetupTakeProfitDefault = "TODO_SETUP_TAKE_PROFIT_DEFAULT"
)

// StopResolution - стоп сетапа или подставленный
type StopResolution struct {
	Value        float64
	FallbackUsed bool
	Advisories   []risk.Advisory
}

// ResolveStopLoss берёт стоп сетапа. Если его нет, стоп ставится на 2%
// от середины зоны против позиции и помечается пометкой.
func ResolveStopLoss(s *models.Setup, mid float64) StopResolution {
	if s.StopLoss != nil {
		return StopResolution{Value: *s.StopLoss}
	}

	distance := mid * FallbackStopPercent
	value := mid - distance
	if s.IsShort() {
		value = mid + distance
	}
	return StopResolution{
		Value:        value,
		FallbackUsed: true,
		Advisories: []risk.Advisory{{
			ID:          AdvisorySetupStop,
			Description: "persist stop loss before promoting setup to triggerable state",
		}},
	}
}

// TargetsResolution - уровни целей и пометки о пропусках
type TargetsResolution struct {
	Levels     []float64
	Advisories []risk.Advisory
}

// ResolveTakeProfits собирает цели сетапа. Отсутствие TP1 или TP2
// помечается. Если целей нет совсем, ставится одна цель на 3% от середины.
func ResolveTakeProfits(s *models.Setup, mid float64) TargetsResolution {
	var res TargetsResolution

	if s.TakeProfit1 != nil {
		res.Levels = append(res.Levels, *s.TakeProfit1)
	} else {
		res.Advisories = append(res.Advisories, risk.Advisory{
			ID:          AdvisorySetupTakeProfit1,
			Description: "persist take profit 1 before promoting setup to triggerable state",
		})
	}

	if s.TakeProfit2 != nil {
		res.Levels = append(res.Levels, *s.TakeProfit2)
	} else {
		res.Advisories = append(res.Advisories, risk.Advisory{
			ID:          AdvisorySetupTakeProfit2,
			Description: "persist take profit 2 before promoting setup to triggerable state",
		})
	}

	if s.TakeProfit3 != nil {
		res.Levels = append(res.Levels, *s.TakeProfit3)
	}

	if len(res.Levels) == 0 {
		distance := mid * FallbackTakeProfitPercent
		level := mid + distance
		if s.IsShort() {
			level = mid - distance
		}
		res.Levels = append(res.Levels, level)
		res.Advisories = append(res.Advisories, risk.Advisory{
			ID:          AdvisorySetupTakeProfitDefault,
			Description: "default take profit used, calculate levels from setup type",
		})
	}
	return res
}
