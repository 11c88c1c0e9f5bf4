// Package setup - жизненный цикл торгового сетапа:
// FORMING -> ACTIVE -> TRIGGERED, с выходом в INVALIDATED или EXPIRED.
package setup

import (
	"fmt"

	"tradecore/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями.
// INVALIDATED и EXPIRED терминальны, из TRIGGERED сетап больше не двигается.
var ValidTransitions = map[models.SetupState][]models.SetupState{
	models.SetupForming:     {models.SetupActive, models.SetupInvalidated, models.SetupExpired},
	models.SetupActive:      {models.SetupTriggered, models.SetupInvalidated, models.SetupExpired},
	models.SetupTriggered:   {},
	models.SetupInvalidated: {},
	models.SetupExpired:     {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.SetupState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Пороги инвалидации
const (
	AdverseMovePercent    = 0.03
	OutOfZoneMaxMinutes   = 120
	MinSignalsForActivate = 2
)

// EvalInput - данные для оценки перехода
type EvalInput struct {
	State                  models.SetupState
	Price                  float64
	ZoneLow                float64
	ZoneHigh               float64
	RequiredConfirmations  int
	ValidSignals           int
	MinutesSinceCreation   int
	FormingDurationMinutes int
}

// InputFor собирает EvalInput из сетапа
func InputFor(s *models.Setup, price float64, validSignals, minutesSinceCreation int) EvalInput {
	return EvalInput{
		State:                  s.State,
		Price:                  price,
		ZoneLow:                s.EntryZoneLow,
		ZoneHigh:               s.EntryZoneHigh,
		RequiredConfirmations:  s.RequiredConfirmations,
		ValidSignals:           validSignals,
		MinutesSinceCreation:   minutesSinceCreation,
		FormingDurationMinutes: s.FormingDurationMinutes,
	}
}

// Evaluate возвращает следующее состояние; если условия не выполнены,
// состояние не меняется
func Evaluate(in EvalInput) models.SetupState {
	inZone := in.Price >= in.ZoneLow && in.Price <= in.ZoneHigh

	switch in.State {
	case models.SetupForming:
		if inZone && in.MinutesSinceCreation >= in.FormingDurationMinutes && in.ValidSignals >= MinSignalsForActivate {
			return models.SetupActive
		}
	case models.SetupActive:
		if inZone && in.ValidSignals >= in.RequiredConfirmations {
			return models.SetupTriggered
		}
	}
	return in.State
}

// CheckInvalidation проверяет ценовые условия инвалидации.
// Уход ниже зоны на 3%: для лонга пробой поддержки, для шорта движение против
// позиции. Уход выше зоны на 3% инвалидирует только шорт.
func CheckInvalidation(price, zoneLow, zoneHigh float64, direction models.Direction, minutesSinceActivation int) (models.InvalidationReason, bool) {
	if price < zoneLow*(1-AdverseMovePercent) {
		if direction == models.DirectionLong {
			return models.ReasonSupportBroken, true
		}
		return models.ReasonPriceMovedTooLow, true
	}
	if direction == models.DirectionShort && price > zoneHigh*(1+AdverseMovePercent) {
		return models.ReasonResistanceBroken, true
	}

	inZone := price >= zoneLow && price <= zoneHigh
	if !inZone && minutesSinceActivation > OutOfZoneMaxMinutes {
		return models.ReasonLeftEntryZoneTooLong, true
	}
	return "", false
}

// ============================================================
// Проверки контекста
// ============================================================

// ContextResult - итог проверки контекста
type ContextResult struct {
	Valid  bool
	Reason string
}

// CheckContext: режим старшего таймфрейма, в котором создан сетап,
// должен оставаться текущим и активным. Отсутствие данных о режиме
// сетап не инвалидирует.
func CheckContext(setupRegimeID int64, current *models.MarketRegime) ContextResult {
	if current == nil {
		return ContextResult{Valid: true}
	}
	if current.ID != setupRegimeID {
		return ContextResult{Reason: "context regime has changed"}
	}
	if !current.StillActive {
		return ContextResult{Reason: "context regime no longer active"}
	}
	return ContextResult{Valid: true}
}

// CheckDailyTrend запрещает шорт в дневном аптренде и лонг в даунтренде
func CheckDailyTrend(direction models.Direction, daily *models.MarketRegime) ContextResult {
	if daily == nil {
		return ContextResult{Valid: true}
	}
	switch {
	case direction == models.DirectionShort && daily.Type == models.RegimeTrendingUp:
		return ContextResult{Reason: "cannot short in strong daily uptrend"}
	case direction == models.DirectionLong && daily.Type == models.RegimeTrendingDown:
		return ContextResult{Reason: "cannot long in strong daily downtrend"}
	}
	return ContextResult{Valid: true}
}

// CheckVolatility - текущая волатильность не выше normal*multiplier
func CheckVolatility(current, normal, multiplier float64) ContextResult {
	if normal > 0 && current > normal*multiplier {
		return ContextResult{Reason: fmt.Sprintf("volatility spike detected: %.2fx normal", current/normal)}
	}
	return ContextResult{Valid: true}
}

// CheckPriceLevelStrength - уровень существует, ещё действует и достаточно силён
func CheckPriceLevelStrength(level *models.PriceLevel, minStrength float64) ContextResult {
	switch {
	case level == nil:
		return ContextResult{Reason: "price level not found"}
	case !level.StillValid:
		return ContextResult{Reason: "price level no longer valid"}
	case level.Strength < minStrength:
		return ContextResult{Reason: fmt.Sprintf("price level strength %.0f below minimum %.0f", level.Strength, minStrength)}
	}
	return ContextResult{Valid: true}
}
