package models

import (
	"errors"
	"fmt"
	"time"
)

// SetupType - тип торгового сетапа
type SetupType string

const (
	SetupResistanceRejection SetupType = "RESISTANCE_REJECTION"
	SetupSupportBreakdown    SetupType = "SUPPORT_BREAKDOWN"
	SetupRetestShort         SetupType = "RETEST_SHORT"
	SetupTrendContinuation   SetupType = "TREND_CONTINUATION"
	SetupMeanReversion       SetupType = "MEAN_REVERSION"
)

// Direction - направление сделки
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// SetupState - состояние жизненного цикла сетапа
type SetupState string

const (
	SetupForming     SetupState = "FORMING"
	SetupActive      SetupState = "ACTIVE"
	SetupTriggered   SetupState = "TRIGGERED"
	SetupInvalidated SetupState = "INVALIDATED"
	SetupExpired     SetupState = "EXPIRED"
)

// ActiveSetupStates - состояния, в которых сетап ещё развивается
var ActiveSetupStates = []SetupState{SetupForming, SetupActive}

// IsTerminal - из INVALIDATED и EXPIRED выхода нет
func (s SetupState) IsTerminal() bool {
	return s == SetupInvalidated || s == SetupExpired
}

// InvalidationReason - причина инвалидации сетапа
type InvalidationReason string

const (
	ReasonPriceMovedTooLow     InvalidationReason = "PRICE_MOVED_TOO_LOW"
	ReasonResistanceBroken     InvalidationReason = "RESISTANCE_BROKEN"
	ReasonSupportBroken        InvalidationReason = "SUPPORT_BROKEN"
	ReasonLeftEntryZoneTooLong InvalidationReason = "LEFT_ENTRY_ZONE_TOO_LONG"
	ReasonContextRegimeChanged InvalidationReason = "CONTEXT_REGIME_CHANGED"
	ReasonDailyTrendMisaligned InvalidationReason = "DAILY_TREND_MISALIGNED"
	ReasonVolatilitySpike      InvalidationReason = "VOLATILITY_SPIKE"
	ReasonRiskRejected         InvalidationReason = "RISK_REJECTED"
)

// Значения по умолчанию
const DefaultRequiredConfirmations = 3

// ErrInvalidEntryZone - нижняя граница зоны выше верхней
var ErrInvalidEntryZone = errors.New("entry zone low must not exceed high")

// Setup - торговый сетап
type Setup struct {
	ID                     int64              `json:"id" db:"id"`
	InstrumentID           int64              `json:"instrument_id" db:"instrument_id"`
	Symbol                 string             `json:"symbol" db:"symbol"`
	Type                   SetupType          `json:"setup_type" db:"setup_type"`
	Direction              Direction          `json:"direction" db:"direction"`
	EntryTimeframe         Timeframe          `json:"entry_timeframe" db:"entry_timeframe"`
	ContextTimeframe       Timeframe          `json:"context_timeframe,omitempty" db:"context_timeframe"`
	State                  SetupState         `json:"state" db:"state"`
	EntryZoneLow           float64            `json:"entry_zone_low" db:"entry_zone_low"`
	EntryZoneHigh          float64            `json:"entry_zone_high" db:"entry_zone_high"`
	StopLoss               *float64           `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit1            *float64           `json:"take_profit_1,omitempty" db:"take_profit_1"`
	TakeProfit2            *float64           `json:"take_profit_2,omitempty" db:"take_profit_2"`
	TakeProfit3            *float64           `json:"take_profit_3,omitempty" db:"take_profit_3"`
	RequiredConfirmations  int                `json:"required_confirmations" db:"required_confirmations"`
	FormingDurationMinutes int                `json:"forming_duration_minutes" db:"forming_duration_minutes"`
	ActiveDurationMinutes  int                `json:"active_duration_minutes" db:"active_duration_minutes"`
	CandlesElapsed         int                `json:"candles_elapsed" db:"candles_elapsed"`
	RegimeID               *int64             `json:"regime_id,omitempty" db:"regime_id"`
	ContextRegimeID        *int64             `json:"context_regime_id,omitempty" db:"context_regime_id"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	ActivatedAt            *time.Time         `json:"activated_at,omitempty" db:"activated_at"`
	TriggeredAt            *time.Time         `json:"triggered_at,omitempty" db:"triggered_at"`
	ExpiresAt              time.Time          `json:"expires_at" db:"expires_at"`
	InvalidatedAt          *time.Time         `json:"invalidated_at,omitempty" db:"invalidated_at"`
	InvalidationReason     InvalidationReason `json:"invalidation_reason,omitempty" db:"invalidation_reason"`
	Parameters             Metadata           `json:"parameters,omitempty" db:"parameters"`
}

// Validate проверяет инварианты сетапа
func (s *Setup) Validate() error {
	if s.EntryZoneLow > s.EntryZoneHigh {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidEntryZone, s.EntryZoneLow, s.EntryZoneHigh)
	}
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}
	if _, err := ParseTimeframe(string(s.EntryTimeframe)); err != nil {
		return err
	}
	if s.RequiredConfirmations < 0 {
		return fmt.Errorf("required confirmations must be non-negative, got %d", s.RequiredConfirmations)
	}
	return SetupParametersSchema.Validate(s.Parameters)
}

// InEntryZone - цена внутри зоны входа (границы включены)
func (s *Setup) InEntryZone(price float64) bool {
	return price >= s.EntryZoneLow && price <= s.EntryZoneHigh
}

// Mid - середина зоны входа
func (s *Setup) Mid() float64 {
	return (s.EntryZoneLow + s.EntryZoneHigh) / 2
}

// IsShort - сетап на продажу
func (s *Setup) IsShort() bool {
	return s.Direction == DirectionShort
}

// Float возвращает указатель на значение (для nullable полей)
func Float(v float64) *float64 {
	return &v
}
