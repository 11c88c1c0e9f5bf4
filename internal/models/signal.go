package models

import "time"

// SignalType - вид сигнала
type SignalType string

const (
	SignalRSIOverbought    SignalType = "RSI_OVERBOUGHT"
	SignalRSIOversold      SignalType = "RSI_OVERSOLD"
	SignalVolumeSpike      SignalType = "VOLUME_SPIKE"
	SignalVolumeDecline    SignalType = "VOLUME_DECLINE"
	SignalRejectionWick    SignalType = "REJECTION_WICK"
	SignalPriceLevelBreak  SignalType = "PRICE_LEVEL_BREAK"
	SignalMACDDivergence   SignalType = "MACD_DIVERGENCE"
	SignalTrendAlignment   SignalType = "TREND_ALIGNMENT"
	SignalPriceInEntryZone SignalType = "PRICE_IN_ENTRY_ZONE"
)

// SignalTypes - все виды сигналов
var SignalTypes = []SignalType{
	SignalRSIOverbought, SignalRSIOversold, SignalVolumeSpike, SignalVolumeDecline,
	SignalRejectionWick, SignalPriceLevelBreak, SignalMACDDivergence,
	SignalTrendAlignment, SignalPriceInEntryZone,
}

// SignalRole - роль сигнала в сетапе
type SignalRole string

const (
	RoleTrigger      SignalRole = "TRIGGER"
	RoleConfirmation SignalRole = "CONFIRMATION"
	RoleContext      SignalRole = "CONTEXT"
)

// Signal - сигнал, привязанный ровно к одному сетапу
type Signal struct {
	ID              int64      `json:"id" db:"id"`
	SetupID         int64      `json:"setup_id" db:"setup_id"`
	Type            SignalType `json:"signal_type" db:"signal_type"`
	Role            SignalRole `json:"signal_role" db:"signal_role"`
	DetectedOn      Timeframe  `json:"detected_on_timeframe" db:"detected_on_timeframe"`
	FiredAt         time.Time  `json:"fired_at" db:"fired_at"`
	Value           *float64   `json:"value,omitempty" db:"value"`
	Threshold       *float64   `json:"threshold,omitempty" db:"threshold"`
	Confidence      float64    `json:"confidence" db:"confidence"`
	StillValid      bool       `json:"still_valid" db:"still_valid"`
	RequiresRecheck bool       `json:"requires_recheck" db:"requires_recheck"`
	LastRecheckedAt *time.Time `json:"last_rechecked_at,omitempty" db:"last_rechecked_at"`
	InvalidatedAt   *time.Time `json:"invalidated_at,omitempty" db:"invalidated_at"`
	Parameters      Metadata   `json:"parameters,omitempty" db:"parameters"`
}

// IsKnownSignalType проверяет, что тип сигнала поддерживается
func IsKnownSignalType(t SignalType) bool {
	for _, known := range SignalTypes {
		if known == t {
			return true
		}
	}
	return false
}

// RecheckSignal - сигнал вместе с инструментом сетапа, для перепроверки
type RecheckSignal struct {
	Signal
	InstrumentID int64  `json:"instrument_id" db:"instrument_id"`
	Symbol       string `json:"symbol" db:"symbol"`
}
