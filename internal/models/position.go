package models

import "time"

// PositionStatus - статус позиции
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Причины закрытия позиции
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitTimeout    = "timeout"
	ExitFlatten    = "flatten"
	ExitManual     = "manual"
)

// Position - позиция, открытая по сработавшему сетапу
type Position struct {
	ID                 int64          `json:"id" db:"id"`
	SetupID            int64          `json:"setup_id" db:"setup_id"`
	InstrumentID       int64          `json:"instrument_id" db:"instrument_id"`
	Symbol             string         `json:"symbol" db:"symbol"`
	Direction          Direction      `json:"direction" db:"direction"`
	Timeframe          Timeframe      `json:"timeframe" db:"timeframe"`
	EntryPrice         float64        `json:"entry_price" db:"entry_price"`
	ExitPrice          *float64       `json:"exit_price,omitempty" db:"exit_price"`
	Size               float64        `json:"size" db:"size"`
	StopPrice          float64        `json:"stop_price" db:"stop_price"`
	PNL                float64        `json:"pnl" db:"pnl"`
	PNLPercent         float64        `json:"pnl_percent" db:"pnl_percent"`
	Status             PositionStatus `json:"status" db:"status"`
	ExitReason         string         `json:"exit_reason,omitempty" db:"exit_reason"`
	EntryOrderID       string         `json:"entry_order_id,omitempty" db:"entry_order_id"`
	StopOrderID        string         `json:"stop_order_id,omitempty" db:"stop_order_id"`
	// TakeProfitOrderIDs - выставленные лимитные цели, снимаются при закрытии
	TakeProfitOrderIDs []string       `json:"take_profit_order_ids,omitempty" db:"take_profit_order_ids"`
	BreakevenMoved     bool           `json:"breakeven_moved" db:"breakeven_moved"`
	TrailingActive     bool           `json:"trailing_active" db:"trailing_active"`
	OpenedAt           time.Time      `json:"opened_at" db:"opened_at"`
	ClosedAt           *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
}

// IsShort - короткая позиция
func (p *Position) IsShort() bool {
	return p.Direction == DirectionShort
}

// RiskContext - агрегаты по позициям для риск-проверок
type RiskContext struct {
	DailyLossPercent    float64 `json:"daily_loss_percent"`
	OpenPositions       int     `json:"open_positions"`
	CorrelatedPositions int     `json:"correlated_positions"`
	OpenRiskPercent     float64 `json:"open_risk_percent"`
	ConsecutiveLosses   int     `json:"consecutive_losses"`
}
