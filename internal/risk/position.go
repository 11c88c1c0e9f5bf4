package risk

import (
	"time"

	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// PositionConfig - правила сопровождения открытой позиции
type PositionConfig struct {
	MaxHoldHours1h               float64 `yaml:"max_hold_hours_1h"`
	MaxHoldHours4h               float64 `yaml:"max_hold_hours_4h"`
	BreakevenThresholdPercent    float64 `yaml:"breakeven_threshold_percent"`
	TrailingStopThresholdPercent float64 `yaml:"trailing_stop_threshold_percent"`
	TrailingStopDistancePercent  float64 `yaml:"trailing_stop_distance_percent"`
	TimeoutMaxPNLPercent         float64 `yaml:"timeout_max_pnl_percent"`
}

// DefaultPositionConfig возвращает правила по умолчанию
func DefaultPositionConfig() PositionConfig {
	return PositionConfig{
		MaxHoldHours1h:               24,
		MaxHoldHours4h:               72,
		BreakevenThresholdPercent:    0.03,
		TrailingStopThresholdPercent: 0.05,
		TrailingStopDistancePercent:  0.02,
		TimeoutMaxPNLPercent:         0.10,
	}
}

// ShouldMoveStopToBreakeven - прибыль выше порога безубытка
func ShouldMoveStopToBreakeven(pnlPercent float64, cfg PositionConfig) bool {
	return pnlPercent > cfg.BreakevenThresholdPercent
}

// ShouldEnableTrailingStop - прибыль выше порога трейлинга
func ShouldEnableTrailingStop(pnlPercent float64, cfg PositionConfig) bool {
	return pnlPercent > cfg.TrailingStopThresholdPercent
}

// TrailingStopPrice - стоп на фиксированной дистанции от текущей цены
func TrailingStopPrice(price float64, direction models.Direction, cfg PositionConfig) float64 {
	distance := price * cfg.TrailingStopDistancePercent
	if direction == models.DirectionShort {
		return price + distance
	}
	return price - distance
}

// ShouldCloseOnTimeout - позиция держится дольше лимита таймфрейма и
// прибыль не достигла TimeoutMaxPNLPercent
func ShouldCloseOnTimeout(holdHours float64, tf models.Timeframe, pnlPercent float64, cfg PositionConfig) bool {
	maxHold := cfg.MaxHoldHours4h
	if tf == models.Timeframe1H {
		maxHold = cfg.MaxHoldHours1h
	}
	return holdHours > maxHold && pnlPercent < cfg.TimeoutMaxPNLPercent
}

// PNLPercent - доходность позиции при текущей цене
func PNLPercent(p *models.Position, price float64) float64 {
	return utils.UnrealizedPNLPercent(p.IsShort(), p.EntryPrice, price)
}

// ActionKind - действие по позиции
type ActionKind string

const (
	ActionNone      ActionKind = "NONE"
	ActionBreakeven ActionKind = "BREAKEVEN"
	ActionTrail     ActionKind = "TRAIL"
	ActionClose     ActionKind = "CLOSE"
)

// Action - решение по открытой позиции
type Action struct {
	Kind       ActionKind
	StopPrice  float64
	PNLPercent float64
	Reason     string
}

// ManagePosition решает, что делать с позицией: закрыть по таймауту,
// подтянуть трейлинг-стоп или перенести стоп в безубыток. Стоп двигается
// только в сторону прибыли.
func ManagePosition(p *models.Position, price float64, now time.Time, cfg PositionConfig) Action {
	pnl := PNLPercent(p, price)
	hold := now.Sub(p.OpenedAt).Hours()

	if ShouldCloseOnTimeout(hold, p.Timeframe, pnl, cfg) {
		return Action{Kind: ActionClose, PNLPercent: pnl, Reason: models.ExitTimeout}
	}

	improves := func(stop float64) bool {
		if p.IsShort() {
			return stop < p.StopPrice
		}
		return stop > p.StopPrice
	}

	if ShouldEnableTrailingStop(pnl, cfg) {
		stop := TrailingStopPrice(price, p.Direction, cfg)
		if improves(stop) {
			return Action{Kind: ActionTrail, StopPrice: stop, PNLPercent: pnl}
		}
		return Action{Kind: ActionNone, PNLPercent: pnl}
	}

	if !p.BreakevenMoved && ShouldMoveStopToBreakeven(pnl, cfg) && improves(p.EntryPrice) {
		return Action{Kind: ActionBreakeven, StopPrice: p.EntryPrice, PNLPercent: pnl}
	}
	return Action{Kind: ActionNone, PNLPercent: pnl}
}
