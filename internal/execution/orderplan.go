// Package execution строит план ордеров по сработавшему сетапу:
// лимитный вход, стоп-лимит и лимитные цели.
package execution

import (
	"tradecore/internal/models"
	"tradecore/internal/risk"
)

// Пометки плана
const (
	AdvisoryConfigureTargets = "TODO_CONFIGURE_TARGETS"
	AdvisoryOrderRouting     = "TODO_ORDER_ROUTING"
)

// PlanConfig - параметры плана ордеров
type PlanConfig struct {
	EntryOffsetPercent     float64   `yaml:"entry_offset_percent"`
	StopLimitOffsetPercent float64   `yaml:"stop_limit_offset_percent"`
	TakeProfitAllocations  []float64 `yaml:"take_profit_allocations"`
	RouterAttached         bool      `yaml:"-"`
}

// DefaultPlanConfig: вход на 0.02% лучше середины зоны, лимит стопа на 0.3%
// за стопом, цели делят объём 50/25/25
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		EntryOffsetPercent:     0.0002,
		StopLimitOffsetPercent: 0.003,
		TakeProfitAllocations:  []float64{0.5, 0.25, 0.25},
	}
}

// PlanInput - исходные данные плана
type PlanInput struct {
	Symbol           string
	MidPrice         float64
	StopLoss         float64
	TakeProfitLevels []float64
	Direction        models.Direction
	Quantity         float64
}

// Plan - набор ордеров для одной сделки
type Plan struct {
	Entry      models.OrderIntent   `json:"entry"`
	Stop       models.OrderIntent   `json:"stop"`
	Targets    []models.OrderIntent `json:"targets"`
	Advisories []risk.Advisory      `json:"advisories"`
}

// Sides возвращает сторону входа и сторону выхода
func Sides(direction models.Direction) (entry, exit models.OrderSide) {
	if direction == models.DirectionShort {
		return models.SideSell, models.SideBuy
	}
	return models.SideBuy, models.SideSell
}

// BuildOrderPlan строит план. Количество целей ограничено числом долей
// в конфигурации. Без уровней целей план не содержит целей и несёт
// пометку о необходимости их задать.
func BuildOrderPlan(in PlanInput, cfg PlanConfig) Plan {
	entrySide, exitSide := Sides(in.Direction)

	entryPrice := in.MidPrice * (1 + cfg.EntryOffsetPercent)
	stopLimit := in.StopLoss * (1 - cfg.StopLimitOffsetPercent)
	if in.Direction == models.DirectionShort {
		entryPrice = in.MidPrice * (1 - cfg.EntryOffsetPercent)
		stopLimit = in.StopLoss * (1 + cfg.StopLimitOffsetPercent)
	}

	plan := Plan{
		Entry: models.OrderIntent{
			Symbol:   in.Symbol,
			Side:     entrySide,
			Kind:     models.OrderLimit,
			Quantity: in.Quantity,
			Price:    entryPrice,
		},
		Stop: models.OrderIntent{
			Symbol:     in.Symbol,
			Side:       exitSide,
			Kind:       models.OrderStopLimit,
			Quantity:   in.Quantity,
			Price:      in.StopLoss,
			StopPrice:  in.StopLoss,
			LimitPrice: stopLimit,
		},
	}

	alloc := normalize(cfg.TakeProfitAllocations)
	levels := in.TakeProfitLevels
	if len(levels) > len(alloc) {
		levels = levels[:len(alloc)]
	}
	for i, price := range levels {
		plan.Targets = append(plan.Targets, models.OrderIntent{
			Symbol:   in.Symbol,
			Side:     exitSide,
			Kind:     models.OrderLimit,
			Quantity: in.Quantity * alloc[i],
			Price:    price,
		})
	}

	switch {
	case len(plan.Targets) == 0:
		plan.Advisories = append(plan.Advisories, risk.Advisory{
			ID:          AdvisoryConfigureTargets,
			Description: "define take profit levels before scheduling orders",
		})
	case !cfg.RouterAttached:
		plan.Advisories = append(plan.Advisories, risk.Advisory{
			ID:          AdvisoryOrderRouting,
			Description: "connect order plan to exchange routing adapter",
		})
	}
	return plan
}

func normalize(values []float64) []float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	out := make([]float64, len(values))
	if total == 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / total
	}
	return out
}
