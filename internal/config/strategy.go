package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tradecore/internal/bot"
	"tradecore/internal/execution"
	"tradecore/internal/market"
	"tradecore/internal/risk"
	"tradecore/internal/signals"
)

// strategyFile - структура YAML файла стратегии.
// Отсутствующие ключи сохраняют значения по умолчанию.
type strategyFile struct {
	Risk         risk.Config            `yaml:"risk"`
	Breakers     risk.BreakerConfig     `yaml:"breakers"`
	Position     risk.PositionConfig    `yaml:"position"`
	Plan         execution.PlanConfig   `yaml:"order_plan"`
	Regime       market.RegimeConfig    `yaml:"regime"`
	StateMachine bot.StateMachineConfig `yaml:"state_machine"`
	SignalAge    signals.Overrides      `yaml:"signal_age"`
}

// LoadStrategy читает пороги стратегии. Пустой путь - пороги по умолчанию
func LoadStrategy(path string) (bot.Strategy, error) {
	if path == "" {
		return bot.DefaultStrategy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return bot.Strategy{}, fmt.Errorf("read strategy file: %w", err)
	}
	s, err := ParseStrategy(data)
	if err != nil {
		return bot.Strategy{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseStrategy накладывает YAML на пороги по умолчанию и проверяет результат
func ParseStrategy(data []byte) (bot.Strategy, error) {
	s := bot.DefaultStrategy()
	file := strategyFile{
		Risk:         s.Risk,
		Breakers:     s.Breakers,
		Position:     s.Position,
		Plan:         s.Plan,
		Regime:       s.Regime,
		StateMachine: s.StateMachine,
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return bot.Strategy{}, fmt.Errorf("parse strategy: %w", err)
	}

	if err := s.Policy.Apply(file.SignalAge); err != nil {
		return bot.Strategy{}, err
	}
	s.Risk = file.Risk
	s.Breakers = file.Breakers
	s.Position = file.Position
	s.Plan = file.Plan
	s.Regime = file.Regime
	s.StateMachine = file.StateMachine

	if err := validateStrategy(s); err != nil {
		return bot.Strategy{}, err
	}
	return s, nil
}

func validateStrategy(s bot.Strategy) error {
	for name, v := range map[string]float64{
		"risk.max_risk_per_trade_percent":         s.Risk.MaxRiskPerTradePercent,
		"risk.max_position_size_percent":          s.Risk.MaxPositionSizePercent,
		"risk.max_daily_loss_percent":             s.Risk.MaxDailyLossPercent,
		"risk.max_stop_distance_percent_1h":       s.Risk.MaxStopDistancePercent1h,
		"risk.max_stop_distance_percent_4h":       s.Risk.MaxStopDistancePercent4h,
		"risk.max_stop_distance_percent_1d":       s.Risk.MaxStopDistancePercent1d,
		"breakers.daily_loss_pause_percent":       s.Breakers.DailyLossPausePercent,
		"position.breakeven_threshold_percent":    s.Position.BreakevenThresholdPercent,
		"position.trailing_stop_distance_percent": s.Position.TrailingStopDistancePercent,
		"order_plan.stop_limit_offset_percent":    s.Plan.StopLimitOffsetPercent,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0, 1), got %v", name, v)
		}
	}

	if s.Breakers.DailyLossFlattenPercent < s.Breakers.DailyLossPausePercent {
		return fmt.Errorf("breakers.daily_loss_flatten_percent must not be below daily_loss_pause_percent")
	}
	if s.Risk.MaxConcurrentPositions < 1 || s.Risk.MaxCorrelatedPositions < 1 {
		return fmt.Errorf("risk position limits must be positive")
	}
	if s.Position.TrailingStopThresholdPercent <= s.Position.BreakevenThresholdPercent {
		return fmt.Errorf("position.trailing_stop_threshold_percent must exceed breakeven_threshold_percent")
	}
	if s.Regime.DeadRatio >= s.Regime.VolatileRatio || s.Regime.RangeThreshold >= s.Regime.TrendThreshold {
		return fmt.Errorf("regime thresholds overlap")
	}
	if s.StateMachine.CooldownMinutes < 0 || s.StateMachine.LossesForCooldown < 1 {
		return fmt.Errorf("state_machine values out of range")
	}

	total := 0.0
	for _, a := range s.Plan.TakeProfitAllocations {
		if a <= 0 {
			return fmt.Errorf("order_plan.take_profit_allocations must be positive, got %v", a)
		}
		total += a
	}
	if total > 1+1e-9 {
		return fmt.Errorf("order_plan.take_profit_allocations sum to %v, more than 1", total)
	}
	return nil
}
