// Package signals отвечает за свежесть, ревалидацию и детекцию сигналов.
package signals

import (
	"fmt"
	"time"

	"tradecore/internal/models"
)

// AgeLimits - максимальный возраст сигнала и период перепроверки
type AgeLimits struct {
	MaxAge          time.Duration
	RecheckInterval time.Duration
}

func hours(maxAge, recheck float64) AgeLimits {
	return AgeLimits{
		MaxAge:          time.Duration(maxAge * float64(time.Hour)),
		RecheckInterval: time.Duration(recheck * float64(time.Hour)),
	}
}

// Policy - таблицы лимитов возраста: для 1h и для старших таймфреймов
type Policy struct {
	Short        map[models.SignalType]AgeLimits
	Long         map[models.SignalType]AgeLimits
	DefaultShort AgeLimits
	DefaultLong  AgeLimits
}

// DefaultPolicy - таблицы по умолчанию. На 1h сигналы живут короче.
func DefaultPolicy() *Policy {
	return &Policy{
		Short: map[models.SignalType]AgeLimits{
			models.SignalRSIOverbought:    hours(2, 1),
			models.SignalRSIOversold:      hours(2, 1),
			models.SignalVolumeSpike:      hours(1, 1),
			models.SignalVolumeDecline:    hours(2, 1),
			models.SignalRejectionWick:    hours(1, 1),
			models.SignalPriceLevelBreak:  hours(0.25, 0.25),
			models.SignalMACDDivergence:   hours(4, 1),
			models.SignalTrendAlignment:   hours(12, 4),
			models.SignalPriceInEntryZone: hours(2, 0.5),
		},
		Long: map[models.SignalType]AgeLimits{
			models.SignalRSIOverbought:    hours(8, 4),
			models.SignalRSIOversold:      hours(8, 4),
			models.SignalVolumeSpike:      hours(4, 4),
			models.SignalVolumeDecline:    hours(8, 4),
			models.SignalRejectionWick:    hours(4, 4),
			models.SignalPriceLevelBreak:  hours(1, 1),
			models.SignalMACDDivergence:   hours(16, 4),
			models.SignalTrendAlignment:   hours(48, 4),
			models.SignalPriceInEntryZone: hours(8, 2),
		},
		DefaultShort: hours(4, 1),
		DefaultLong:  hours(16, 4),
	}
}

// Limits возвращает лимиты для вида сигнала и таймфрейма
func (p *Policy) Limits(t models.SignalType, tf models.Timeframe) AgeLimits {
	table, fallback := p.Long, p.DefaultLong
	if tf == models.Timeframe1H {
		table, fallback = p.Short, p.DefaultShort
	}
	if l, ok := table[t]; ok {
		return l
	}
	return fallback
}

// IsFresh - возраст сигнала строго меньше максимального
func (p *Policy) IsFresh(t models.SignalType, tf models.Timeframe, age time.Duration) bool {
	return age < p.Limits(t, tf).MaxAge
}

// ShouldRecheck - с последней перепроверки прошло не меньше интервала
func (p *Policy) ShouldRecheck(t models.SignalType, tf models.Timeframe, sinceRecheck time.Duration) bool {
	return sinceRecheck >= p.Limits(t, tf).RecheckInterval
}

// ============================================================
// Переопределение из файла стратегии
// ============================================================

// LimitsHours - лимиты в часах, как они записаны в YAML
type LimitsHours struct {
	MaxAgeHours          float64 `yaml:"max_age_hours"`
	RecheckIntervalHours float64 `yaml:"recheck_interval_hours"`
}

// Overrides - секция signal_age файла стратегии.
// Ключ short - таймфрейм 1h, long - 4h и старше.
type Overrides struct {
	Short map[models.SignalType]LimitsHours `yaml:"short"`
	Long  map[models.SignalType]LimitsHours `yaml:"long"`
}

// Apply заменяет лимиты перечисленных видов сигналов.
// Неизвестный вид или неположительные значения - ошибка, политика не меняется.
func (p *Policy) Apply(o Overrides) error {
	for _, table := range []map[models.SignalType]LimitsHours{o.Short, o.Long} {
		for t, l := range table {
			if !models.IsKnownSignalType(t) {
				return fmt.Errorf("signal_age: unknown signal type %q", t)
			}
			if l.MaxAgeHours <= 0 || l.RecheckIntervalHours <= 0 {
				return fmt.Errorf("signal_age: %s limits must be positive", t)
			}
		}
	}

	for t, l := range o.Short {
		p.Short[t] = hours(l.MaxAgeHours, l.RecheckIntervalHours)
	}
	for t, l := range o.Long {
		p.Long[t] = hours(l.MaxAgeHours, l.RecheckIntervalHours)
	}
	return nil
}
