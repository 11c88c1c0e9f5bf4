package signals

import (
	"fmt"
	"time"

	"tradecore/internal/market"
	"tradecore/internal/models"
)

// Пороги условий ревалидации
const (
	VolumeSpikeRatio   = 1.3
	VolumeDeclineRatio = 0.7
	WickRangeRatio     = 0.6
	WickLookback       = 3
	MACDMaxAge         = 8 * time.Hour
)

// Result - итог проверки сигнала; Reason заполнен для невалидного
type Result struct {
	Valid  bool
	Reason string
}

func valid() Result {
	return Result{Valid: true}
}

func invalid(reason string) Result {
	return Result{Reason: reason}
}

// Revalidator проверяет сигналы по возрасту и по свежим рыночным данным
type Revalidator struct {
	policy *Policy
}

// NewRevalidator создаёт ревалидатор; nil - политика по умолчанию
func NewRevalidator(policy *Policy) *Revalidator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Revalidator{policy: policy}
}

// Policy возвращает используемую политику возраста
func (r *Revalidator) Policy() *Policy {
	return r.policy
}

// Revalidate: сигнал старше лимита невалиден без проверки условия
func (r *Revalidator) Revalidate(sig *models.Signal, md market.MarketData, now time.Time) Result {
	age := now.Sub(sig.FiredAt)
	if !r.policy.IsFresh(sig.Type, sig.DetectedOn, age) {
		limit := r.policy.Limits(sig.Type, sig.DetectedOn).MaxAge
		return invalid(fmt.Sprintf("signal too old: %s exceeds %s", age.Truncate(time.Minute), limit))
	}
	return CheckCondition(sig.Type, sig.FiredAt, sig.Value, md, now)
}

// NeedsRecheck - пора ли перепроверять сигнал
func (r *Revalidator) NeedsRecheck(sig *models.Signal, now time.Time) bool {
	last := sig.FiredAt
	if sig.LastRecheckedAt != nil {
		last = *sig.LastRecheckedAt
	}
	return r.policy.ShouldRecheck(sig.Type, sig.DetectedOn, now.Sub(last))
}

// CheckCondition проверяет, держится ли условие сигнала.
// Структурные сигналы (пробой уровня, цена в зоне) валидны всегда.
func CheckCondition(t models.SignalType, firedAt time.Time, value *float64, md market.MarketData, now time.Time) Result {
	ind := md.Indicators

	switch t {
	case models.SignalRSIOverbought:
		if ind.RSI == nil {
			return invalid("RSI data not available")
		}
		if *ind.RSI > market.RSIOverbought {
			return valid()
		}
		return invalid("RSI no longer overbought")

	case models.SignalRSIOversold:
		if ind.RSI == nil {
			return invalid("RSI data not available")
		}
		if *ind.RSI < market.RSIOversold {
			return valid()
		}
		return invalid("RSI no longer oversold")

	case models.SignalVolumeSpike:
		ratio, ok := volumeRatio(md)
		if !ok {
			return invalid("volume MA data not available")
		}
		if ratio > VolumeSpikeRatio {
			return valid()
		}
		return invalid("volume no longer elevated")

	case models.SignalVolumeDecline:
		ratio, ok := volumeRatio(md)
		if !ok {
			return invalid("volume MA data not available")
		}
		if ratio < VolumeDeclineRatio {
			return valid()
		}
		return invalid("volume no longer declining")

	case models.SignalRejectionWick:
		candles := md.RecentCandles
		if len(candles) == 0 {
			candles = []models.Candle{md.Candle}
		}
		if len(candles) > WickLookback {
			candles = candles[len(candles)-WickLookback:]
		}
		for _, c := range candles {
			if HasRejectionWick(c) {
				return valid()
			}
		}
		return invalid("rejection pattern no longer present")

	case models.SignalMACDDivergence:
		if now.Sub(firedAt) > MACDMaxAge {
			return invalid("MACD divergence signal too old")
		}
		return valid()

	case models.SignalTrendAlignment:
		if ind.EMA20 == nil || ind.EMA50 == nil {
			return invalid("EMA data not available")
		}
		if value == nil || TrendSign(*ind.EMA20, *ind.EMA50) == *value {
			return valid()
		}
		return invalid("trend alignment changed")

	default:
		return valid()
	}
}

func volumeRatio(md market.MarketData) (float64, bool) {
	ma := md.Indicators.VolumeMA20
	if ma == nil || *ma == 0 {
		return 0, false
	}
	return md.Candle.Volume / *ma, true
}

// HasRejectionWick - верхняя или нижняя тень больше 60% размаха
func HasRejectionWick(c models.Candle) bool {
	r := c.Range()
	if r <= 0 {
		return false
	}
	return c.UpperWick()/r > WickRangeRatio || c.LowerWick()/r > WickRangeRatio
}

// TrendSign: 1 если EMA20 выше EMA50, иначе -1
func TrendSign(ema20, ema50 float64) float64 {
	if ema20 > ema50 {
		return 1
	}
	return -1
}
