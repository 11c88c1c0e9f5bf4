package risk

import "fmt"

// BreakerConfig - пороги предохранителей
type BreakerConfig struct {
	DailyLossPausePercent     float64 `yaml:"daily_loss_pause_percent"`
	DailyLossFlattenPercent   float64 `yaml:"daily_loss_flatten_percent"`
	VolatilityMultiplierLimit float64 `yaml:"volatility_multiplier_limit"`
	MaxConsecutiveLosses      int     `yaml:"max_consecutive_losses"`
	MaxAPIErrors              int     `yaml:"max_api_errors"`
}

// DefaultBreakerConfig возвращает пороги по умолчанию
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		DailyLossPausePercent:     0.05,
		DailyLossFlattenPercent:   0.07,
		VolatilityMultiplierLimit: 2,
		MaxConsecutiveLosses:      5,
		MaxAPIErrors:              3,
	}
}

// BreakerSnapshot - текущее состояние для предохранителей
type BreakerSnapshot struct {
	DailyLossPercent     float64
	VolatilityMultiplier float64
	ConsecutiveLosses    int
	APIErrorCount        int
	FlashCrashDetected   bool
	ConnectivityStable   bool
	// AccountUnavailable - баланс или итоги дня не получены, дневной
	// убыток и серия убытков в этот раз не проверяются
	AccountUnavailable bool
}

// BreakerResult - решение предохранителей
type BreakerResult struct {
	ShouldPause   bool       `json:"should_pause"`
	ShouldFlatten bool       `json:"should_flatten"`
	Reasons       []string   `json:"reasons"`
	Advisories    []Advisory `json:"advisories"`
}

// Tripped - сработал хотя бы один предохранитель
func (r BreakerResult) Tripped() bool {
	return r.ShouldPause || r.ShouldFlatten
}

// EvaluateCircuitBreakers - грубый слой защиты поверх проверок риска.
// Флэт-порог дневного убытка, флэш-крэш и потеря связи требуют паузы и
// закрытия позиций, остальные условия только паузы.
func EvaluateCircuitBreakers(s BreakerSnapshot, cfg BreakerConfig) BreakerResult {
	var (
		res BreakerResult
		adv Advisories
	)
	reason := func(format string, args ...interface{}) {
		res.Reasons = append(res.Reasons, fmt.Sprintf(format, args...))
	}

	switch {
	case s.AccountUnavailable:
	case s.DailyLossPercent >= cfg.DailyLossFlattenPercent:
		res.ShouldPause, res.ShouldFlatten = true, true
		reason("daily loss %s breaches flatten threshold %s", pct(s.DailyLossPercent), pct(cfg.DailyLossFlattenPercent))
	case s.DailyLossPercent >= cfg.DailyLossPausePercent:
		res.ShouldPause = true
		reason("daily loss %s breaches pause threshold %s", pct(s.DailyLossPercent), pct(cfg.DailyLossPausePercent))
	}

	if s.VolatilityMultiplier >= cfg.VolatilityMultiplierLimit {
		res.ShouldPause = true
		reason("volatility multiplier %.2f exceeds limit %.2f", s.VolatilityMultiplier, cfg.VolatilityMultiplierLimit)
		adv.Add(Advisory{
			ID:          AdvisoryVolatilityFeed,
			Description: "connect real-time volatility feed to populate volatility multiplier",
		})
	}

	if !s.AccountUnavailable && s.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		res.ShouldPause = true
		reason("consecutive losses %d reaches limit %d", s.ConsecutiveLosses, cfg.MaxConsecutiveLosses)
	}

	if s.FlashCrashDetected {
		res.ShouldPause, res.ShouldFlatten = true, true
		reason("flash crash detected")
	}

	if !s.ConnectivityStable {
		res.ShouldPause, res.ShouldFlatten = true, true
		reason("exchange connectivity instability detected")
	}

	if s.APIErrorCount >= cfg.MaxAPIErrors {
		res.ShouldPause = true
		reason("api errors %d reaches limit %d", s.APIErrorCount, cfg.MaxAPIErrors)
	}

	if res.ShouldFlatten {
		adv.Add(Advisory{
			ID:          AdvisoryPositionFlattening,
			Description: "implement position liquidator for circuit breaker flatten flow",
		})
	}

	res.Advisories = adv.Items()
	return res
}
