package signals

import (
	"time"

	"tradecore/internal/market"
	"tradecore/internal/models"
)

// DetectorSource - значение source в параметрах сигналов детектора
const DetectorSource = "detector"

// DetectInput - всё, что нужно детектору для одного сетапа
type DetectInput struct {
	Setup     *models.Setup
	Timeframe models.Timeframe
	Market    market.MarketData
	// Existing - виды сигналов, уже валидных у сетапа; повторно не выпускаются
	Existing map[models.SignalType]bool
	Now      time.Time
}

// Detect выпускает сигналы по закрытой свече. Правила зеркалят условия
// ревалидации: сигнал, выпущенный здесь, проходит CheckCondition.
func Detect(in DetectInput) []models.Signal {
	s := in.Setup
	md := in.Market
	ind := md.Indicators
	short := s.IsShort()

	var out []models.Signal
	emit := func(t models.SignalType, role models.SignalRole, value, threshold *float64, confidence float64, params models.Metadata) {
		if in.Existing[t] {
			return
		}
		if params == nil {
			params = models.Metadata{}
		}
		params["source"] = DetectorSource
		out = append(out, models.Signal{
			SetupID:         s.ID,
			Type:            t,
			Role:            role,
			DetectedOn:      in.Timeframe,
			FiredAt:         in.Now,
			Value:           value,
			Threshold:       threshold,
			Confidence:      confidence,
			StillValid:      true,
			RequiresRecheck: true,
			Parameters:      params,
		})
	}

	if ind.RSI != nil {
		rsi := *ind.RSI
		params := models.Metadata{"rsi_period": 14}
		switch {
		case short && rsi > market.RSIOverbought:
			emit(models.SignalRSIOverbought, models.RoleConfirmation, models.Float(rsi), models.Float(market.RSIOverbought),
				confidence(rsi-market.RSIOverbought, 100-market.RSIOverbought), params)
		case !short && rsi < market.RSIOversold:
			emit(models.SignalRSIOversold, models.RoleConfirmation, models.Float(rsi), models.Float(market.RSIOversold),
				confidence(market.RSIOversold-rsi, market.RSIOversold), params)
		}
	}

	if ratio, ok := volumeRatio(md); ok {
		params := models.Metadata{"volume_ratio": ratio}
		switch {
		case ratio > VolumeSpikeRatio:
			emit(models.SignalVolumeSpike, models.RoleConfirmation, models.Float(ratio), models.Float(VolumeSpikeRatio),
				confidence(ratio-VolumeSpikeRatio, VolumeSpikeRatio), params)
		case ratio < VolumeDeclineRatio:
			emit(models.SignalVolumeDecline, models.RoleContext, models.Float(ratio), models.Float(VolumeDeclineRatio),
				confidence(VolumeDeclineRatio-ratio, VolumeDeclineRatio), params)
		}
	}

	// Тень должна быть направлена против сделки: верхняя для шорта, нижняя для лонга
	c := md.Candle
	if r := c.Range(); r > 0 {
		wick := c.LowerWick() / r
		if short {
			wick = c.UpperWick() / r
		}
		if wick > WickRangeRatio {
			emit(models.SignalRejectionWick, models.RoleTrigger, models.Float(wick), models.Float(WickRangeRatio),
				confidence(wick-WickRangeRatio, 1-WickRangeRatio), nil)
		}
	}

	if ind.EMA20 != nil && ind.EMA50 != nil {
		sign := TrendSign(*ind.EMA20, *ind.EMA50)
		if (short && sign < 0) || (!short && sign > 0) {
			emit(models.SignalTrendAlignment, models.RoleContext, models.Float(sign), nil, 0.5,
				models.Metadata{"trend_direction": sign})
		}
	}

	if s.InEntryZone(md.Price) {
		emit(models.SignalPriceInEntryZone, models.RoleTrigger, models.Float(md.Price), nil, 1, nil)
	}

	return out
}

// confidence нормирует превышение порога в [0.5, 1]
func confidence(excess, span float64) float64 {
	if span <= 0 || excess <= 0 {
		return 0.5
	}
	return 0.5 + 0.5*min(excess/span, 1)
}
