package setup

import (
	"math"
	"time"

	"tradecore/internal/models"
)

// Параметры поиска кандидатов
const (
	ScannerSource       = "scanner"
	MinLevelStrength    = 2.0
	MaxLevelDistancePct = 0.03
)

// Candidate - исходные данные для создания сетапа от уровня
type Candidate struct {
	Instrument    models.Instrument
	Level         models.PriceLevel
	Timeframe     models.Timeframe
	ContextTF     models.Timeframe
	ContextRegime *models.MarketRegime
	Now           time.Time
}

func newFromLevel(c Candidate, t models.SetupType, dir models.Direction) *models.Setup {
	ttl := TTLFor(t, c.Timeframe)
	s := &models.Setup{
		InstrumentID:           c.Instrument.ID,
		Symbol:                 c.Instrument.Symbol,
		Type:                   t,
		Direction:              dir,
		EntryTimeframe:         c.Timeframe,
		ContextTimeframe:       c.ContextTF,
		State:                  models.SetupForming,
		RequiredConfirmations:  models.DefaultRequiredConfirmations,
		FormingDurationMinutes: ttl.FormingMinutes,
		ActiveDurationMinutes:  ttl.ActiveMinutes,
		CreatedAt:              c.Now,
		ExpiresAt:              c.Now.Add(ttl.Total()),
		Parameters: models.Metadata{
			"level_price": c.Level.Price,
			"level_type":  string(c.Level.Type),
			"source":      ScannerSource,
		},
	}
	if c.Level.ID != 0 {
		s.Parameters["level_id"] = c.Level.ID
	}
	if c.ContextRegime != nil {
		id := c.ContextRegime.ID
		s.ContextRegimeID = &id
	}
	return s
}

// NewResistanceRejection - шорт от сопротивления: зона ±0.2% вокруг уровня,
// стоп на 4% выше, цели -7% и -13%
func NewResistanceRejection(c Candidate) *models.Setup {
	level := c.Level.Price
	s := newFromLevel(c, models.SetupResistanceRejection, models.DirectionShort)
	s.EntryZoneLow = level * 0.998
	s.EntryZoneHigh = level * 1.002
	s.StopLoss = models.Float(level * 1.04)
	s.TakeProfit1 = models.Float(level * 0.93)
	s.TakeProfit2 = models.Float(level * 0.87)
	return s
}

// NewSupportBreakdown - шорт на пробое поддержки: вход на откате под уровень
// (-1.5%..-0.5%), стоп на 2% выше уровня
func NewSupportBreakdown(c Candidate) *models.Setup {
	level := c.Level.Price
	s := newFromLevel(c, models.SetupSupportBreakdown, models.DirectionShort)
	s.EntryZoneLow = level * 0.985
	s.EntryZoneHigh = level * 0.995
	s.StopLoss = models.Float(level * 1.02)
	s.TakeProfit1 = models.Float(level * 0.93)
	s.TakeProfit2 = models.Float(level * 0.87)
	return s
}

// NewMeanReversion - лонг от поддержки с возвратом к среднему
func NewMeanReversion(c Candidate) *models.Setup {
	level := c.Level.Price
	s := newFromLevel(c, models.SetupMeanReversion, models.DirectionLong)
	s.EntryZoneLow = level * 0.998
	s.EntryZoneHigh = level * 1.002
	s.StopLoss = models.Float(level * 0.96)
	s.TakeProfit1 = models.Float(level * 1.07)
	s.TakeProfit2 = models.Float(level * 1.13)
	return s
}

// ============================================================
// Сканирование кандидатов
// ============================================================

// ScanInput - данные одного инструмента для поиска новых сетапов
type ScanInput struct {
	Instrument    models.Instrument
	Timeframe     models.Timeframe
	ContextTF     models.Timeframe
	Price         float64
	Levels        []models.PriceLevel
	DailyRegime   *models.MarketRegime
	ContextRegime *models.MarketRegime
	Existing      []models.Setup
	Limit         int
	Now           time.Time
}

// Scan строит новые сетапы от уровней рядом с ценой. Уровни слабее
// MinLevelStrength, недействующие и дальше 3% от цены пропускаются.
// Направление, запрещённое дневным трендом, не создаётся. Уровень,
// по которому уже есть живой сетап того же типа, повторно не берётся.
func Scan(in ScanInput) []*models.Setup {
	if in.Price <= 0 {
		return nil
	}

	var out []*models.Setup
	for _, level := range in.Levels {
		if in.Limit > 0 && len(out) >= in.Limit {
			break
		}
		if !CheckPriceLevelStrength(&level, MinLevelStrength).Valid {
			continue
		}
		if math.Abs(level.Price-in.Price)/in.Price > MaxLevelDistancePct {
			continue
		}

		c := Candidate{
			Instrument:    in.Instrument,
			Level:         level,
			Timeframe:     in.Timeframe,
			ContextTF:     in.ContextTF,
			ContextRegime: in.ContextRegime,
			Now:           in.Now,
		}

		var candidates []*models.Setup
		switch level.Type {
		case models.LevelResistance:
			if in.Price <= level.Price*1.002 {
				candidates = append(candidates, NewResistanceRejection(c))
			}
		case models.LevelSupport:
			if in.Price < level.Price {
				candidates = append(candidates, NewSupportBreakdown(c))
			} else {
				candidates = append(candidates, NewMeanReversion(c))
			}
		}

		for _, s := range candidates {
			if !CheckDailyTrend(s.Direction, in.DailyRegime).Valid {
				continue
			}
			if duplicate(s, in.Existing) || duplicatePtr(s, out) {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

func sameLevel(a, b *models.Setup) bool {
	if a.InstrumentID != b.InstrumentID || a.Type != b.Type || a.EntryTimeframe != b.EntryTimeframe {
		return false
	}
	pa, _ := a.Parameters.Number("level_price")
	pb, _ := b.Parameters.Number("level_price")
	if pa == 0 || pb == 0 {
		return a.EntryZoneLow <= b.EntryZoneHigh && b.EntryZoneLow <= a.EntryZoneHigh
	}
	return math.Abs(pa-pb)/pa <= 0.005
}

func duplicate(s *models.Setup, existing []models.Setup) bool {
	for i := range existing {
		if existing[i].State.IsTerminal() || existing[i].State == models.SetupTriggered {
			continue
		}
		if sameLevel(s, &existing[i]) {
			return true
		}
	}
	return false
}

func duplicatePtr(s *models.Setup, existing []*models.Setup) bool {
	for _, e := range existing {
		if sameLevel(s, e) {
			return true
		}
	}
	return false
}
