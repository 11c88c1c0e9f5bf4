package setup

import (
	"time"

	"tradecore/internal/models"
)

// TTL - длительности фаз сетапа в минутах
type TTL struct {
	FormingMinutes int
	ActiveMinutes  int
	TotalMinutes   int
}

// Total - полное время жизни
func (t TTL) Total() time.Duration {
	return time.Duration(t.TotalMinutes) * time.Minute
}

var ttlShort = map[models.SetupType]TTL{
	models.SetupResistanceRejection: {180, 420, 600},
	models.SetupSupportBreakdown:    {90, 300, 390},
	models.SetupRetestShort:         {45, 180, 225},
	models.SetupTrendContinuation:   {300, 900, 1200},
	models.SetupMeanReversion:       {150, 600, 750},
}

var ttlLong = map[models.SetupType]TTL{
	models.SetupResistanceRejection: {600, 1800, 2400},
	models.SetupSupportBreakdown:    {300, 1200, 1500},
	models.SetupRetestShort:         {150, 900, 1050},
	models.SetupTrendContinuation:   {1200, 3600, 4800},
	models.SetupMeanReversion:       {600, 2400, 3000},
}

// TTLFor возвращает TTL для типа сетапа: отдельная таблица для 1h
// и общая для 4h и старше. Неизвестный тип получает TTL отбоя от сопротивления.
func TTLFor(t models.SetupType, tf models.Timeframe) TTL {
	table := ttlLong
	if tf == models.Timeframe1H {
		table = ttlShort
	}
	if ttl, ok := table[t]; ok {
		return ttl
	}
	return table[models.SetupResistanceRejection]
}
