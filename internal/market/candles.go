// Package market содержит арифметику свечных границ, индикаторы и
// классификатор рыночного режима.
//
// Все функции работают в UTC и не зависят от часов процесса:
// текущее время передаётся явно.
package market

import (
	"time"

	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// CloseTolerance - окно после границы свечи, в котором свеча считается
// только что закрытой
const CloseTolerance = 10 * time.Second

// TimeframeMinutes возвращает длительность свечи в минутах.
// Неизвестный таймфрейм трактуется как 1h.
func TimeframeMinutes(tf models.Timeframe) int {
	switch tf {
	case models.Timeframe4H:
		return 240
	case models.Timeframe1D:
		return 1440
	default:
		return 60
	}
}

// TimeframeDuration - длительность свечи
func TimeframeDuration(tf models.Timeframe) time.Duration {
	return time.Duration(TimeframeMinutes(tf)) * time.Minute
}

// IsNewCandleClosed сообщает, попадает ли t в первые 10 секунд новой свечи.
// 4h выравнивается по hour%4 == 0, 1d - по полуночи UTC.
func IsNewCandleClosed(tf models.Timeframe, t time.Time) bool {
	t = t.UTC()
	if t.Minute() != 0 || t.Second() >= int(CloseTolerance/time.Second) {
		return false
	}

	switch tf {
	case models.Timeframe1H:
		return true
	case models.Timeframe4H:
		return t.Hour()%4 == 0
	case models.Timeframe1D:
		return t.Hour() == 0
	default:
		return false
	}
}

// CandlesElapsed - число целых свечей между start и now
func CandlesElapsed(tf models.Timeframe, start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / TimeframeDuration(tf))
}

// CandleOpen возвращает время открытия свечи, содержащей t
func CandleOpen(tf models.Timeframe, t time.Time) time.Time {
	t = t.UTC()
	switch tf {
	case models.Timeframe4H:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()/4*4, 0, 0, 0, time.UTC)
	case models.Timeframe1D:
		return utils.GetDayStartFrom(t)
	default:
		return t.Truncate(time.Hour)
	}
}

// CandleClose возвращает время закрытия текущей свечи (open + длительность)
func CandleClose(tf models.Timeframe, t time.Time) time.Time {
	return CandleOpen(tf, t).Add(TimeframeDuration(tf))
}

// NextCandleClose - ближайшая граница свечи строго после t
func NextCandleClose(tf models.Timeframe, t time.Time) time.Time {
	return CandleClose(tf, t)
}

// MinutesSince - целые минуты от since до now; отрицательные обрезаются до нуля
func MinutesSince(since, now time.Time) int {
	if now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / time.Minute)
}

// HoursSince - целые часы от since до now
func HoursSince(since, now time.Time) int {
	if now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / time.Hour)
}
