package utils

import (
	"strconv"
	"time"
)

// time.go - утилиты работы со временем
//
// Все расчёты ведутся в UTC: границы свечей и торговых суток
// считаются по UTC на всех биржах.

// GetDayStartFrom возвращает начало суток (00:00:00 UTC) для указанного времени.
// Используется для окна дневного убытка.
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// UnixMillis возвращает время в миллисекундах Unix
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time (UTC)
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// HoursBetween возвращает дробное число часов от from до to
func HoursBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours()
}

// FormatDuration форматирует продолжительность кратко: "45s", "5m30s", "2h15m", "3d5h".
// Секунды отбрасываются, если длительность больше часа.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		if hours > 0 {
			return strconv.Itoa(days) + "d" + strconv.Itoa(hours) + "h"
		}
		return strconv.Itoa(days) + "d"
	case hours > 0:
		if minutes > 0 {
			return strconv.Itoa(hours) + "h" + strconv.Itoa(minutes) + "m"
		}
		return strconv.Itoa(hours) + "h"
	case minutes > 0:
		if seconds > 0 {
			return strconv.Itoa(minutes) + "m" + strconv.Itoa(seconds) + "s"
		}
		return strconv.Itoa(minutes) + "m"
	}
	return strconv.Itoa(seconds) + "s"
}
