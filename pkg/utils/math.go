package utils

import (
	"fmt"
	"math"
)

// math.go - математические утилиты для торговых расчётов
//
// Все функции чистые, без побочных эффектов.

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до шага биржи:
// округление вниз не превышает рассчитанный риск.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(100.5, 1.0) = 100.0
//
// Если lotSize <= 0, значение возвращается как есть.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Сдвиг на эпсилон компенсирует 0.3/0.1 = 2.9999999999999996
	return math.Floor(value/lotSize+1e-9) * lotSize
}

// Midpoint возвращает середину диапазона [low, high]
func Midpoint(low, high float64) float64 {
	return (low + high) / 2
}

// InRange проверяет low <= value <= high
func InRange(value, low, high float64) bool {
	return value >= low && value <= high
}

// PercentDistance возвращает |a-b|/base. При base == 0 возвращает 0.
func PercentDistance(a, b, base float64) float64 {
	if base == 0 {
		return 0
	}
	return math.Abs(a-b) / base
}

// UnrealizedPNLPercent считает нереализованный PNL позиции в долях от входа.
//
// Для SHORT прибыль растёт при падении цены: (entry - current) / entry.
// Для LONG: (current - entry) / entry.
func UnrealizedPNLPercent(short bool, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	if short {
		return (entryPrice - currentPrice) / entryPrice
	}
	return (currentPrice - entryPrice) / entryPrice
}

// FormatPercent форматирует долю как проценты с двумя знаками: 0.0525 -> "5.25%"
func FormatPercent(fraction float64) string {
	return fmt.Sprintf("%.2f%%", fraction*100)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
