package models

import (
	"fmt"
	"time"
)

// Timeframe - таймфрейм свечей
type Timeframe string

const (
	Timeframe1H Timeframe = "1h"
	Timeframe4H Timeframe = "4h"
	Timeframe1D Timeframe = "1d"
)

// Timeframes - поддерживаемые таймфреймы от младшего к старшему
var Timeframes = []Timeframe{Timeframe1H, Timeframe4H, Timeframe1D}

// ParseTimeframe разбирает строку таймфрейма
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range Timeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Candle - OHLCV свеча
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Range - размах свечи high-low
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// UpperWick - верхняя тень
func (c Candle) UpperWick() float64 {
	return c.High - max(c.Open, c.Close)
}

// LowerWick - нижняя тень
func (c Candle) LowerWick() float64 {
	return min(c.Open, c.Close) - c.Low
}

// Instrument - торгуемый инструмент
type Instrument struct {
	ID         int64     `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`           // BTCUSDT
	Exchange   string    `json:"exchange" db:"exchange"`       // binance, bybit
	BaseAsset  string    `json:"base_asset" db:"base_asset"`   // BTC
	QuoteAsset string    `json:"quote_asset" db:"quote_asset"` // USDT
	LotSize    float64   `json:"lot_size" db:"lot_size"`       // шаг количества
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// PriceLevelType - тип ценового уровня
type PriceLevelType string

const (
	LevelResistance PriceLevelType = "RESISTANCE"
	LevelSupport    PriceLevelType = "SUPPORT"
)

// PriceLevel - ценовой уровень, от которого строятся сетапы
type PriceLevel struct {
	ID           int64          `json:"id" db:"id"`
	InstrumentID int64          `json:"instrument_id" db:"instrument_id"`
	Timeframe    Timeframe      `json:"timeframe" db:"timeframe"`
	Price        float64        `json:"price" db:"price"`
	Type         PriceLevelType `json:"type" db:"level_type"`
	Strength     float64        `json:"strength" db:"strength"` // число подтверждений уровня
	Tests        int            `json:"tests" db:"tests"`       // сколько раз цена касалась уровня
	StillValid   bool           `json:"still_valid" db:"still_valid"`
}
