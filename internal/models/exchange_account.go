package models

import "time"

// ExchangeAccount представляет биржевой аккаунт с API ключами
type ExchangeAccount struct {
	ID          int64     `json:"id" db:"id"`
	Exchange    string    `json:"exchange" db:"exchange"`       // binance, bybit
	Label       string    `json:"label" db:"label"`             // имя аккаунта для логов
	Environment string    `json:"environment" db:"environment"` // testnet, production
	APIKey      string    `json:"-" db:"api_key"`               // зашифрован, не возвращается в JSON
	APISecret   string    `json:"-" db:"api_secret"`            // зашифрован
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
