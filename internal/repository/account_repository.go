package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/pkg/crypto"
)

// Ошибки репозитория аккаунтов
var (
	ErrAccountNotFound = errors.New("exchange account not found")
	ErrAccountExists   = errors.New("exchange account already exists")
)

// AccountRepository - работа с таблицей exchange_accounts.
// Ключи API хранятся зашифрованными AES-256-GCM.
type AccountRepository struct {
	db  *sql.DB
	key []byte
}

// NewAccountRepository создает репозиторий; key - 32 байта ключа шифрования
func NewAccountRepository(db *sql.DB, key []byte) *AccountRepository {
	return &AccountRepository{db: db, key: key}
}

// Create шифрует ключи и сохраняет аккаунт
func (r *AccountRepository) Create(ctx context.Context, acc *models.ExchangeAccount, creds exchange.Credentials) error {
	apiKey, err := crypto.Encrypt(creds.APIKey, r.key)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	apiSecret, err := crypto.Encrypt(creds.APISecret, r.key)
	if err != nil {
		return fmt.Errorf("encrypt api secret: %w", err)
	}

	now := time.Now().UTC()
	acc.Exchange = strings.ToLower(acc.Exchange)
	acc.Environment = string(creds.Environment)
	acc.APIKey, acc.APISecret = apiKey, apiSecret
	acc.CreatedAt, acc.UpdatedAt = now, now

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO exchange_accounts (exchange, label, environment, api_key, api_secret, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		acc.Exchange, acc.Label, acc.Environment, acc.APIKey, acc.APISecret, acc.Active, acc.CreatedAt, acc.UpdatedAt,
	).Scan(&acc.ID)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("%s/%s: %w", acc.Exchange, acc.Label, ErrAccountExists)
		}
		return err
	}
	return nil
}

// GetByID возвращает аккаунт с расшифрованными ключами
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.ExchangeAccount, exchange.Credentials, error) {
	acc := &models.ExchangeAccount{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, exchange, label, environment, api_key, api_secret, active, created_at, updated_at
		FROM exchange_accounts
		WHERE id = $1`, id).Scan(
		&acc.ID, &acc.Exchange, &acc.Label, &acc.Environment, &acc.APIKey, &acc.APISecret,
		&acc.Active, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exchange.Credentials{}, ErrAccountNotFound
		}
		return nil, exchange.Credentials{}, err
	}

	creds, err := r.decrypt(acc)
	if err != nil {
		return nil, exchange.Credentials{}, err
	}
	return acc, creds, nil
}

func (r *AccountRepository) decrypt(acc *models.ExchangeAccount) (exchange.Credentials, error) {
	apiKey, err := crypto.Decrypt(acc.APIKey, r.key)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("account %d api key: %w", acc.ID, err)
	}
	apiSecret, err := crypto.Decrypt(acc.APISecret, r.key)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("account %d api secret: %w", acc.ID, err)
	}
	return exchange.Credentials{
		APIKey:      apiKey,
		APISecret:   apiSecret,
		Environment: exchange.ParseEnvironment(acc.Environment),
	}, nil
}
