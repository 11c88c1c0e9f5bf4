package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradecore/internal/models"
)

// Ошибки репозитория инструментов
var (
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrInstrumentExists   = errors.New("instrument already exists")
)

const instrumentColumns = `id, symbol, exchange, base_asset, quote_asset, lot_size, active, created_at`

// InstrumentRepository - работа с таблицей instruments
type InstrumentRepository struct {
	db *sql.DB
}

// NewInstrumentRepository создает новый экземпляр репозитория
func NewInstrumentRepository(db *sql.DB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

func scanInstrument(row rowScanner) (*models.Instrument, error) {
	inst := &models.Instrument{}
	err := row.Scan(&inst.ID, &inst.Symbol, &inst.Exchange, &inst.BaseAsset, &inst.QuoteAsset,
		&inst.LotSize, &inst.Active, &inst.CreatedAt)
	return inst, err
}

// Create добавляет инструмент; символ хранится в верхнем регистре
func (r *InstrumentRepository) Create(ctx context.Context, inst *models.Instrument) error {
	inst.Symbol = strings.ToUpper(inst.Symbol)
	inst.CreatedAt = time.Now().UTC()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO instruments (symbol, exchange, base_asset, quote_asset, lot_size, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		inst.Symbol, inst.Exchange, inst.BaseAsset, inst.QuoteAsset, inst.LotSize, inst.Active, inst.CreatedAt,
	).Scan(&inst.ID)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("%s: %w", inst.Symbol, ErrInstrumentExists)
		}
		return err
	}
	return nil
}

// Active возвращает торгуемые инструменты
func (r *InstrumentRepository) Active(ctx context.Context) ([]models.Instrument, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE active ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBySymbol возвращает инструмент по символу
func (r *InstrumentRepository) GetBySymbol(ctx context.Context, symbol string) (*models.Instrument, error) {
	inst, err := scanInstrument(r.db.QueryRowContext(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE symbol = $1`, strings.ToUpper(symbol)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstrumentNotFound
		}
		return nil, err
	}
	return inst, nil
}
