package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tradecore/internal/models"
)

// ErrInvalidRegime - параметры режима не прошли схему
var ErrInvalidRegime = errors.New("invalid market regime")

// RegimeRepository - работа с таблицей market_regimes.
// На пару инструмент+таймфрейм активен не более одного режима.
type RegimeRepository struct {
	db *sql.DB
}

// NewRegimeRepository создает новый экземпляр репозитория
func NewRegimeRepository(db *sql.DB) *RegimeRepository {
	return &RegimeRepository{db: db}
}

// Current возвращает активный режим или nil, если его нет
func (r *RegimeRepository) Current(ctx context.Context, instrumentID int64, tf models.Timeframe) (*models.MarketRegime, error) {
	query := `
		SELECT id, instrument_id, timeframe, regime_type, trend_strength, price_vs_ma,
			volatility, still_active, started_at, ended_at, parameters
		FROM market_regimes
		WHERE instrument_id = $1 AND timeframe = $2 AND still_active
		ORDER BY started_at DESC
		LIMIT 1`

	m := &models.MarketRegime{}
	err := r.db.QueryRowContext(ctx, query, instrumentID, tf).Scan(
		&m.ID, &m.InstrumentID, &m.Timeframe, &m.Type, &m.TrendStrength, &m.PriceVsMA,
		&m.Volatility, &m.StillActive, &m.StartedAt, &m.EndedAt, &m.Parameters,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// Replace закрывает активный режим и записывает новый в одной транзакции
func (r *RegimeRepository) Replace(ctx context.Context, m *models.MarketRegime) error {
	if err := models.RegimeParametersSchema.Validate(m.Parameters); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegime, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE market_regimes
		SET still_active = FALSE, ended_at = $3
		WHERE instrument_id = $1 AND timeframe = $2 AND still_active`,
		m.InstrumentID, m.Timeframe, m.StartedAt)
	if err != nil {
		return fmt.Errorf("close active regime: %w", err)
	}

	m.StillActive = true
	err = tx.QueryRowContext(ctx, `
		INSERT INTO market_regimes (instrument_id, timeframe, regime_type, trend_strength,
			price_vs_ma, volatility, still_active, started_at, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		m.InstrumentID, m.Timeframe, m.Type, m.TrendStrength,
		m.PriceVsMA, m.Volatility, m.StillActive, m.StartedAt, m.Parameters,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert regime: %w", err)
	}

	return tx.Commit()
}
