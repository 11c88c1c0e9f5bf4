package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tradecore/internal/models"
)

// ErrPositionNotFound - позиция не найдена или уже закрыта
var ErrPositionNotFound = errors.New("position not found")

const positionColumns = `
		p.id, p.setup_id, p.instrument_id, i.symbol, p.direction, p.timeframe, p.entry_price,
		p.exit_price, p.size, p.stop_price, p.pnl, p.pnl_percent, p.status, p.exit_reason,
		p.entry_order_id, p.stop_order_id, p.take_profit_order_ids, p.breakeven_moved, p.trailing_active,
		p.opened_at, p.closed_at`

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var (
		exitReason sql.NullString
		entryOrder sql.NullString
		stopOrder  sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.SetupID, &p.InstrumentID, &p.Symbol, &p.Direction, &p.Timeframe, &p.EntryPrice,
		&p.ExitPrice, &p.Size, &p.StopPrice, &p.PNL, &p.PNLPercent, &p.Status, &exitReason,
		&entryOrder, &stopOrder, pq.Array(&p.TakeProfitOrderIDs), &p.BreakevenMoved, &p.TrailingActive,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ExitReason = exitReason.String
	p.EntryOrderID = entryOrder.String
	p.StopOrderID = stopOrder.String
	return p, nil
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}

// Open возвращает открытые позиции
func (r *PositionRepository) Open(ctx context.Context) ([]models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions p
		JOIN instruments i ON i.id = p.instrument_id
		WHERE p.status = $1
		ORDER BY p.opened_at`
	return r.list(ctx, query, models.PositionOpen)
}

// Recent возвращает последние позиции
func (r *PositionRepository) Recent(ctx context.Context, limit int) ([]models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions p
		JOIN instruments i ON i.id = p.instrument_id
		ORDER BY p.opened_at DESC
		LIMIT $1`
	return r.list(ctx, query, limit)
}

// Create сохраняет открытую позицию
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	if p.Status == "" {
		p.Status = models.PositionOpen
	}
	query := `
		INSERT INTO positions (setup_id, instrument_id, direction, timeframe, entry_price, size,
			stop_price, status, entry_order_id, stop_order_id, take_profit_order_ids, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		p.SetupID, p.InstrumentID, p.Direction, p.Timeframe, p.EntryPrice, p.Size,
		p.StopPrice, p.Status, nullString(p.EntryOrderID), nullString(p.StopOrderID),
		pq.Array(p.TakeProfitOrderIDs), p.OpenedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update сохраняет сопровождение открытой позиции: стоп и флаги
func (r *PositionRepository) Update(ctx context.Context, p *models.Position) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions
		SET stop_price = $2, stop_order_id = $3, breakeven_moved = $4, trailing_active = $5
		WHERE id = $1 AND status = $6`,
		p.ID, p.StopPrice, nullString(p.StopOrderID), p.BreakevenMoved, p.TrailingActive, models.PositionOpen)
	if err != nil {
		return err
	}
	return expectOne(res, ErrPositionNotFound)
}

// Close фиксирует закрытие позиции
func (r *PositionRepository) Close(ctx context.Context, p *models.Position) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions
		SET exit_price = $2, pnl = $3, pnl_percent = $4, status = $5, exit_reason = $6, closed_at = $7
		WHERE id = $1 AND status = $8`,
		p.ID, p.ExitPrice, p.PNL, p.PNLPercent, models.PositionClosed, p.ExitReason, p.ClosedAt,
		models.PositionOpen)
	if err != nil {
		return err
	}
	return expectOne(res, ErrPositionNotFound)
}

// RiskContext собирает агрегаты для проверок риска.
// instrumentID 0 - коррелированные позиции не считаются.
func (r *PositionRepository) RiskContext(ctx context.Context, instrumentID int64, balance float64, dayStart time.Time) (models.RiskContext, error) {
	var rc models.RiskContext

	var dailyLoss float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl), 0)
		FROM positions
		WHERE status = $1 AND closed_at >= $2 AND pnl < 0`,
		models.PositionClosed, dayStart).Scan(&dailyLoss)
	if err != nil {
		return rc, fmt.Errorf("daily loss: %w", err)
	}

	var openRisk float64
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN instrument_id = $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(ABS(entry_price - stop_price) * size), 0)
		FROM positions
		WHERE status = $1`,
		models.PositionOpen, instrumentID).Scan(&rc.OpenPositions, &rc.CorrelatedPositions, &openRisk)
	if err != nil {
		return rc, fmt.Errorf("open exposure: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT pnl
		FROM positions
		WHERE status = $1 AND closed_at >= $2
		ORDER BY closed_at DESC`,
		models.PositionClosed, dayStart)
	if err != nil {
		return rc, fmt.Errorf("recent results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return rc, err
		}
		if pnl >= 0 {
			break
		}
		rc.ConsecutiveLosses++
	}
	if err := rows.Err(); err != nil {
		return rc, err
	}

	if balance > 0 {
		rc.DailyLossPercent = -dailyLoss / balance
		rc.OpenRiskPercent = openRisk / balance
	}
	return rc, nil
}
