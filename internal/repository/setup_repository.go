package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tradecore/internal/models"
	"tradecore/internal/setup"
)

// Ошибки репозитория сетапов
var (
	ErrSetupNotFound     = errors.New("setup not found")
	ErrSetupTransition   = errors.New("setup state transition not allowed")
	ErrInvalidSetup      = errors.New("invalid setup")
)

// liveStates - сетапы, которые ещё участвуют в цикле
var liveStates = pq.Array([]string{string(models.SetupForming), string(models.SetupActive)})

const setupColumns = `
		s.id, s.instrument_id, i.symbol, s.setup_type, s.direction, s.entry_timeframe,
		s.context_timeframe, s.state, s.entry_zone_low, s.entry_zone_high, s.stop_loss,
		s.take_profit_1, s.take_profit_2, s.take_profit_3, s.required_confirmations,
		s.forming_duration_minutes, s.active_duration_minutes, s.candles_elapsed,
		s.regime_id, s.context_regime_id, s.created_at, s.activated_at, s.triggered_at,
		s.expires_at, s.invalidated_at, s.invalidation_reason, s.parameters`

const setupFrom = `
		FROM setups s
		JOIN instruments i ON i.id = s.instrument_id`

// SetupRepository - работа с таблицей setups
type SetupRepository struct {
	db *sql.DB
}

// NewSetupRepository создает новый экземпляр репозитория
func NewSetupRepository(db *sql.DB) *SetupRepository {
	return &SetupRepository{db: db}
}

func scanSetup(row rowScanner) (*models.Setup, error) {
	s := &models.Setup{}
	var (
		contextTF sql.NullString
		reason    sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.InstrumentID, &s.Symbol, &s.Type, &s.Direction, &s.EntryTimeframe,
		&contextTF, &s.State, &s.EntryZoneLow, &s.EntryZoneHigh, &s.StopLoss,
		&s.TakeProfit1, &s.TakeProfit2, &s.TakeProfit3, &s.RequiredConfirmations,
		&s.FormingDurationMinutes, &s.ActiveDurationMinutes, &s.CandlesElapsed,
		&s.RegimeID, &s.ContextRegimeID, &s.CreatedAt, &s.ActivatedAt, &s.TriggeredAt,
		&s.ExpiresAt, &s.InvalidatedAt, &reason, &s.Parameters,
	)
	if err != nil {
		return nil, err
	}
	s.ContextTimeframe = models.Timeframe(contextTF.String)
	s.InvalidationReason = models.InvalidationReason(reason.String)
	return s, nil
}

func (r *SetupRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Setup, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var setups []models.Setup
	for rows.Next() {
		s, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		setups = append(setups, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return setups, nil
}

// Create сохраняет новый сетап; параметры проверяются по схеме
func (r *SetupRepository) Create(ctx context.Context, s *models.Setup) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSetup, err)
	}
	if s.State == "" {
		s.State = models.SetupForming
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO setups (instrument_id, setup_type, direction, entry_timeframe, context_timeframe,
			state, entry_zone_low, entry_zone_high, stop_loss, take_profit_1, take_profit_2, take_profit_3,
			required_confirmations, forming_duration_minutes, active_duration_minutes, candles_elapsed,
			regime_id, context_regime_id, created_at, expires_at, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.InstrumentID, s.Type, s.Direction, s.EntryTimeframe, nullString(string(s.ContextTimeframe)),
		s.State, s.EntryZoneLow, s.EntryZoneHigh, s.StopLoss, s.TakeProfit1, s.TakeProfit2, s.TakeProfit3,
		s.RequiredConfirmations, s.FormingDurationMinutes, s.ActiveDurationMinutes, s.CandlesElapsed,
		s.RegimeID, s.ContextRegimeID, s.CreatedAt, s.ExpiresAt, s.Parameters,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert setup: %w", err)
	}
	return nil
}

// GetByID возвращает сетап по ID
func (r *SetupRepository) GetByID(ctx context.Context, id int64) (*models.Setup, error) {
	query := `SELECT` + setupColumns + setupFrom + ` WHERE s.id = $1`

	s, err := scanSetup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSetupNotFound
		}
		return nil, err
	}
	return s, nil
}

// ActiveForEvaluation - сетапы FORMING и ACTIVE, старые первыми
func (r *SetupRepository) ActiveForEvaluation(ctx context.Context) ([]models.Setup, error) {
	query := `SELECT` + setupColumns + setupFrom + `
		WHERE s.state = ANY($1)
		ORDER BY s.created_at, s.id`
	return r.list(ctx, query, liveStates)
}

// ActiveForInvalidation - те же сетапы, что и для оценки
func (r *SetupRepository) ActiveForInvalidation(ctx context.Context) ([]models.Setup, error) {
	return r.ActiveForEvaluation(ctx)
}

// Recent возвращает последние сетапы в любом состоянии
func (r *SetupRepository) Recent(ctx context.Context, limit int) ([]models.Setup, error) {
	query := `SELECT` + setupColumns + setupFrom + `
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $1`
	return r.list(ctx, query, limit)
}

// CountActive - число живых сетапов
func (r *SetupRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM setups WHERE state = ANY($1)`, liveStates).Scan(&n)
	return n, err
}

// ExpirePastTTL переводит просроченные живые сетапы в EXPIRED
func (r *SetupRepository) ExpirePastTTL(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE setups
		SET state = $1, invalidated_at = $2
		WHERE state = ANY($3) AND expires_at < $2`,
		models.SetupExpired, now, liveStates)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// sourceStates - состояния, из которых разрешён переход в to
func sourceStates(to models.SetupState) interface{} {
	var from []string
	for _, s := range []models.SetupState{models.SetupForming, models.SetupActive, models.SetupTriggered} {
		if setup.CanTransition(s, to) {
			from = append(from, string(s))
		}
	}
	return pq.Array(from)
}

// transition меняет состояние с проверкой допустимости перехода в SQL
func (r *SetupRepository) transition(ctx context.Context, id int64, to models.SetupState, column string, at time.Time, reason models.InvalidationReason) error {
	query := fmt.Sprintf(`
		UPDATE setups
		SET state = $2, %s = $3, invalidation_reason = COALESCE($4, invalidation_reason)
		WHERE id = $1 AND state = ANY($5)`, column)

	res, err := r.db.ExecContext(ctx, query, id, to, at, nullString(string(reason)), sourceStates(to))
	if err != nil {
		return err
	}
	if err := expectOne(res, ErrSetupTransition); err != nil {
		return fmt.Errorf("setup %d -> %s: %w", id, to, err)
	}
	return nil
}

// Activate переводит FORMING в ACTIVE
func (r *SetupRepository) Activate(ctx context.Context, id int64, at time.Time) error {
	return r.transition(ctx, id, models.SetupActive, "activated_at", at, "")
}

// MarkTriggered переводит ACTIVE в TRIGGERED
func (r *SetupRepository) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	return r.transition(ctx, id, models.SetupTriggered, "triggered_at", at, "")
}

// Invalidate переводит живой сетап в INVALIDATED с причиной
func (r *SetupRepository) Invalidate(ctx context.Context, id int64, reason models.InvalidationReason, at time.Time) error {
	return r.transition(ctx, id, models.SetupInvalidated, "invalidated_at", at, reason)
}

// IncrementCandles увеличивает счётчик свечей живых сетапов инструмента на таймфрейме
func (r *SetupRepository) IncrementCandles(ctx context.Context, instrumentID int64, tf models.Timeframe) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE setups
		SET candles_elapsed = candles_elapsed + 1
		WHERE instrument_id = $1 AND entry_timeframe = $2 AND state = ANY($3)`,
		instrumentID, tf, liveStates)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
