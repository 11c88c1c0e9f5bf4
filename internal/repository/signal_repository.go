package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradecore/internal/models"
)

// Ошибки репозитория сигналов
var (
	ErrSignalNotFound = errors.New("signal not found")
	ErrInvalidSignal  = errors.New("invalid signal")
)

const signalColumns = `
		sg.id, sg.setup_id, sg.signal_type, sg.signal_role, sg.detected_on_timeframe,
		sg.fired_at, sg.value, sg.threshold, sg.confidence, sg.still_valid,
		sg.requires_recheck, sg.last_rechecked_at, sg.invalidated_at, sg.parameters`

// SignalRepository - работа с таблицей signals
type SignalRepository struct {
	db *sql.DB
}

// NewSignalRepository создает новый экземпляр репозитория
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

func signalDest(s *models.Signal) []interface{} {
	return []interface{}{
		&s.ID, &s.SetupID, &s.Type, &s.Role, &s.DetectedOn,
		&s.FiredAt, &s.Value, &s.Threshold, &s.Confidence, &s.StillValid,
		&s.RequiresRecheck, &s.LastRecheckedAt, &s.InvalidatedAt, &s.Parameters,
	}
}

// Create сохраняет сигнал. Сетап должен существовать.
func (r *SignalRepository) Create(ctx context.Context, s *models.Signal) error {
	if !models.IsKnownSignalType(s.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, s.Type)
	}
	if err := models.SignalParametersSchema.Validate(s.Parameters); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if s.FiredAt.IsZero() {
		s.FiredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO signals (setup_id, signal_type, signal_role, detected_on_timeframe, fired_at,
			value, threshold, confidence, still_valid, requires_recheck, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.SetupID, s.Type, s.Role, s.DetectedOn, s.FiredAt,
		s.Value, s.Threshold, s.Confidence, s.StillValid, s.RequiresRecheck, s.Parameters,
	).Scan(&s.ID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("signal for setup %d: %w", s.SetupID, ErrSetupNotFound)
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// ForRevalidation - действующие сигналы живых сетапов, требующие перепроверки
func (r *SignalRepository) ForRevalidation(ctx context.Context) ([]models.RecheckSignal, error) {
	query := `
		SELECT` + signalColumns + `, s.instrument_id, i.symbol
		FROM signals sg
		JOIN setups s ON s.id = sg.setup_id
		JOIN instruments i ON i.id = s.instrument_id
		WHERE sg.still_valid AND sg.requires_recheck AND s.state = ANY($1)
		ORDER BY sg.id`

	rows, err := r.db.QueryContext(ctx, query, liveStates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RecheckSignal
	for rows.Next() {
		var rs models.RecheckSignal
		dest := append(signalDest(&rs.Signal), &rs.InstrumentID, &rs.Symbol)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BySetup возвращает все сигналы сетапа
func (r *SignalRepository) BySetup(ctx context.Context, setupID int64) ([]models.Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals sg
		WHERE sg.setup_id = $1
		ORDER BY sg.fired_at`

	rows, err := r.db.QueryContext(ctx, query, setupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var s models.Signal
		if err := rows.Scan(signalDest(&s)...); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate снимает валидность сигнала
func (r *SignalRepository) Invalidate(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE signals SET still_valid = FALSE, invalidated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSignalNotFound)
}

// TouchRecheck запоминает время перепроверки
func (r *SignalRepository) TouchRecheck(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE signals SET last_rechecked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSignalNotFound)
}

// CountValid - число действующих сигналов сетапа
func (r *SignalRepository) CountValid(ctx context.Context, setupID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE setup_id = $1 AND still_valid`, setupID).Scan(&n)
	return n, err
}

// ValidTypes - различные виды действующих сигналов сетапа
func (r *SignalRepository) ValidTypes(ctx context.Context, setupID int64) ([]models.SignalType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT signal_type FROM signals WHERE setup_id = $1 AND still_valid ORDER BY signal_type`, setupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []models.SignalType
	for rows.Next() {
		var t models.SignalType
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}
