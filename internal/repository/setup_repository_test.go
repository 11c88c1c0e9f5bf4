package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/models"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

var setupRowColumns = []string{
	"id", "instrument_id", "symbol", "setup_type", "direction", "entry_timeframe",
	"context_timeframe", "state", "entry_zone_low", "entry_zone_high", "stop_loss",
	"take_profit_1", "take_profit_2", "take_profit_3", "required_confirmations",
	"forming_duration_minutes", "active_duration_minutes", "candles_elapsed",
	"regime_id", "context_regime_id", "created_at", "activated_at", "triggered_at",
	"expires_at", "invalidated_at", "invalidation_reason", "parameters",
}

func addSetupRow(rows *sqlmock.Rows, id int64, state models.SetupState) *sqlmock.Rows {
	return rows.AddRow(
		id, 1, "BTCUSDT", "RESISTANCE_REJECTION", "SHORT", "1h",
		"4h", string(state), 99.8, 100.2, 104.0,
		93.0, 87.0, nil, 3,
		60, 240, 2,
		nil, 7, testNow, nil, nil,
		testNow.Add(6*time.Hour), nil, nil, []byte(`{"level_price":100,"source":"scanner"}`),
	)
}

func validSetup() *models.Setup {
	return &models.Setup{
		InstrumentID:           1,
		Type:                   models.SetupResistanceRejection,
		Direction:              models.DirectionShort,
		EntryTimeframe:         models.Timeframe1H,
		ContextTimeframe:       models.Timeframe4H,
		EntryZoneLow:           99.8,
		EntryZoneHigh:          100.2,
		StopLoss:               models.Float(104),
		RequiredConfirmations:  3,
		FormingDurationMinutes: 60,
		ActiveDurationMinutes:  240,
		CreatedAt:              testNow,
		ExpiresAt:              testNow.Add(6 * time.Hour),
		Parameters:             models.Metadata{"level_price": 100.0},
	}
}

// ============================================================
// SetupRepository
// ============================================================

func TestNewSetupRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSetupRepository(db)
	if repo == nil || repo.db != db {
		t.Fatal("NewSetupRepository did not keep db")
	}
}

func TestSetupRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *models.Setup
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:  "success",
			setup: validSetup,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO setups`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
			},
		},
		{
			name: "inverted entry zone",
			setup: func() *models.Setup {
				s := validSetup()
				s.EntryZoneLow, s.EntryZoneHigh = 101, 99
				return s
			},
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: ErrInvalidSetup,
		},
		{
			name: "unknown parameter key",
			setup: func() *models.Setup {
				s := validSetup()
				s.Parameters = models.Metadata{"colour": "red"}
				return s
			},
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: ErrInvalidSetup,
		},
		{
			name:  "database error",
			setup: validSetup,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO setups`).WillReturnError(errors.New("connection refused"))
			},
			expectError: errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			s := tt.setup()
			err = NewSetupRepository(db).Create(context.Background(), s)

			switch {
			case tt.expectError == nil && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.expectError == nil && (s.ID != 11 || s.State != models.SetupForming):
				t.Errorf("created setup id=%d state=%s", s.ID, s.State)
			case tt.expectError == ErrInvalidSetup && !errors.Is(err, ErrInvalidSetup):
				t.Errorf("expected ErrInvalidSetup, got %v", err)
			case tt.expectError != nil && err == nil:
				t.Errorf("expected error %v, got nil", tt.expectError)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSetupRepositoryGetByID(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := addSetupRow(sqlmock.NewRows(setupRowColumns), 5, models.SetupActive)
				mock.ExpectQuery(`SELECT .+ FROM setups s`).WithArgs(int64(5)).WillReturnRows(rows)
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM setups s`).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrSetupNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			s, err := NewSetupRepository(db).GetByID(context.Background(), 5)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Symbol != "BTCUSDT" || s.ContextTimeframe != models.Timeframe4H || s.State != models.SetupActive {
				t.Errorf("scanned setup = %+v", s)
			}
			if s.StopLoss == nil || *s.StopLoss != 104 || s.TakeProfit3 != nil {
				t.Errorf("nullable prices scanned wrong: stop=%v tp3=%v", s.StopLoss, s.TakeProfit3)
			}
			if s.ContextRegimeID == nil || *s.ContextRegimeID != 7 || s.InvalidationReason != "" {
				t.Errorf("context regime / reason = %v / %q", s.ContextRegimeID, s.InvalidationReason)
			}
			if v, ok := s.Parameters.Number("level_price"); !ok || v != 100 {
				t.Errorf("parameters = %v", s.Parameters)
			}
		})
	}
}

func TestSetupRepositoryActiveForEvaluation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(setupRowColumns)
	addSetupRow(rows, 1, models.SetupForming)
	addSetupRow(rows, 2, models.SetupActive)
	mock.ExpectQuery(`WHERE s.state = ANY\(\$1\)`).WithArgs(sqlmock.AnyArg()).WillReturnRows(rows)

	setups, err := NewSetupRepository(db).ActiveForEvaluation(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(setups) != 2 || setups[0].ID != 1 || setups[1].State != models.SetupActive {
		t.Errorf("setups = %+v", setups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetupRepositoryCountActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM setups`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := NewSetupRepository(db).CountActive(context.Background())
	if err != nil || n != 4 {
		t.Errorf("CountActive = %d, %v", n, err)
	}
}

func TestSetupRepositoryExpirePastTTL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE setups\s+SET state = \$1, invalidated_at = \$2`).
		WithArgs(models.SetupExpired, testNow, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewSetupRepository(db).ExpirePastTTL(context.Background(), testNow)
	if err != nil || n != 3 {
		t.Errorf("ExpirePastTTL = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetupRepositoryTransitions(t *testing.T) {
	tests := []struct {
		name        string
		call        func(r *SetupRepository) error
		column      string
		to          models.SetupState
		reason      interface{}
		affected    int64
		expectError error
	}{
		{
			name:     "activate",
			call:     func(r *SetupRepository) error { return r.Activate(context.Background(), 3, testNow) },
			column:   "activated_at",
			to:       models.SetupActive,
			reason:   nil,
			affected: 1,
		},
		{
			name:     "mark triggered",
			call:     func(r *SetupRepository) error { return r.MarkTriggered(context.Background(), 3, testNow) },
			column:   "triggered_at",
			to:       models.SetupTriggered,
			reason:   nil,
			affected: 1,
		},
		{
			name: "invalidate with reason",
			call: func(r *SetupRepository) error {
				return r.Invalidate(context.Background(), 3, models.ReasonRiskRejected, testNow)
			},
			column:   "invalidated_at",
			to:       models.SetupInvalidated,
			reason:   "RISK_REJECTED",
			affected: 1,
		},
		{
			name:        "transition from terminal state",
			call:        func(r *SetupRepository) error { return r.Activate(context.Background(), 3, testNow) },
			column:      "activated_at",
			to:          models.SetupActive,
			reason:      nil,
			affected:    0,
			expectError: ErrSetupTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(`SET state = \$2, `+tt.column+` = \$3`).
				WithArgs(int64(3), tt.to, testNow, tt.reason, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err = tt.call(NewSetupRepository(db))
			if !errors.Is(err, tt.expectError) {
				t.Errorf("expected %v, got %v", tt.expectError, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSourceStates(t *testing.T) {
	tests := []struct {
		to   models.SetupState
		want string
	}{
		{models.SetupActive, "{FORMING}"},
		{models.SetupTriggered, "{ACTIVE}"},
		{models.SetupInvalidated, "{FORMING,ACTIVE}"},
	}
	for _, tt := range tests {
		got, err := valueOf(sourceStates(tt.to))
		if err != nil {
			t.Fatalf("value: %v", err)
		}
		if got != tt.want {
			t.Errorf("sourceStates(%s) = %v, want %s", tt.to, got, tt.want)
		}
	}
}

// valueOf возвращает значение, которое драйвер отправит в базу
func valueOf(v interface{}) (interface{}, error) {
	valuer, ok := v.(driver.Valuer)
	if !ok {
		return v, nil
	}
	return valuer.Value()
}

func TestSetupRepositoryIncrementCandles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`SET candles_elapsed = candles_elapsed \+ 1`).
		WithArgs(int64(1), models.Timeframe4H, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewSetupRepository(db).IncrementCandles(context.Background(), 1, models.Timeframe4H)
	if err != nil || n != 2 {
		t.Errorf("IncrementCandles = %d, %v", n, err)
	}
}
