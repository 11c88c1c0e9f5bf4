package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"tradecore/internal/models"
)

var signalRowColumns = []string{
	"id", "setup_id", "signal_type", "signal_role", "detected_on_timeframe",
	"fired_at", "value", "threshold", "confidence", "still_valid",
	"requires_recheck", "last_rechecked_at", "invalidated_at", "parameters",
}

func signalRow(id, setupID int64, t models.SignalType) []driver.Value {
	return []driver.Value{
		id, setupID, string(t), "CONFIRMATION", "1h",
		testNow, 72.5, 65.0, 0.4, true,
		true, nil, nil, []byte(`{"source":"detector"}`),
	}
}

// ============================================================
// SignalRepository
// ============================================================

func TestSignalRepositoryCreate(t *testing.T) {
	valid := func() *models.Signal {
		return &models.Signal{
			SetupID:         3,
			Type:            models.SignalRSIOverbought,
			Role:            models.RoleConfirmation,
			DetectedOn:      models.Timeframe1H,
			FiredAt:         testNow,
			Value:           models.Float(72.5),
			StillValid:      true,
			RequiresRecheck: true,
			Parameters:      models.Metadata{"source": "webhook"},
		}
	}

	tests := []struct {
		name        string
		signal      func() *models.Signal
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:   "success",
			signal: valid,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO signals`).
					WithArgs(int64(3), "RSI_OVERBOUGHT", "CONFIRMATION", "1h", testNow,
						72.5, nil, 0.0, true, true, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
			},
		},
		{
			name: "unknown type",
			signal: func() *models.Signal {
				s := valid()
				s.Type = "MOON_PHASE"
				return s
			},
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: ErrInvalidSignal,
		},
		{
			name: "parameter of wrong kind",
			signal: func() *models.Signal {
				s := valid()
				s.Parameters = models.Metadata{"trend_direction": "up"}
				return s
			},
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: ErrInvalidSignal,
		},
		{
			name:   "missing setup",
			signal: valid,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO signals`).
					WillReturnError(&pq.Error{Code: pgForeignKeyViolation})
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

			s := tt.signal()
			err = NewSignalRepository(db).Create(context.Background(), s)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
			} else if err != nil || s.ID != 9 {
				t.Errorf("Create: id=%d err=%v", s.ID, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSignalRepositoryForRevalidation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cols := append(append([]string{}, signalRowColumns...), "instrument_id", "symbol")
	rows := sqlmock.NewRows(cols).
		AddRow(append(signalRow(1, 3, models.SignalRSIOverbought), int64(2), "ETHUSDT")...).
		AddRow(append(signalRow(2, 3, models.SignalVolumeSpike), int64(2), "ETHUSDT")...)
	mock.ExpectQuery(`JOIN setups s ON s.id = sg.setup_id`).WithArgs(sqlmock.AnyArg()).WillReturnRows(rows)

	list, err := NewSignalRepository(db).ForRevalidation(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d signals, want 2", len(list))
	}
	first := list[0]
	if first.Symbol != "ETHUSDT" || first.InstrumentID != 2 || first.Type != models.SignalRSIOverbought {
		t.Errorf("first = %+v", first)
	}
	if first.Value == nil || *first.Value != 72.5 || first.LastRecheckedAt != nil {
		t.Errorf("nullable fields scanned wrong: %+v", first.Signal)
	}
}

func TestSignalRepositoryInvalidateAndTouch(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		call        func(r *SignalRepository) error
		affected    int64
		expectError error
	}{
		{
			name:     "invalidate",
			pattern:  `UPDATE signals SET still_valid = FALSE`,
			call:     func(r *SignalRepository) error { return r.Invalidate(context.Background(), 4, testNow) },
			affected: 1,
		},
		{
			name:     "touch recheck",
			pattern:  `UPDATE signals SET last_rechecked_at`,
			call:     func(r *SignalRepository) error { return r.TouchRecheck(context.Background(), 4, testNow) },
			affected: 1,
		},
		{
			name:        "missing signal",
			pattern:     `UPDATE signals SET still_valid = FALSE`,
			call:        func(r *SignalRepository) error { return r.Invalidate(context.Background(), 4, testNow) },
			affected:    0,
			expectError: ErrSignalNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(tt.pattern).WithArgs(int64(4), testNow).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			if err := tt.call(NewSignalRepository(db)); !errors.Is(err, tt.expectError) {
				t.Errorf("expected %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestSignalRepositoryCountsAndTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()
	repo := NewSignalRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM signals`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT DISTINCT signal_type`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"signal_type"}).AddRow("RSI_OVERBOUGHT").AddRow("VOLUME_SPIKE"))

	n, err := repo.CountValid(context.Background(), 3)
	if err != nil || n != 2 {
		t.Errorf("CountValid = %d, %v", n, err)
	}
	types, err := repo.ValidTypes(context.Background(), 3)
	if err != nil || len(types) != 2 || types[1] != models.SignalVolumeSpike {
		t.Errorf("ValidTypes = %v, %v", types, err)
	}
}

// ============================================================
// RegimeRepository
// ============================================================

func TestRegimeRepositoryCurrent(t *testing.T) {
	cols := []string{"id", "instrument_id", "timeframe", "regime_type", "trend_strength", "price_vs_ma",
		"volatility", "still_active", "started_at", "ended_at", "parameters"}

	t.Run("active regime", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`FROM market_regimes`).WithArgs(int64(1), models.Timeframe1D).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				8, 1, "1d", "TRENDING_UP", 0.02, 0.03, 0.01, true, testNow, nil, []byte(`{"classifier":"ema_atr"}`)))

		r, err := NewRegimeRepository(db).Current(context.Background(), 1, models.Timeframe1D)
		if err != nil || r == nil {
			t.Fatalf("Current = %v, %v", r, err)
		}
		if r.ID != 8 || r.Type != models.RegimeTrendingUp || !r.StillActive {
			t.Errorf("regime = %+v", r)
		}
	})

	t.Run("no regime", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`FROM market_regimes`).WillReturnRows(sqlmock.NewRows(cols))

		r, err := NewRegimeRepository(db).Current(context.Background(), 1, models.Timeframe1D)
		if err != nil || r != nil {
			t.Errorf("Current without rows = %v, %v; want nil, nil", r, err)
		}
	})
}

func TestRegimeRepositoryReplace(t *testing.T) {
	regime := func() *models.MarketRegime {
		return &models.MarketRegime{
			InstrumentID: 1,
			Timeframe:    models.Timeframe4H,
			Type:         models.RegimeRanging,
			StartedAt:    testNow,
			Parameters:   models.Metadata{"classifier": "ema_atr", "atr_ratio": 1.1},
		}
	}

	tests := []struct {
		name        string
		regime      func() *models.MarketRegime
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name:   "closes previous and inserts",
			regime: regime,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE market_regimes\s+SET still_active = FALSE`).
					WithArgs(int64(1), models.Timeframe4H, testNow).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`INSERT INTO market_regimes`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
				mock.ExpectCommit()
			},
		},
		{
			name:   "insert failure rolls back",
			regime: regime,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE market_regimes`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`INSERT INTO market_regimes`).WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "invalid parameters",
			regime: func() *models.MarketRegime {
				r := regime()
				r.Parameters = models.Metadata{"mood": "bullish"}
				return r
			},
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: true,
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

			r := tt.regime()
			err = NewRegimeRepository(db).Replace(context.Background(), r)
			if tt.expectError != (err != nil) {
				t.Errorf("Replace error = %v, expectError %v", err, tt.expectError)
			}
			if !tt.expectError && (r.ID != 21 || !r.StillActive) {
				t.Errorf("regime after replace = %+v", r)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

