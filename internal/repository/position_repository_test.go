package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/models"
)

var positionRowColumns = []string{
	"id", "setup_id", "instrument_id", "symbol", "direction", "timeframe", "entry_price",
	"exit_price", "size", "stop_price", "pnl", "pnl_percent", "status", "exit_reason",
	"entry_order_id", "stop_order_id", "take_profit_order_ids", "breakeven_moved", "trailing_active",
	"opened_at", "closed_at",
}

func TestPositionRepositoryOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(positionRowColumns).AddRow(
		4, 3, 1, "BTCUSDT", "LONG", "1h", 100.0,
		nil, 2.0, 96.0, 0.0, 0.0, "open", nil,
		"ord-1", "ord-2", "{ord-3,ord-4}", false, false,
		testNow, nil,
	)
	mock.ExpectQuery(`FROM positions p`).WithArgs(models.PositionOpen).WillReturnRows(rows)

	open, err := NewPositionRepository(db).Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d positions", len(open))
	}
	p := open[0]
	if p.Symbol != "BTCUSDT" || p.StopOrderID != "ord-2" || p.ExitPrice != nil || p.ExitReason != "" {
		t.Errorf("position = %+v", p)
	}
	if len(p.TakeProfitOrderIDs) != 2 || p.TakeProfitOrderIDs[1] != "ord-4" {
		t.Errorf("take profit orders = %v", p.TakeProfitOrderIDs)
	}
}

func TestPositionRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := &models.Position{
		SetupID: 3, InstrumentID: 1, Direction: models.DirectionLong, Timeframe: models.Timeframe1H,
		EntryPrice: 100, Size: 2, StopPrice: 96, EntryOrderID: "ord-1", StopOrderID: "ord-2",
		TakeProfitOrderIDs: []string{"ord-3", "ord-4"}, OpenedAt: testNow,
	}
	mock.ExpectQuery(`INSERT INTO positions`).
		WithArgs(int64(3), int64(1), "LONG", "1h", 100.0, 2.0, 96.0, "open", "ord-1", "ord-2",
			`{"ord-3","ord-4"}`, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	if err := NewPositionRepository(db).Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 4 || p.Status != models.PositionOpen {
		t.Errorf("position after create = %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryUpdateAndClose(t *testing.T) {
	exit := 94.0
	closedAt := testNow.Add(time.Hour)
	p := &models.Position{
		ID: 4, StopPrice: 100, StopOrderID: "ord-3", BreakevenMoved: true,
		ExitPrice: &exit, PNL: -12, PNLPercent: -0.06, ExitReason: models.ExitStopLoss, ClosedAt: &closedAt,
	}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		call        func(r *PositionRepository) error
		expectError error
	}{
		{
			name: "update stop",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE positions\s+SET stop_price`).
					WithArgs(int64(4), 100.0, "ord-3", true, false, "open").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			call: func(r *PositionRepository) error { return r.Update(context.Background(), p) },
		},
		{
			name: "close",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE positions\s+SET exit_price`).
					WithArgs(int64(4), 94.0, -12.0, -0.06, "closed", "stop_loss", closedAt, "open").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			call: func(r *PositionRepository) error { return r.Close(context.Background(), p) },
		},
		{
			name: "close already closed",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE positions\s+SET exit_price`).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			call:        func(r *PositionRepository) error { return r.Close(context.Background(), p) },
			expectError: ErrPositionNotFound,
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

			if err := tt.call(NewPositionRepository(db)); !errors.Is(err, tt.expectError) {
				t.Errorf("expected %v, got %v", tt.expectError, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryRiskContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	dayStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(pnl\), 0\)`).
		WithArgs("closed", dayStart).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(-300.0))
	mock.ExpectQuery(`SELECT COUNT\(\*\),`).
		WithArgs("open", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "correlated", "risk"}).AddRow(2, 1, 150.0))
	mock.ExpectQuery(`SELECT pnl\s+FROM positions`).
		WithArgs("closed", dayStart).
		WillReturnRows(sqlmock.NewRows([]string{"pnl"}).AddRow(-100.0).AddRow(-200.0).AddRow(50.0).AddRow(-10.0))

	rc, err := NewPositionRepository(db).RiskContext(context.Background(), 1, 10000, dayStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := models.RiskContext{
		DailyLossPercent:    0.03,
		OpenPositions:       2,
		CorrelatedPositions: 1,
		OpenRiskPercent:     0.015,
		ConsecutiveLosses:   2,
	}
	if rc != want {
		t.Errorf("RiskContext = %+v, want %+v", rc, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryRiskContext_ZeroBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE`).WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(-50.0))
	mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(sqlmock.NewRows([]string{"c", "k", "r"}).AddRow(0, 0, 0.0))
	mock.ExpectQuery(`SELECT pnl`).WillReturnRows(sqlmock.NewRows([]string{"pnl"}))

	rc, err := NewPositionRepository(db).RiskContext(context.Background(), 0, 0, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.DailyLossPercent != 0 || rc.OpenRiskPercent != 0 {
		t.Errorf("percentages without balance = %+v", rc)
	}
}
