package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/execution"
	"tradecore/internal/models"
	"tradecore/internal/risk"
	"tradecore/pkg/utils"
)

// ============================================================
// Открытие сделки
// ============================================================

// triggerTrade проводит сработавший сетап через риск-проверки и
// размещает план ордеров. При отказе риска или ошибке входа сетап
// остаётся ACTIVE до следующего тика.
func (l *Loop) triggerTrade(ctx context.Context, s *models.Setup, now time.Time) error {
	if !l.machine.CanTrade() {
		l.logger.Debug("trade skipped", utils.SetupID(s.ID), utils.State(string(l.machine.State())))
		return nil
	}
	open, err := l.stores.Positions.Open(ctx)
	if err != nil {
		return err
	}
	if len(open) >= l.cfg.MaxConcurrentTrades {
		l.logger.Debug("trade skipped: max concurrent trades", utils.SetupID(s.ID), utils.Int("open", len(open)))
		return nil
	}

	mid := s.Mid()
	stop := execution.ResolveStopLoss(s, mid)
	targets := execution.ResolveTakeProfits(s, mid)
	l.advise(stop.Advisories...)
	l.advise(targets.Advisories...)

	balance, err := l.exchange.GetAccountBalance(ctx)
	if err != nil {
		return err
	}
	rc, err := l.stores.Positions.RiskContext(ctx, s.InstrumentID, balance, utils.GetDayStartFrom(now))
	if err != nil {
		return err
	}

	regime := models.RegimeNeutral
	if s.ContextTimeframe != "" {
		current, err := l.stores.Regimes.Current(ctx, s.InstrumentID, s.ContextTimeframe)
		if err != nil {
			return err
		}
		if current != nil {
			regime = current.Type
		}
	}

	riskPct := l.cfg.RiskPerTradePercent
	sizePct := 0.0
	if d := utils.PercentDistance(mid, stop.Value, mid); d > 0 {
		sizePct = riskPct / d
	}

	check := risk.EvaluateRiskChecks(risk.Snapshot{
		AccountBalance:               balance,
		RequestedRiskPercent:         riskPct,
		RequestedPositionSizePercent: sizePct,
		EntryPrice:                   mid,
		StopPrice:                    stop.Value,
		Timeframe:                    s.EntryTimeframe,
		Direction:                    s.Direction,
		Regime:                       regime,
		DailyLossPercent:             rc.DailyLossPercent,
		OpenPositions:                rc.OpenPositions,
		CorrelatedExposureCount:      rc.CorrelatedPositions,
		OpenRiskPercent:              rc.OpenRiskPercent,
	}, l.strategy.Risk)
	l.advise(check.Advisories...)

	if !check.Allowed {
		for _, f := range check.Failures {
			RiskRejections.WithLabelValues(f.CheckID).Inc()
			l.logger.Warn("risk check failed",
				utils.SetupID(s.ID), utils.String("check", f.CheckID), utils.Reason(f.Reason))
		}
		l.logger.Info("trade skipped: risk rejected", utils.SetupID(s.ID), utils.Symbol(s.Symbol))
		return nil
	}

	lot := 0.0
	if inst, ok := l.instruments[s.InstrumentID]; ok {
		lot = inst.LotSize
	}
	qty := utils.RoundToLotSize(check.PositionSizeUnits, lot)
	if qty <= 0 {
		l.logger.Warn("trade skipped: size below lot", utils.SetupID(s.ID), utils.Volume(check.PositionSizeUnits))
		return nil
	}

	plan := execution.BuildOrderPlan(execution.PlanInput{
		Symbol:           s.Symbol,
		MidPrice:         mid,
		StopLoss:         stop.Value,
		TakeProfitLevels: targets.Levels,
		Direction:        s.Direction,
		Quantity:         qty,
	}, l.strategy.Plan)
	l.advise(plan.Advisories...)

	l.machine.HandleEvent(NewEvent(EventTradeTriggered, now, map[string]interface{}{
		"setup_id": s.ID, "symbol": s.Symbol,
	}), StateContext{Now: now})

	return l.executePlan(ctx, s, plan, now)
}

// executePlan размещает вход, стоп и цели. Позиция без стопа не остаётся:
// если стоп не принят, позиция сразу закрывается.
func (l *Loop) executePlan(ctx context.Context, s *models.Setup, plan execution.Plan, now time.Time) error {
	tag := uuid.NewString()[:8]
	plan.Entry.ClientOrderID = fmt.Sprintf("tc-%d-entry-%s", s.ID, tag)
	plan.Stop.ClientOrderID = fmt.Sprintf("tc-%d-stop-%s", s.ID, tag)

	entry, err := l.exchange.PlaceOrder(ctx, plan.Entry)
	if err != nil {
		return fmt.Errorf("place entry: %w", err)
	}

	if err := l.stores.Setups.MarkTriggered(ctx, s.ID, now); err != nil {
		l.entityError("trigger", err, utils.SetupID(s.ID))
	} else {
		SetupTransitions.WithLabelValues(string(models.SetupTriggered), "").Inc()
	}

	entryPrice := entry.Price
	if entryPrice <= 0 {
		entryPrice = plan.Entry.Price
	}
	size := entry.Quantity
	if size <= 0 {
		size = plan.Entry.Quantity
	}

	pos := &models.Position{
		SetupID:      s.ID,
		InstrumentID: s.InstrumentID,
		Symbol:       s.Symbol,
		Direction:    s.Direction,
		Timeframe:    s.EntryTimeframe,
		EntryPrice:   entryPrice,
		Size:         size,
		StopPrice:    plan.Stop.StopPrice,
		Status:       models.PositionOpen,
		EntryOrderID: entry.OrderID,
		OpenedAt:     now,
	}

	stopOrder, err := l.exchange.PlaceStopLoss(ctx, plan.Stop)
	if err != nil {
		l.logger.Error("stop loss rejected, closing position",
			utils.SetupID(s.ID), utils.Symbol(s.Symbol), utils.Err(err))
		if _, cerr := l.exchange.ClosePosition(ctx, pos); cerr != nil {
			return fmt.Errorf("close unprotected position: %w (stop: %v)", cerr, err)
		}
		return fmt.Errorf("place stop: %w", err)
	}
	pos.StopOrderID = stopOrder.OrderID

	for i, target := range plan.Targets {
		target.ClientOrderID = fmt.Sprintf("tc-%d-tp%d-%s", s.ID, i+1, tag)
		placed, err := l.exchange.PlaceTakeProfit(ctx, target)
		if err != nil {
			l.entityError("take_profit", err, utils.SetupID(s.ID), utils.Int("target", i+1))
			continue
		}
		pos.TakeProfitOrderIDs = append(pos.TakeProfitOrderIDs, placed.OrderID)
	}

	if err := l.stores.Positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}

	l.machine.HandleEvent(NewEvent(EventTradeExecuted, now, map[string]interface{}{
		"setup_id": s.ID, "position_id": pos.ID, "entry_order_id": entry.OrderID,
	}), StateContext{Now: now})

	RecordTrade(s.Symbol, "opened", 0)
	l.logger.Info("position opened",
		utils.SetupID(s.ID), utils.PositionID(pos.ID), utils.Symbol(s.Symbol),
		utils.Side(string(plan.Entry.Side)), utils.Price(entryPrice), utils.Volume(size),
		utils.Float64("stop", pos.StopPrice), utils.Int("targets", len(plan.Targets)))
	l.publish("position", pos)
	return nil
}

// ============================================================
// Сопровождение позиций
// ============================================================

func (l *Loop) manageOpenPositions(ctx context.Context, now time.Time) {
	open, err := l.stores.Positions.Open(ctx)
	if err != nil {
		l.entityError("positions", err)
		return
	}

	for i := range open {
		p := &open[i]
		if err := l.managePosition(ctx, p, now); err != nil {
			l.entityError("positions", err, utils.PositionID(p.ID), utils.Symbol(p.Symbol))
		}
	}
}

// stopCrossed - цена дошла до стопа позиции
func stopCrossed(p *models.Position, price float64) bool {
	if p.StopPrice <= 0 {
		return false
	}
	if p.IsShort() {
		return price >= p.StopPrice
	}
	return price <= p.StopPrice
}

func (l *Loop) managePosition(ctx context.Context, p *models.Position, now time.Time) error {
	price, err := l.price(ctx, p.Symbol)
	if err != nil {
		return err
	}

	if stopCrossed(p, price) {
		return l.closePosition(ctx, p, price, models.ExitStopLoss, now)
	}

	action := risk.ManagePosition(p, price, now, l.strategy.Position)
	switch action.Kind {
	case risk.ActionClose:
		return l.closePosition(ctx, p, price, action.Reason, now)
	case risk.ActionTrail, risk.ActionBreakeven:
		return l.moveStop(ctx, p, action)
	}
	return nil
}

func (l *Loop) moveStop(ctx context.Context, p *models.Position, action risk.Action) error {
	_, exit := execution.Sides(p.Direction)
	offset := l.strategy.Plan.StopLimitOffsetPercent
	limit := action.StopPrice * (1 - offset)
	if p.IsShort() {
		limit = action.StopPrice * (1 + offset)
	}

	placed, err := l.exchange.UpdateStopLoss(ctx, p.StopOrderID, models.OrderIntent{
		Symbol:     p.Symbol,
		Side:       exit,
		Kind:       models.OrderStopLimit,
		Quantity:   p.Size,
		Price:      action.StopPrice,
		StopPrice:  action.StopPrice,
		LimitPrice: limit,
	})
	if err != nil {
		return fmt.Errorf("update stop: %w", err)
	}

	previous := p.StopPrice
	p.StopPrice = action.StopPrice
	p.StopOrderID = placed.OrderID
	if action.Kind == risk.ActionBreakeven {
		p.BreakevenMoved = true
	} else {
		p.TrailingActive = true
	}
	if err := l.stores.Positions.Update(ctx, p); err != nil {
		return err
	}

	l.logger.Info("stop moved",
		utils.PositionID(p.ID), utils.Symbol(p.Symbol), utils.String("action", string(action.Kind)),
		utils.Float64("from", previous), utils.Float64("to", action.StopPrice), utils.Float64("pnl_percent", action.PNLPercent))
	l.publish("position", p)
	return nil
}

// cancelExitOrders снимает стоп и цели позиции перед рыночным закрытием.
// Ошибка отмены закрытие не останавливает.
func (l *Loop) cancelExitOrders(ctx context.Context, p *models.Position) {
	ids := append([]string{p.StopOrderID}, p.TakeProfitOrderIDs...)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := l.exchange.CancelOrder(ctx, p.Symbol, id); err != nil {
			l.entityError("cancel_order", err, utils.PositionID(p.ID), utils.Symbol(p.Symbol), utils.String("order_id", id))
		}
	}
}

// closePosition снимает защитные ордера, закрывает позицию на бирже и
// фиксирует результат
func (l *Loop) closePosition(ctx context.Context, p *models.Position, price float64, reason string, now time.Time) error {
	l.cancelExitOrders(ctx, p)
	placed, err := l.exchange.ClosePosition(ctx, p)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	exitPrice := price
	if placed != nil && placed.Price > 0 {
		exitPrice = placed.Price
	}

	p.ExitPrice = &exitPrice
	p.PNLPercent = risk.PNLPercent(p, exitPrice)
	p.PNL = p.PNLPercent * p.EntryPrice * p.Size
	p.Status = models.PositionClosed
	p.ExitReason = reason
	p.ClosedAt = &now
	if err := l.stores.Positions.Close(ctx, p); err != nil {
		return err
	}

	result := "win"
	if p.PNL < 0 {
		result = "loss"
	}
	RecordTrade(p.Symbol, result, p.PNL)

	losses := 0
	if balance, err := l.exchange.GetAccountBalance(ctx); err != nil {
		l.entityError("balance", err)
	} else if rc, err := l.stores.Positions.RiskContext(ctx, 0, balance, utils.GetDayStartFrom(now)); err != nil {
		l.entityError("risk_context", err)
	} else {
		losses = rc.ConsecutiveLosses
	}

	res := l.machine.HandleEvent(NewEvent(EventPositionClosed, now, map[string]interface{}{
		"position_id": p.ID, "reason": reason, "pnl": p.PNL,
	}), StateContext{Now: now, ConsecutiveLosses: losses})
	l.advise(res.Advisories...)

	l.logger.Info("position closed",
		utils.PositionID(p.ID), utils.Symbol(p.Symbol), utils.Reason(reason),
		utils.Price(exitPrice), utils.PNL(p.PNL), utils.String("pnl_percent", utils.FormatPercent(p.PNLPercent)))
	l.publish("position", p)
	return nil
}

// flattenPositions закрывает все открытые позиции по предохранителю
func (l *Loop) flattenPositions(ctx context.Context, now time.Time) {
	open, err := l.stores.Positions.Open(ctx)
	if err != nil {
		l.entityError("flatten", err)
		return
	}
	for i := range open {
		p := &open[i]
		price, err := l.price(ctx, p.Symbol)
		if err != nil {
			price = p.EntryPrice
		}
		if err := l.closePosition(ctx, p, price, models.ExitFlatten, now); err != nil {
			l.entityError("flatten", err, utils.PositionID(p.ID), utils.Symbol(p.Symbol))
		}
	}
}
