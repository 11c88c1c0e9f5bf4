package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/exchange"
	"tradecore/internal/execution"
	"tradecore/internal/market"
	"tradecore/internal/models"
	"tradecore/internal/risk"
	"tradecore/internal/setup"
	"tradecore/internal/signals"
	"tradecore/pkg/utils"
)

// LoopConfig - параметры торгового цикла
type LoopConfig struct {
	Account                   string
	EnableTrading             bool
	MaxConcurrentSetups       int
	MaxConcurrentTrades       int
	RiskPerTradePercent       float64
	PauseOnVolatilitySpike    bool
	VolatilitySpikeMultiplier float64
	// CandleHistory - сколько свечей держать для индикаторов и уровней
	CandleHistory int
	// EntryTimeframes - таймфреймы, на которых ищутся сетапы
	EntryTimeframes []models.Timeframe
}

// DefaultLoopConfig возвращает параметры по умолчанию
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Account:                   "default",
		EnableTrading:             true,
		MaxConcurrentSetups:       10,
		MaxConcurrentTrades:       5,
		RiskPerTradePercent:       0.01,
		PauseOnVolatilitySpike:    true,
		VolatilitySpikeMultiplier: 2.0,
		CandleHistory:             120,
		EntryTimeframes:           []models.Timeframe{models.Timeframe1H, models.Timeframe4H},
	}
}

// ContextTimeframe - старший таймфрейм для контекста входа
func ContextTimeframe(entry models.Timeframe) models.Timeframe {
	switch entry {
	case models.Timeframe1H:
		return models.Timeframe4H
	case models.Timeframe4H:
		return models.Timeframe1D
	}
	return ""
}

// Strategy - пороги стратегии, переопределяемые файлом стратегии
type Strategy struct {
	Risk         risk.Config
	Breakers     risk.BreakerConfig
	Position     risk.PositionConfig
	Plan         execution.PlanConfig
	Regime       market.RegimeConfig
	StateMachine StateMachineConfig
	Policy       *signals.Policy
}

// DefaultStrategy возвращает пороги по умолчанию
func DefaultStrategy() Strategy {
	return Strategy{
		Risk:         risk.DefaultConfig(),
		Breakers:     risk.DefaultBreakerConfig(),
		Position:     risk.DefaultPositionConfig(),
		Plan:         execution.DefaultPlanConfig(),
		Regime:       market.DefaultRegimeConfig(),
		StateMachine: DefaultStateMachineConfig(),
		Policy:       signals.DefaultPolicy(),
	}
}

// Deps - зависимости цикла
type Deps struct {
	Stores    Stores
	Exchange  Exchange
	Machine   *StateMachine
	Publisher Publisher
	Logger    *utils.Logger
}

// ErrTickInProgress - предыдущий тик ещё выполняется
var ErrTickInProgress = errors.New("tick already in progress")

// Порог подряд идущих тиков с сетевыми ошибками, после которого связь
// с биржей считается нестабильной
const networkFailureTicks = 3

// Loop - торговый цикл одного аккаунта. Тики выполняются строго по одному.
type Loop struct {
	cfg         LoopConfig
	strategy    Strategy
	stores      Stores
	exchange    Exchange
	machine     *StateMachine
	publisher   Publisher
	logger      *utils.Logger
	revalidator *signals.Revalidator

	tickMu sync.Mutex

	// состояние внутри тика, доступ только из Tick
	market        map[marketKey]*marketState
	instruments   map[int64]models.Instrument
	prices        map[string]float64
	advisories    risk.Advisories
	apiErrors     int
	networkErrors int

	// итоги прошлого тика для предохранителей
	prevAPIErrors int
	networkStreak int

	// открытие последней учтённой свечи по таймфреймам
	lastCandle map[models.Timeframe]time.Time
}

// NewLoop создаёт цикл
func NewLoop(cfg LoopConfig, strategy Strategy, deps Deps) *Loop {
	if strategy.Policy == nil {
		strategy.Policy = signals.DefaultPolicy()
	}
	if cfg.CandleHistory <= 0 {
		cfg.CandleHistory = DefaultLoopConfig().CandleHistory
	}
	if len(cfg.EntryTimeframes) == 0 {
		cfg.EntryTimeframes = DefaultLoopConfig().EntryTimeframes
	}
	// ордера плана маршрутизируются на биржу самим циклом
	strategy.Plan.RouterAttached = deps.Exchange != nil

	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}
	machine := deps.Machine
	if machine == nil {
		machine = NewStateMachine(strategy.StateMachine, nil)
	}

	return &Loop{
		cfg:         cfg,
		strategy:    strategy,
		stores:      deps.Stores,
		exchange:    deps.Exchange,
		machine:     machine,
		publisher:   deps.Publisher,
		logger:      logger.WithComponent("loop").With(utils.Account(cfg.Account)),
		revalidator: signals.NewRevalidator(strategy.Policy),
		market:      make(map[marketKey]*marketState),
		instruments: make(map[int64]models.Instrument),
		lastCandle:  make(map[models.Timeframe]time.Time),
	}
}

// Machine возвращает торговый автомат цикла
func (l *Loop) Machine() *StateMachine {
	return l.machine
}

// Run выполняет тики с заданным интервалом до отмены ctx
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("trading loop started", utils.String("interval", interval.String()))
	for {
		if err := l.Tick(ctx, time.Now().UTC()); err != nil && !errors.Is(err, ErrTickInProgress) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("tick failed", utils.Err(err))
		}

		select {
		case <-ctx.Done():
			l.logger.Info("trading loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick выполняет одну итерацию цикла. Ошибка отдельной сущности
// логируется и не прерывает обработку остальных.
func (l *Loop) Tick(ctx context.Context, now time.Time) error {
	if !l.tickMu.TryLock() {
		TicksTotal.WithLabelValues("skipped").Inc()
		return ErrTickInProgress
	}
	defer l.tickMu.Unlock()

	start := time.Now()
	l.beginTick()
	defer func() {
		l.endTick()
		TickDuration.Observe(time.Since(start).Seconds())
	}()

	if err := l.loadInstruments(ctx); err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}

	// (a) закрытие свечей
	for _, tf := range l.closedTimeframes(now) {
		l.processNewCandle(ctx, tf, now)
	}

	// проверка безопасности до любых изменений сетапов
	if reasons := l.safetyCheck(ctx, now); len(reasons) > 0 {
		l.logger.Warn("trading paused by safety check", utils.Reason(strings.Join(reasons, "; ")))
		res := l.machine.HandleEvent(
			NewEvent(EventSafetyPause, now, map[string]interface{}{"reasons": reasons}),
			StateContext{Now: now},
		)
		l.advise(res.Advisories...)
		TicksTotal.WithLabelValues("paused").Inc()
		return nil
	}

	if l.machine.State() == StatePaused {
		res := l.machine.HandleEvent(
			NewEvent(EventResumeRequested, now, map[string]interface{}{"reason": "safety check cleared"}),
			StateContext{Now: now, AllowResume: true},
		)
		l.advise(res.Advisories...)
	}
	if l.machine.State() == StatePaused {
		TicksTotal.WithLabelValues("paused").Inc()
		return nil
	}
	if l.machine.State() == StateCooldown {
		l.machine.HandleEvent(NewEvent(EventCooldownElapsed, now, nil), StateContext{Now: now})
	}

	// (b) - (h)
	l.expireSetups(ctx, now)
	l.checkInvalidations(ctx, now)
	l.revalidateSignals(ctx, now)
	l.evaluateSetups(ctx, now)

	if count, err := l.stores.Setups.CountActive(ctx); err != nil {
		l.entityError("scan", err)
	} else if count < l.cfg.MaxConcurrentSetups {
		l.scanForSetups(ctx, now, l.cfg.MaxConcurrentSetups-count)
	}

	l.manageOpenPositions(ctx, now)

	if err := ctx.Err(); err != nil {
		return err
	}
	TicksTotal.WithLabelValues("ok").Inc()
	return nil
}

// closedTimeframes возвращает таймфреймы, свеча которых закрылась с
// прошлого тика. Тики не обязаны попадать в окно закрытия: достаточно,
// чтобы открытие текущей свечи сдвинулось. На первом тике после старта
// свеча учитывается только в окне закрытия.
func (l *Loop) closedTimeframes(now time.Time) []models.Timeframe {
	var closed []models.Timeframe
	for _, tf := range models.Timeframes {
		open := market.CandleOpen(tf, now)
		last, seen := l.lastCandle[tf]
		switch {
		case !seen:
			if market.IsNewCandleClosed(tf, now) {
				closed = append(closed, tf)
			}
		case open.After(last):
			closed = append(closed, tf)
		}
		if !seen || open.After(last) {
			l.lastCandle[tf] = open
		}
	}
	return closed
}

func (l *Loop) beginTick() {
	l.prices = make(map[string]float64)
	l.advisories.Reset()
	l.apiErrors = 0
	l.networkErrors = 0
}

// endTick логирует пометки тика по одному разу и подводит итоги ошибок бирж
func (l *Loop) endTick() {
	for _, a := range l.advisories.Items() {
		l.logger.Info("pending capability", utils.Advisory(a.ID), utils.Reason(a.Description))
		AdvisoriesTotal.WithLabelValues(a.ID).Inc()
	}

	l.prevAPIErrors = l.apiErrors
	if l.networkErrors > 0 {
		l.networkStreak++
	} else {
		l.networkStreak = 0
	}
}

func (l *Loop) advise(items ...risk.Advisory) {
	l.advisories.Add(items...)
}

// entityError логирует ошибку сущности и учитывает ошибки бирж
func (l *Loop) entityError(stage string, err error, fields ...zap.Field) {
	EntityErrors.WithLabelValues(stage).Inc()
	if kind, ok := exchange.KindOf(err); ok {
		l.apiErrors++
		if kind == exchange.KindNetwork || kind == exchange.KindTimeout {
			l.networkErrors++
		}
	}
	l.logger.Error(stage+" failed", append(fields, utils.Err(err))...)
}

func (l *Loop) publish(kind string, data interface{}) {
	if l.publisher != nil {
		l.publisher.Publish(kind, data)
	}
}

func (l *Loop) loadInstruments(ctx context.Context) error {
	list, err := l.stores.Instruments.Active(ctx)
	if err != nil {
		return err
	}
	l.instruments = make(map[int64]models.Instrument, len(list))
	for _, inst := range list {
		l.instruments[inst.ID] = inst
	}
	return nil
}

// price - текущая цена, запрашивается не чаще раза за тик
func (l *Loop) price(ctx context.Context, symbol string) (float64, error) {
	if p, ok := l.prices[symbol]; ok {
		return p, nil
	}
	p, err := l.exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	l.prices[symbol] = p
	return p, nil
}

// ============================================================
// Проверка безопасности
// ============================================================

// safetyCheck возвращает причины паузы; пустой список - торговать можно
func (l *Loop) safetyCheck(ctx context.Context, now time.Time) []string {
	var reasons []string
	if !l.cfg.EnableTrading {
		reasons = append(reasons, "trading disabled")
	}

	ratio := 1.0
	for key, st := range l.market {
		ind := st.data.Indicators
		if ind.ATR == nil || ind.ATRBaseline == nil || *ind.ATRBaseline == 0 {
			continue
		}
		ratio = max(ratio, *ind.ATR / *ind.ATRBaseline)
		if !l.cfg.PauseOnVolatilitySpike {
			continue
		}
		if res := setup.CheckVolatility(*ind.ATR, *ind.ATRBaseline, l.cfg.VolatilitySpikeMultiplier); !res.Valid {
			reasons = append(reasons, fmt.Sprintf("%s %s: %s", st.symbol, key.tf, res.Reason))
		}
	}

	snap := risk.BreakerSnapshot{
		VolatilityMultiplier: ratio,
		APIErrorCount:        l.prevAPIErrors,
		ConnectivityStable:   l.networkStreak < networkFailureTicks,
	}
	if balance, err := l.exchange.GetAccountBalance(ctx); err != nil {
		l.entityError("balance", err)
		snap.AccountUnavailable = true
	} else if rc, err := l.stores.Positions.RiskContext(ctx, 0, balance, utils.GetDayStartFrom(now)); err != nil {
		l.entityError("risk_context", err)
		snap.AccountUnavailable = true
	} else {
		snap.DailyLossPercent = rc.DailyLossPercent
		snap.ConsecutiveLosses = rc.ConsecutiveLosses
	}
	if snap.AccountUnavailable {
		l.logger.Warn("daily loss and loss streak breakers skipped: account state unavailable")
	}

	br := risk.EvaluateCircuitBreakers(snap, l.strategy.Breakers)
	l.advise(br.Advisories...)
	if br.ShouldFlatten {
		BreakerTrips.WithLabelValues("flatten").Inc()
		l.flattenPositions(ctx, now)
	}
	if br.ShouldPause {
		BreakerTrips.WithLabelValues("pause").Inc()
		reasons = append(reasons, br.Reasons...)
	}
	return reasons
}

// ============================================================
// Жизненный цикл сетапов
// ============================================================

func (l *Loop) expireSetups(ctx context.Context, now time.Time) {
	n, err := l.stores.Setups.ExpirePastTTL(ctx, now)
	if err != nil {
		l.entityError("expire", err)
		return
	}
	if n > 0 {
		SetupTransitions.WithLabelValues(string(models.SetupExpired), "ttl").Add(float64(n))
		l.logger.Info("setups expired", utils.Int64("count", n))
	}
}

func (l *Loop) invalidate(ctx context.Context, s *models.Setup, reason models.InvalidationReason, now time.Time) error {
	if err := l.stores.Setups.Invalidate(ctx, s.ID, reason, now); err != nil {
		return err
	}
	SetupTransitions.WithLabelValues(string(models.SetupInvalidated), string(reason)).Inc()
	l.logger.Info("setup invalidated", utils.SetupID(s.ID), utils.Symbol(s.Symbol), utils.Reason(string(reason)))
	l.publish("setup", map[string]interface{}{
		"id": s.ID, "state": models.SetupInvalidated, "reason": reason,
	})
	return nil
}

func (l *Loop) checkInvalidations(ctx context.Context, now time.Time) {
	list, err := l.stores.Setups.ActiveForInvalidation(ctx)
	if err != nil {
		l.entityError("invalidation", err)
		return
	}

	for i := range list {
		s := &list[i]
		if err := l.checkSetupInvalidation(ctx, s, now); err != nil {
			l.entityError("invalidation", err, utils.SetupID(s.ID))
		}
	}
}

func (l *Loop) checkSetupInvalidation(ctx context.Context, s *models.Setup, now time.Time) error {
	price, err := l.price(ctx, s.Symbol)
	if err != nil {
		return err
	}

	minutes := 0
	if s.ActivatedAt != nil {
		minutes = market.MinutesSince(*s.ActivatedAt, now)
	}
	if reason, bad := setup.CheckInvalidation(price, s.EntryZoneLow, s.EntryZoneHigh, s.Direction, minutes); bad {
		return l.invalidate(ctx, s, reason, now)
	}

	if s.ContextRegimeID != nil && s.ContextTimeframe != "" {
		current, err := l.stores.Regimes.Current(ctx, s.InstrumentID, s.ContextTimeframe)
		if err != nil {
			return err
		}
		if current != nil {
			if res := setup.CheckContext(*s.ContextRegimeID, current); !res.Valid {
				return l.invalidate(ctx, s, models.ReasonContextRegimeChanged, now)
			}
		}
	}

	daily, err := l.stores.Regimes.Current(ctx, s.InstrumentID, models.Timeframe1D)
	if err != nil {
		return err
	}
	if res := setup.CheckDailyTrend(s.Direction, daily); !res.Valid {
		return l.invalidate(ctx, s, models.ReasonDailyTrendMisaligned, now)
	}
	return nil
}

func (l *Loop) revalidateSignals(ctx context.Context, now time.Time) {
	list, err := l.stores.Signals.ForRevalidation(ctx)
	if err != nil {
		l.entityError("revalidation", err)
		return
	}

	for i := range list {
		sig := &list[i]
		if !l.revalidator.NeedsRecheck(&sig.Signal, now) {
			continue
		}
		if err := l.revalidateSignal(ctx, sig, now); err != nil {
			l.entityError("revalidation", err, utils.SignalID(sig.ID))
		}
	}
}

func (l *Loop) revalidateSignal(ctx context.Context, sig *models.RecheckSignal, now time.Time) error {
	md, err := l.marketData(ctx, sig.InstrumentID, sig.Symbol, sig.DetectedOn)
	if err != nil {
		return err
	}

	res := l.revalidator.Revalidate(&sig.Signal, md, now)
	if !res.Valid {
		if err := l.stores.Signals.Invalidate(ctx, sig.ID, now); err != nil {
			return err
		}
		SignalInvalidations.WithLabelValues(string(sig.Type)).Inc()
		l.logger.Info("signal invalidated",
			utils.SignalID(sig.ID), utils.SetupID(sig.SetupID), utils.Reason(res.Reason))
	}
	return l.stores.Signals.TouchRecheck(ctx, sig.ID, now)
}

func (l *Loop) evaluateSetups(ctx context.Context, now time.Time) {
	list, err := l.stores.Setups.ActiveForEvaluation(ctx)
	if err != nil {
		l.entityError("evaluation", err)
		return
	}

	for i := range list {
		s := &list[i]
		if err := l.evaluateSetup(ctx, s, now); err != nil {
			l.entityError("evaluation", err, utils.SetupID(s.ID))
		}
	}
}

func (l *Loop) evaluateSetup(ctx context.Context, s *models.Setup, now time.Time) error {
	price, err := l.price(ctx, s.Symbol)
	if err != nil {
		return err
	}
	valid, err := l.stores.Signals.CountValid(ctx, s.ID)
	if err != nil {
		return err
	}

	next := setup.Evaluate(setup.InputFor(s, price, valid, market.MinutesSince(s.CreatedAt, now)))

	switch {
	case s.State == models.SetupForming && next == models.SetupActive:
		if err := l.stores.Setups.Activate(ctx, s.ID, now); err != nil {
			return err
		}
		SetupTransitions.WithLabelValues(string(models.SetupActive), "").Inc()
		l.logger.Info("setup activated", utils.SetupID(s.ID), utils.Symbol(s.Symbol), utils.Int("valid_signals", valid))
		l.publish("setup", map[string]interface{}{"id": s.ID, "state": models.SetupActive})

	case s.State == models.SetupActive && next == models.SetupTriggered:
		return l.triggerTrade(ctx, s, now)
	}
	return nil
}

func (l *Loop) scanForSetups(ctx context.Context, now time.Time, limit int) {
	existing, err := l.stores.Setups.ActiveForEvaluation(ctx)
	if err != nil {
		l.entityError("scan", err)
		return
	}

	for _, inst := range l.instruments {
		for _, tf := range l.cfg.EntryTimeframes {
			if limit <= 0 {
				return
			}
			created, err := l.scanInstrument(ctx, inst, tf, existing, limit, now)
			if err != nil {
				l.entityError("scan", err, utils.Symbol(inst.Symbol), utils.Timeframe(string(tf)))
				continue
			}
			existing = append(existing, created...)
			limit -= len(created)
		}
	}
}

func (l *Loop) scanInstrument(ctx context.Context, inst models.Instrument, tf models.Timeframe, existing []models.Setup, limit int, now time.Time) ([]models.Setup, error) {
	st, err := l.marketState(ctx, inst, tf)
	if err != nil {
		return nil, err
	}
	price, err := l.price(ctx, inst.Symbol)
	if err != nil {
		return nil, err
	}

	ctxTF := ContextTimeframe(tf)
	var ctxRegime *models.MarketRegime
	if ctxTF != "" {
		if ctxRegime, err = l.stores.Regimes.Current(ctx, inst.ID, ctxTF); err != nil {
			return nil, err
		}
	}
	daily, err := l.stores.Regimes.Current(ctx, inst.ID, models.Timeframe1D)
	if err != nil {
		return nil, err
	}

	candidates := setup.Scan(setup.ScanInput{
		Instrument:    inst,
		Timeframe:     tf,
		ContextTF:     ctxTF,
		Price:         price,
		Levels:        st.levels,
		DailyRegime:   daily,
		ContextRegime: ctxRegime,
		Existing:      existing,
		Limit:         limit,
		Now:           now,
	})

	var created []models.Setup
	for _, s := range candidates {
		if err := s.Validate(); err != nil {
			l.entityError("scan", err, utils.Symbol(inst.Symbol))
			continue
		}
		if err := l.stores.Setups.Create(ctx, s); err != nil {
			return created, err
		}
		created = append(created, *s)
		SetupsCreated.WithLabelValues(string(s.Type)).Inc()
		l.logger.Info("setup created",
			utils.SetupID(s.ID), utils.Symbol(s.Symbol), utils.Timeframe(string(tf)),
			utils.String("type", string(s.Type)), utils.Price(s.Mid()))
		l.publish("setup", s)
	}
	return created, nil
}
