package bot

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/market"
	"tradecore/internal/models"
	"tradecore/internal/signals"
	"tradecore/pkg/utils"
)

type marketKey struct {
	instrumentID int64
	tf           models.Timeframe
}

// marketState - кэш рынка по инструменту и таймфрейму
type marketState struct {
	symbol  string
	candles []models.Candle
	data    market.MarketData
	levels  []models.PriceLevel
}

// Сколько последних свечей отдаётся в MarketData.RecentCandles
const recentCandles = 5

func (st *marketState) recompute(instrumentID int64, tf models.Timeframe) error {
	if len(st.candles) == 0 {
		return fmt.Errorf("%s %s: no candles", st.symbol, tf)
	}
	ind, err := market.ComputeIndicators(st.candles)
	if err != nil {
		return err
	}
	last := st.candles[len(st.candles)-1]
	from := max(0, len(st.candles)-recentCandles)

	st.data = market.MarketData{
		Price:         last.Close,
		Candle:        last,
		RecentCandles: append([]models.Candle(nil), st.candles[from:]...),
		Indicators:    ind,
	}
	st.levels = market.DetectLevels(instrumentID, tf, st.candles)
	return nil
}

// append добавляет закрытую свечу; свеча с тем же временем открытия заменяется
func (st *marketState) append(c models.Candle, history int) {
	if n := len(st.candles); n > 0 && !c.OpenTime.After(st.candles[n-1].OpenTime) {
		if c.OpenTime.Equal(st.candles[n-1].OpenTime) {
			st.candles[n-1] = c
		}
		return
	}
	st.candles = append(st.candles, c)
	if len(st.candles) > history {
		st.candles = append([]models.Candle(nil), st.candles[len(st.candles)-history:]...)
	}
}

// loadMarket загружает историю закрытых свечей с биржи
func (l *Loop) loadMarket(ctx context.Context, inst models.Instrument, tf models.Timeframe) (*marketState, error) {
	candles, err := l.exchange.FetchCandles(ctx, inst.Symbol, tf, l.cfg.CandleHistory+1)
	if err != nil {
		return nil, err
	}
	// последняя свеча ответа ещё не закрыта
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	st := &marketState{symbol: inst.Symbol, candles: candles}
	if err := st.recompute(inst.ID, tf); err != nil {
		return nil, err
	}
	l.market[marketKey{inst.ID, tf}] = st
	return st, nil
}

// marketState возвращает кэш рынка, загружая его при первом обращении
func (l *Loop) marketState(ctx context.Context, inst models.Instrument, tf models.Timeframe) (*marketState, error) {
	if st, ok := l.market[marketKey{inst.ID, tf}]; ok {
		return st, nil
	}
	return l.loadMarket(ctx, inst, tf)
}

// marketData - срез рынка с текущей ценой
func (l *Loop) marketData(ctx context.Context, instrumentID int64, symbol string, tf models.Timeframe) (market.MarketData, error) {
	inst, ok := l.instruments[instrumentID]
	if !ok {
		inst = models.Instrument{ID: instrumentID, Symbol: symbol}
	}
	st, err := l.marketState(ctx, inst, tf)
	if err != nil {
		return market.MarketData{}, err
	}
	md := st.data
	price, err := l.price(ctx, symbol)
	if err != nil {
		return market.MarketData{}, err
	}
	md.Price = price
	return md, nil
}

// ============================================================
// Закрытие свечи
// ============================================================

// processNewCandle обновляет рынок, режим и сигналы всех инструментов
// после закрытия свечи таймфрейма
func (l *Loop) processNewCandle(ctx context.Context, tf models.Timeframe, now time.Time) {
	setups, err := l.stores.Setups.ActiveForEvaluation(ctx)
	if err != nil {
		l.entityError("candle", err, utils.Timeframe(string(tf)))
		setups = nil
	}

	for _, inst := range l.instruments {
		if err := l.processInstrumentCandle(ctx, inst, tf, setups, now); err != nil {
			l.entityError("candle", err, utils.Symbol(inst.Symbol), utils.Timeframe(string(tf)))
		}
	}
}

func (l *Loop) processInstrumentCandle(ctx context.Context, inst models.Instrument, tf models.Timeframe, setups []models.Setup, now time.Time) error {
	st, err := l.refreshMarket(ctx, inst, tf)
	if err != nil {
		return err
	}

	if err := l.updateRegime(ctx, inst, tf, st, now); err != nil {
		return err
	}

	for i := range setups {
		s := &setups[i]
		if s.InstrumentID != inst.ID || s.EntryTimeframe != tf {
			continue
		}
		if err := l.detectSignals(ctx, s, tf, st.data, now); err != nil {
			l.entityError("detection", err, utils.SetupID(s.ID))
		}
	}

	if _, err := l.stores.Setups.IncrementCandles(ctx, inst.ID, tf); err != nil {
		return err
	}
	return nil
}

// refreshMarket дописывает последнюю закрытую свечу в кэш
func (l *Loop) refreshMarket(ctx context.Context, inst models.Instrument, tf models.Timeframe) (*marketState, error) {
	st, ok := l.market[marketKey{inst.ID, tf}]
	if !ok {
		return l.loadMarket(ctx, inst, tf)
	}
	c, err := l.exchange.FetchLatestCandle(ctx, inst.Symbol, tf)
	if err != nil {
		return nil, err
	}
	st.append(*c, l.cfg.CandleHistory)
	if err := st.recompute(inst.ID, tf); err != nil {
		return nil, err
	}
	return st, nil
}

// updateRegime записывает новый режим, если классификация изменилась
func (l *Loop) updateRegime(ctx context.Context, inst models.Instrument, tf models.Timeframe, st *marketState, now time.Time) error {
	c := market.ClassifyRegime(st.data.Indicators, st.data.Candle.Close, l.strategy.Regime)
	current, err := l.stores.Regimes.Current(ctx, inst.ID, tf)
	if err != nil {
		return err
	}
	if market.SameRegime(current, c) {
		return nil
	}

	regime := market.NewRegime(inst.ID, tf, c, st.data.Indicators, now)
	if err := l.stores.Regimes.Replace(ctx, regime); err != nil {
		return err
	}
	l.logger.Info("market regime changed",
		utils.Symbol(inst.Symbol), utils.Timeframe(string(tf)),
		utils.String("regime", string(regime.Type)), utils.Float64("atr_ratio", c.VolatilityRatio))
	l.publish("regime", regime)
	return nil
}

func (l *Loop) detectSignals(ctx context.Context, s *models.Setup, tf models.Timeframe, md market.MarketData, now time.Time) error {
	types, err := l.stores.Signals.ValidTypes(ctx, s.ID)
	if err != nil {
		return err
	}
	existing := make(map[models.SignalType]bool, len(types))
	for _, t := range types {
		existing[t] = true
	}

	fired := signals.Detect(signals.DetectInput{
		Setup:     s,
		Timeframe: tf,
		Market:    md,
		Existing:  existing,
		Now:       now,
	})
	for i := range fired {
		sig := &fired[i]
		if err := l.stores.Signals.Create(ctx, sig); err != nil {
			return err
		}
		SignalsFired.WithLabelValues(string(sig.Type), signals.DetectorSource).Inc()
		l.logger.Debug("signal fired",
			utils.SetupID(s.ID), utils.SignalID(sig.ID), utils.String("type", string(sig.Type)))
		l.publish("signal", sig)
	}
	return nil
}
