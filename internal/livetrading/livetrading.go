// Package livetrading runs the trading loop: one sequential tick that
// settles, monitors and, when the stars align, enters. The tick is the only
// writer of the portfolio, so the core packages stay lock-free.
package livetrading

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/config"
	"github.com/amirphl/polyswing/internal/db"
	"github.com/amirphl/polyswing/internal/exchange"
	"github.com/amirphl/polyswing/internal/indicator"
	"github.com/amirphl/polyswing/internal/journal"
	"github.com/amirphl/polyswing/internal/metrics"
	"github.com/amirphl/polyswing/internal/notifier"
	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/position"
	"github.com/amirphl/polyswing/internal/risk"
	"github.com/amirphl/polyswing/internal/settlement"
	"github.com/amirphl/polyswing/internal/strategy"
)

// Engine wires the decision core to its collaborators and drives the tick.
type Engine struct {
	cfg config.Config

	indicators *indicator.Engine
	detector   *strategy.Detector
	gate       strategy.Gate
	risk       *risk.Manager
	positions  *position.Manager
	reconciler *settlement.Reconciler
	pf         *portfolio.State

	quotes  exchange.QuoteFeed
	spot    exchange.SpotFeed
	storage db.Storage
	notify  notifier.Notifier
	log     zerolog.Logger

	killNotified bool
}

func NewEngine(
	cfg config.Config,
	indicators *indicator.Engine,
	detector *strategy.Detector,
	gate strategy.Gate,
	riskMgr *risk.Manager,
	positions *position.Manager,
	reconciler *settlement.Reconciler,
	pf *portfolio.State,
	quotes exchange.QuoteFeed,
	spot exchange.SpotFeed,
	storage db.Storage,
	notify notifier.Notifier,
	log zerolog.Logger,
) *Engine {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Engine{
		cfg:        cfg,
		indicators: indicators,
		detector:   detector,
		gate:       gate,
		risk:       riskMgr,
		positions:  positions,
		reconciler: reconciler,
		pf:         pf,
		quotes:     quotes,
		spot:       spot,
		storage:    storage,
		notify:     notify,
		log:        log.With().Str("component", "livetrading").Logger(),
	}
}

// Run executes ticks until the context is cancelled. The cadence tightens
// while positions are open; a tick in flight always finishes before Run
// returns.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info().
		Dur("poll", e.cfg.PollInterval.Std()).
		Dur("active_poll", e.cfg.ActivePollInterval.Std()).
		Msg("trading loop started")

	for {
		e.Tick(ctx, time.Now().UTC())

		interval := e.cfg.PollInterval
		if e.pf.Count() > 0 {
			interval = e.cfg.ActivePollInterval
		}
		select {
		case <-ctx.Done():
			e.log.Info().Msg("trading loop stopped")
			return
		case <-time.After(interval.Std()):
		}
	}
}

// Tick runs one full evaluation pass: settle, sync, monitor, then scan for
// entries per asset.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	metrics.TicksTotal.Inc()

	e.reconcile(ctx, now)

	if err := e.reconciler.SyncBalance(ctx, e.pf); err != nil {
		e.log.Warn().Err(err).Msg("balance sync failed, keeping tracked value")
	}
	metrics.BalanceUSDC.Set(e.pf.Balance)

	e.positions.Monitor(ctx, e.pf, now)
	for _, pos := range e.pf.Open() {
		e.persistPosition(ctx, pos)
	}

	if e.risk.Drawdown(e.pf) {
		if !e.killNotified {
			e.killNotified = true
			e.log.Error().
				Float64("balance", e.pf.Balance).
				Float64("initial", e.pf.InitialCapital).
				Msg("drawdown limit hit, entries halted")
			if err := e.notify.SendWithRetry(fmt.Sprintf(
				"🛑 drawdown limit hit: balance $%.2f of $%.2f initial - no new entries",
				e.pf.Balance, e.pf.InitialCapital)); err != nil {
				e.log.Error().Err(err).Msg("kill switch notification failed")
			}
		}
	} else {
		e.killNotified = false
		for _, asset := range e.assets() {
			e.evaluateAsset(ctx, asset, now)
		}
	}

	metrics.OpenPositions.Set(float64(e.pf.Count()))
}

func (e *Engine) assets() []string {
	out := make([]string, 0, len(e.cfg.Assets))
	for asset := range e.cfg.Assets {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) reconcile(ctx context.Context, now time.Time) {
	for _, outcome := range e.reconciler.Reconcile(ctx, e.pf, now) {
		pos := outcome.Position
		metrics.SettlementsTotal.WithLabelValues(pos.Asset, verdictLabel(outcome.Won)).Inc()
		e.persistPosition(ctx, pos)
		e.journalEvent(ctx, journal.Event{
			Time:        now,
			Type:        journal.TypeSettlement,
			Asset:       pos.Asset,
			Description: fmt.Sprintf("market %s settled", pos.MarketID),
			Data: map[string]any{
				"market_id": pos.MarketID,
				"won":       outcome.Won,
				"payout":    outcome.Payout,
				"stake":     pos.Stake,
			},
		})
	}
}

func verdictLabel(won bool) string {
	if won {
		return "won"
	}
	return "lost"
}

func (e *Engine) evaluateAsset(ctx context.Context, asset string, now time.Time) {
	if e.pf.Has(asset) {
		return
	}
	assetCfg := e.cfg.Assets[asset]

	quote, err := e.quotes.ActiveMarket(ctx, asset)
	if err != nil {
		e.log.Warn().Err(err).Str("asset", asset).Msg("market scan failed")
		return
	}
	if quote == nil {
		return
	}
	if !e.gate.Admit(quote.OpenTime, quote.CloseTime, now) {
		e.log.Debug().
			Str("asset", asset).
			Str("market", quote.MarketID).
			Time("close", quote.CloseTime).
			Msg("outside entry window")
		return
	}

	snap, ok := e.refreshIndicators(ctx, asset, assetCfg.BinanceSymbol)
	if !ok {
		return
	}

	changePct := e.indicators.ChangePct(asset, e.cfg.SpotChangeLookback)
	sig := e.detector.Detect(snap, *quote, changePct)
	if sig.Direction == strategy.None {
		return
	}

	metrics.SignalsTotal.WithLabelValues(asset, sig.Direction.String()).Inc()
	e.journalEvent(ctx, journal.Event{
		Time:        now,
		Type:        journal.TypeSignal,
		Asset:       asset,
		Description: sig.Reason,
		Data: map[string]any{
			"direction":  sig.Direction.String(),
			"confidence": sig.Confidence,
			"divergence": sig.Divergence,
			"rsi":        snap.RSI,
			"implied_up": quote.ImpliedUpProb,
		},
	})

	decision := e.risk.AuthorizeEntry(asset, sig, e.pf)
	if !decision.Approved {
		metrics.RiskRejectionsTotal.WithLabelValues(asset).Inc()
		e.journalEvent(ctx, journal.Event{
			Time:        now,
			Type:        journal.TypeRiskRejected,
			Asset:       asset,
			Description: decision.Reason,
		})
		return
	}

	pos, err := e.positions.Enter(ctx, e.pf, quote, sig, decision.Stake, snap)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(asset, "entry", "failed").Inc()
		e.log.Error().Err(err).Str("asset", asset).Msg("entry failed")
		return
	}
	metrics.OrdersTotal.WithLabelValues(asset, "entry", "ok").Inc()
	e.persistPosition(ctx, pos)
	e.journalEvent(ctx, journal.Event{
		Time:        now,
		Type:        journal.TypeEntry,
		Asset:       asset,
		Description: fmt.Sprintf("%s %s @ %.3f", sig.Direction, quote.Question, pos.EntryPrice),
		Data: map[string]any{
			"market_id": pos.MarketID,
			"stake":     pos.Stake,
			"shares":    pos.Shares,
			"order_id":  pos.OrderID,
		},
	})
	if err := e.notify.Send(fmt.Sprintf("📈 %s %s: $%.2f @ %.3f (%s)",
		asset, sig.Direction, pos.Stake, pos.EntryPrice, sig.Reason)); err != nil {
		e.log.Warn().Err(err).Msg("entry notification failed")
	}
}

// refreshIndicators pulls the latest closed candles, persists them and feeds
// them through the indicator engine. The series ignores already-seen
// timestamps, so refeeding a window is harmless.
func (e *Engine) refreshIndicators(ctx context.Context, asset, symbol string) (indicator.Snapshot, bool) {
	candles, err := e.spot.Candles(ctx, symbol, e.cfg.Timeframe, e.cfg.CandleLimit)
	if err != nil {
		e.log.Warn().Err(err).Str("asset", asset).Msg("candle fetch failed")
		return indicator.Snapshot{}, false
	}
	if len(candles) == 0 {
		return indicator.Snapshot{}, false
	}
	if err := e.storage.SaveCandles(ctx, candles); err != nil {
		e.log.Warn().Err(err).Str("asset", asset).Msg("candle persistence failed")
	}

	var snap indicator.Snapshot
	for _, c := range candles {
		snap = e.indicators.Update(asset, c.Close, c.Timestamp)
	}

	// Live trades are fresher than the last closed candle.
	if px, ok := e.spot.LastPrice(symbol); ok {
		snap.Price = px
	}
	return snap, true
}

func (e *Engine) persistPosition(ctx context.Context, pos *portfolio.Position) {
	if err := e.storage.SavePosition(ctx, pos); err != nil {
		e.log.Error().Err(err).Str("market", pos.MarketID).Msg("position persistence failed")
	}
}

func (e *Engine) journalEvent(ctx context.Context, event journal.Event) {
	if err := e.storage.LogEvent(ctx, event); err != nil {
		e.log.Warn().Err(err).Str("type", event.Type).Msg("journal write failed")
	}
}

// Recover reloads unsettled positions from storage into the portfolio after
// a restart. Positions past their cap are left for the reconciler only.
func (e *Engine) Recover(ctx context.Context) error {
	positions, err := e.storage.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	for _, pos := range positions {
		if err := e.pf.Add(pos); err != nil {
			e.log.Warn().Err(err).Str("market", pos.MarketID).Msg("skipping recovered position")
			continue
		}
		e.log.Info().
			Str("asset", pos.Asset).
			Str("market", pos.MarketID).
			Str("status", string(pos.Status)).
			Msg("recovered open position")
	}
	return nil
}
