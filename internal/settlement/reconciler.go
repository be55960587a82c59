// Package settlement closes the loop after market expiry: it queries the
// resolution oracle, redeems winning tokens, credits payouts and removes
// settled positions from the portfolio. It is the only writer allowed to
// remove positions.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/exchange"
	"github.com/amirphl/polyswing/internal/notifier"
	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/strategy"
)

// redemptionPrice is where winning tokens are cashed out. The venue has no
// direct redeem call for short-cycle markets; selling just under the $1
// payout clears immediately against the settlement floor.
const redemptionPrice = 0.99

// Reconciler settles expired positions against the resolution source.
type Reconciler struct {
	resolutions exchange.ResolutionSource
	account     exchange.AccountSource
	exec        exchange.OrderExecutor
	notify      notifier.Notifier
	log         zerolog.Logger
}

func NewReconciler(resolutions exchange.ResolutionSource, account exchange.AccountSource, exec exchange.OrderExecutor, notify notifier.Notifier, log zerolog.Logger) *Reconciler {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Reconciler{
		resolutions: resolutions,
		account:     account,
		exec:        exec,
		notify:      notify,
		log:         log.With().Str("component", "settlement").Logger(),
	}
}

// Outcome describes one settled position, for journaling by the caller.
type Outcome struct {
	Position *portfolio.Position
	Won      bool
	Payout   float64
}

// Reconcile settles every expired position whose market has resolved.
// Unresolved or still-trading positions are left in place for the next
// pass, so calling Reconcile again is always safe.
func (r *Reconciler) Reconcile(ctx context.Context, pf *portfolio.State, now time.Time) []Outcome {
	var outcomes []Outcome
	for _, pos := range pf.Open() {
		if now.Before(pos.Expiry) {
			continue
		}
		outcome, err := r.settle(ctx, pf, pos)
		if err != nil {
			r.log.Warn().Err(err).
				Str("asset", pos.Asset).
				Str("market", pos.MarketID).
				Msg("settlement deferred")
			continue
		}
		if outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}
	return outcomes
}

func (r *Reconciler) settle(ctx context.Context, pf *portfolio.State, pos *portfolio.Position) (*Outcome, error) {
	// A position already marked settled crashed between the mark and the
	// removal; finish the removal without paying out twice.
	if pos.Status == portfolio.StatusSettled {
		pf.Remove(pos.Asset)
		return nil, nil
	}

	res, err := r.resolutions.Resolution(ctx, pos.ConditionID)
	if err != nil {
		return nil, fmt.Errorf("query resolution: %w", err)
	}
	if res == exchange.ResolutionPending {
		return nil, nil
	}

	won := (res == exchange.ResolvedUp && pos.Direction == strategy.Up) ||
		(res == exchange.ResolvedDown && pos.Direction == strategy.Down)

	payout := 0.0
	if won {
		payout, err = r.redeem(ctx, pos)
		if err != nil {
			return nil, fmt.Errorf("redeem winnings: %w", err)
		}
		pf.Credit(payout)
	}

	if err := pos.Advance(portfolio.StatusSettled); err != nil {
		return nil, err
	}
	pf.Remove(pos.Asset)

	r.log.Info().
		Str("asset", pos.Asset).
		Str("market", pos.MarketID).
		Str("resolution", res.String()).
		Bool("won", won).
		Float64("payout", payout).
		Msg("position settled")

	verdict := "LOST"
	if won {
		verdict = fmt.Sprintf("WON $%.2f", payout)
	}
	if err := r.notify.Send(fmt.Sprintf("%s %s settled %s: %s", pos.Asset, pos.Question, res, verdict)); err != nil {
		r.log.Warn().Err(err).Msg("settlement notification failed")
	}

	return &Outcome{Position: pos, Won: won, Payout: payout}, nil
}

// redeem cashes out whatever winning tokens are still held. A position that
// already exited before expiry holds nothing and redeems zero.
func (r *Reconciler) redeem(ctx context.Context, pos *portfolio.Position) (float64, error) {
	held, err := r.account.TokenBalance(ctx, pos.TokenID)
	if err != nil {
		return 0, fmt.Errorf("token balance: %w", err)
	}
	if held <= 0 {
		return 0, nil
	}
	if _, err := r.exec.PlaceExit(ctx, pos.TokenID, redemptionPrice, held); err != nil {
		return 0, fmt.Errorf("redemption sell: %w", err)
	}
	return held * redemptionPrice, nil
}

// SyncBalance overwrites the tracked balance with the authoritative account
// value, correcting any drift accumulated from partial fills or fees.
func (r *Reconciler) SyncBalance(ctx context.Context, pf *portfolio.State) error {
	balance, err := r.account.Balance(ctx)
	if err != nil {
		return fmt.Errorf("account balance: %w", err)
	}
	if diff := balance - pf.Balance; diff > 0.01 || diff < -0.01 {
		r.log.Info().
			Float64("tracked", pf.Balance).
			Float64("actual", balance).
			Msg("balance drift corrected")
	}
	pf.SyncBalance(balance)
	return nil
}
