package engine

import (
	"context"
	"log/slog"

	"github.com/stockyard-live/livebid/livebid/database/models"
)

// resolveAutoBids runs the proxy duel after every accepted bid, inside
// the serialization domain. Each round picks the highest active ceiling
// not owned by the current leader and bids just enough to retake the
// lead: min(challenger ceiling, leader ceiling + increment). The loop
// converges because the leading amount strictly rises by at least one
// increment per round against a finite set of ceilings; the winner ends
// at the runner-up's ceiling plus one increment, never at its own
// ceiling unless that is required to beat the runner-up.
func (d *domain) resolveAutoBids(ctx context.Context) {
	a := d.auction

	for round := 0; ; round++ {
		// Fresh registry read every round: a limit deactivated or
		// lowered since the previous round must not place a bid.
		limits, err := d.engine.autoBids.ActiveByAuction(ctx, a.ID)
		if err != nil {
			slog.Error("Failed to read auto-bid registry",
				slog.Int64("auction_id", a.ID),
				slog.String("error", err.Error()))
			return
		}
		if round > 2*len(limits)+2 {
			slog.Error("Integrity violation: auto-bid duel did not converge",
				slog.Int64("auction_id", a.ID),
				slog.Int("rounds", round))
			return
		}

		requiredMin := RequiredMinimum(a, d.leading)
		ceiling, leaderIsProxy := d.leaderCeiling(limits)
		challenger := pickChallenger(limits, d.leading, requiredMin, ceiling, leaderIsProxy)
		if challenger == nil {
			return
		}

		amount := challenger.MaxAmount
		if beat := ceiling + a.MinIncrement; beat < amount {
			amount = beat
		}
		if amount < requiredMin {
			amount = requiredMin
		}

		if _, err := d.accept(ctx, challenger.BidderID, amount, true, d.engine.clock.Now()); err != nil {
			slog.Error("Failed to place auto-bid",
				slog.Int64("auction_id", a.ID),
				slog.Int64("bidder_id", challenger.BidderID),
				slog.Int64("amount", amount),
				slog.String("error", err.Error()))
			return
		}
	}
}

// pickChallenger selects the eligible ceiling with the highest
// max_amount, ties broken by earliest updated_at (first-registered
// priority, mirroring the ledger tie-break). A limit owned by the
// current leader never duels its own owner; one below the minimum is
// skipped, not errored. A ceiling exactly equal to a proxy-defended
// leader ceiling also cannot take the lead: the earlier registrant
// holds it, and the incumbent's ceiling stays unrevealed.
func pickChallenger(limits []*models.AutoBidLimit, leading *models.Bid, requiredMin, leaderCeiling int64, leaderIsProxy bool) *models.AutoBidLimit {
	var best *models.AutoBidLimit
	for _, l := range limits {
		if !l.IsActive || l.MaxAmount < requiredMin {
			continue
		}
		if leading != nil && l.BidderID == leading.BidderID {
			continue
		}
		if leaderIsProxy && l.MaxAmount == leaderCeiling {
			continue
		}
		if best == nil ||
			l.MaxAmount > best.MaxAmount ||
			(l.MaxAmount == best.MaxAmount && l.UpdatedAt.Before(best.UpdatedAt)) {
			best = l
		}
	}
	return best
}

// leaderCeiling is the amount the current leader can defend up to: its
// own active ceiling when it has one, otherwise its standing bid (a
// plain bid defends nothing beyond itself).
func (d *domain) leaderCeiling(limits []*models.AutoBidLimit) (int64, bool) {
	if d.leading == nil {
		return d.auction.StartingBid - d.auction.MinIncrement, false
	}
	ceiling := d.leading.Amount
	proxy := false
	for _, l := range limits {
		if l.IsActive && l.BidderID == d.leading.BidderID && l.MaxAmount > ceiling {
			ceiling = l.MaxAmount
			proxy = true
		}
	}
	return ceiling, proxy
}
