package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stockyard-live/livebid/livebid/database/models"
)

// handleFinalize closes the auction once its time window has passed:
// reserve check, winner assignment, terminal status, packet chaining.
// Runs inside the serialization domain so it can never race a bid.
// Idempotent; a second call on an ended auction is a no-op.
func (d *domain) handleFinalize(ctx context.Context) error {
	a := d.auction
	now := d.engine.clock.Now()

	if a.Finalized() {
		// Still repair a half-completed chain: activation is
		// flag-guarded, so this stays observably a no-op when the
		// successor is already running.
		if a.InPacketSeries() && a.AutoStartNext {
			if err := d.engine.activateNextPacket(ctx, a, now); err != nil {
				return err
			}
		}
		return nil
	}
	if now.Before(a.EndTime) {
		return nil
	}

	leading := d.leading
	reserveMet := a.ReservePrice == nil || (leading != nil && leading.Amount >= *a.ReservePrice)

	if leading != nil && reserveMet {
		winner := leading.BidderID
		bidID := leading.ID
		a.WinnerUserID = &winner
		a.WinningBidID = &bidID
	}
	a.Status = models.AuctionStatusEnded

	if err := d.engine.store.Update(ctx, a); err != nil {
		a.Status = "" // force reload on retry
		if lerr := d.load(); lerr != nil {
			slog.Error("Failed to reload auction after finalize failure",
				slog.Int64("auction_id", d.auctionID),
				slog.String("error", lerr.Error()))
		}
		return fmt.Errorf("failed to finalize auction %d: %w", d.auctionID, err)
	}
	d.engine.projector.Invalidate(a.ID)

	switch {
	case a.WinnerUserID != nil:
		d.engine.notify(Event{
			Type:      EventWonAuction,
			UserID:    *a.WinnerUserID,
			AuctionID: a.ID,
			Amount:    leading.Amount,
		})
		slog.Info("Auction finalized with winner",
			slog.Int64("auction_id", a.ID),
			slog.Int64("winner_id", *a.WinnerUserID),
			slog.Int64("final_price", leading.Amount))
	case leading != nil:
		// Bids exist but the reserve was not met; the lot goes unsold.
		slog.Info("Auction finalized unsold, reserve not met",
			slog.Int64("auction_id", a.ID),
			slog.Int64("highest_bid", leading.Amount),
			slog.Int64("reserve_price", *a.ReservePrice))
	default:
		slog.Info("Auction finalized with no bids",
			slog.Int64("auction_id", a.ID))
	}

	if a.InPacketSeries() && a.AutoStartNext {
		if err := d.engine.activateNextPacket(ctx, a, now); err != nil {
			// Chaining failure must not unwind the finalization; the
			// next sweep or a manual start recovers it.
			slog.Error("Failed to activate next packet",
				slog.Int64("auction_id", a.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
