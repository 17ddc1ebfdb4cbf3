package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Bid is one accepted bid in the append-only ledger. Rows are never
// updated or deleted; CreatedAt is server-assigned and strictly
// increasing per auction.
type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID int64     `bun:"auction_id,notnull"`
	BidderID  int64     `bun:"bidder_id,notnull"`
	Amount    int64     `bun:"amount,notnull"`
	IsAuto    bool      `bun:"is_auto,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Outranks reports whether b beats other under the ledger ordering:
// highest amount wins, equal amounts go to the earlier bid.
func (b *Bid) Outranks(other *Bid) bool {
	if other == nil {
		return true
	}
	if b.Amount != other.Amount {
		return b.Amount > other.Amount
	}
	return b.CreatedAt.Before(other.CreatedAt)
}
