package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AutoBidLimit is a standing proxy-bid ceiling for one bidder on one
// auction. One active row per (auction, bidder); writes are upserts
// with last-write-wins semantics.
type AutoBidLimit struct {
	bun.BaseModel `bun:"table:auto_bid_limits,alias:abl"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID int64     `bun:"auction_id,notnull"`
	BidderID  int64     `bun:"bidder_id,notnull"`
	MaxAmount int64     `bun:"max_amount,notnull"`
	IsActive  bool      `bun:"is_active,notnull,default:true"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
