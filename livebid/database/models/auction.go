package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusUpcoming AuctionStatus = "upcoming"
	AuctionStatusLive     AuctionStatus = "live"
	AuctionStatusEnded    AuctionStatus = "ended"
)

type PricingMode string

const (
	PricingModeLotTotal PricingMode = "lot_total"
	PricingModePerHead  PricingMode = "per_head"
)

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID         int64 `bun:"id,pk,autoincrement"`
	SellerID   int64 `bun:"seller_id,notnull"`
	CategoryID int64 `bun:"category_id"`

	StartingBid    int64       `bun:"starting_bid,notnull"`
	MinIncrement   int64       `bun:"min_increment,notnull"`
	ReservePrice   *int64      `bun:"reserve_price"`
	BidPricingMode PricingMode `bun:"bid_pricing_mode,notnull,default:'lot_total'"`
	AnimalCount    int         `bun:"animal_count,notnull,default:1"`

	StartTime       time.Time `bun:"start_time,notnull"`
	EndTime         time.Time `bun:"end_time,notnull"`
	DurationMinutes int       `bun:"duration_minutes"`

	// Status is a cached copy of the derived state machine. Only the
	// sequencer writes "ended"; everything else must go through the
	// shared projection rather than trusting this field.
	Status      AuctionStatus `bun:"status,notnull"`
	IsActive    bool          `bun:"is_active,notnull,default:true"`
	IsModerated bool          `bun:"is_moderated,notnull,default:false"`

	WinnerUserID *int64 `bun:"winner_user_id"`
	WinningBidID *int64 `bun:"winning_bid_id"`

	PacketSeriesID          *string `bun:"packet_series_id"`
	PacketSequence          int     `bun:"packet_sequence"`
	PreviousPacketAuctionID *int64  `bun:"previous_packet_auction_id"`
	IsWaitingForPrevious    bool    `bun:"is_waiting_for_previous,notnull,default:false"`
	AutoStartNext           bool    `bun:"auto_start_next,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Finalized reports whether the sequencer has already closed this auction.
func (a *Auction) Finalized() bool {
	return a.Status == AuctionStatusEnded
}

// InPacketSeries reports whether this auction belongs to a chained series.
func (a *Auction) InPacketSeries() bool {
	return a.PacketSeriesID != nil && *a.PacketSeriesID != ""
}
