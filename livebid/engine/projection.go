package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/stockyard-live/livebid/livebid/database/models"
	"github.com/stockyard-live/livebid/livebid/database/repositories"
)

// Snapshot is the read projection of one auction: derived status, current
// price and the minimum next bid, computed from stored state only. Both
// the bidding engine and the query surface derive status through this
// package so the two can never disagree.
type Snapshot struct {
	AuctionID       int64                `json:"auction_id"`
	Status          models.AuctionStatus `json:"status"`
	Available       bool                 `json:"available"`
	CurrentPrice    int64                `json:"current_price"`
	RequiredMin     int64                `json:"required_min"`
	BidCount        int                  `json:"bid_count"`
	LeadingBidderID *int64               `json:"leading_bidder_id,omitempty"`
	PricingMode     models.PricingMode   `json:"bid_pricing_mode"`
	AnimalCount     int                  `json:"animal_count"`
	LotTotal        decimal.Decimal      `json:"lot_total"`
	PerHead         decimal.Decimal      `json:"per_head"`
	StartTime       time.Time            `json:"start_time"`
	EndTime         time.Time            `json:"end_time"`
	ServerTime      time.Time            `json:"server_time"`
}

// DeriveStatus computes the auction state machine from timing and packet
// gating. The stored status field is trusted only for the terminal
// "ended" mark written by the sequencer.
func DeriveStatus(a *models.Auction, now time.Time) models.AuctionStatus {
	if a.Finalized() || !now.Before(a.EndTime) {
		return models.AuctionStatusEnded
	}
	if now.Before(a.StartTime) || a.IsWaitingForPrevious {
		return models.AuctionStatusUpcoming
	}
	return models.AuctionStatusLive
}

// Available reports whether bidding is gated off by visibility flags,
// independent of timing.
func Available(a *models.Auction) bool {
	return a.IsActive && !a.IsModerated
}

// RequiredMinimum computes the smallest acceptable next bid:
// max(starting_bid, leading_amount + min_increment), where the leading
// amount is starting_bid - min_increment when no bid exists yet.
func RequiredMinimum(a *models.Auction, leading *models.Bid) int64 {
	current := a.StartingBid - a.MinIncrement
	if leading != nil {
		current = leading.Amount
	}
	min := current + a.MinIncrement
	if min < a.StartingBid {
		min = a.StartingBid
	}
	return min
}

func buildSnapshot(a *models.Auction, leading *models.Bid, bidCount int, now time.Time) Snapshot {
	snap := Snapshot{
		AuctionID:    a.ID,
		Status:       DeriveStatus(a, now),
		Available:    Available(a),
		CurrentPrice: a.StartingBid,
		RequiredMin:  RequiredMinimum(a, leading),
		BidCount:     bidCount,
		PricingMode:  a.BidPricingMode,
		AnimalCount:  a.AnimalCount,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		ServerTime:   now,
	}
	if leading != nil {
		snap.CurrentPrice = leading.Amount
		bidder := leading.BidderID
		snap.LeadingBidderID = &bidder
	}

	price := decimal.NewFromInt(snap.CurrentPrice)
	count := int64(a.AnimalCount)
	if count < 1 {
		count = 1
	}
	if a.BidPricingMode == models.PricingModePerHead {
		snap.PerHead = price
		snap.LotTotal = price.Mul(decimal.NewFromInt(count))
	} else {
		snap.LotTotal = price
		snap.PerHead = price.DivRound(decimal.NewFromInt(count), 2)
	}
	return snap
}

type projEntry struct {
	auction  *models.Auction
	leading  *models.Bid
	bidCount int
	at       time.Time
}

// Projector serves snapshots from stored state with a small TTL cache in
// front; writers invalidate per auction so the cache can never outlive a
// price change by more than the in-flight read.
type Projector struct {
	store repositories.AuctionRepository
	bids  repositories.BidRepository
	clock Clock
	cache *lru.Cache
	ttl   time.Duration
}

func NewProjector(store repositories.AuctionRepository, bids repositories.BidRepository, clock Clock, cacheSize int, ttl time.Duration) (*Projector, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create projection cache: %w", err)
	}
	return &Projector{
		store: store,
		bids:  bids,
		clock: clock,
		cache: cache,
		ttl:   ttl,
	}, nil
}

func (p *Projector) Snapshot(ctx context.Context, auctionID int64) (Snapshot, error) {
	now := p.clock.Now()

	if v, ok := p.cache.Get(auctionID); ok {
		entry := v.(projEntry)
		if p.ttl > 0 && now.Sub(entry.at) < p.ttl {
			return buildSnapshot(entry.auction, entry.leading, entry.bidCount, now), nil
		}
	}

	a, err := p.store.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Snapshot{}, errAuctionNotFound(auctionID)
		}
		return Snapshot{}, fmt.Errorf("failed to load auction for projection: %w", err)
	}

	leading, err := p.bids.Leading(ctx, auctionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load leading bid: %w", err)
	}
	count, err := p.bids.CountByAuction(ctx, auctionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to count bids: %w", err)
	}

	p.cache.Add(auctionID, projEntry{auction: a, leading: leading, bidCount: count, at: now})
	return buildSnapshot(a, leading, count, now), nil
}

// Invalidate drops the cached snapshot for an auction. Called by the
// serialization domain after every accepted bid or state change.
func (p *Projector) Invalidate(auctionID int64) {
	p.cache.Remove(auctionID)
}
