package engine

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/stockyard-live/livebid/livebid/database/models"
)

func TestDeriveStatus(t *testing.T) {
	now := testEpoch
	base := func() *models.Auction {
		return &models.Auction{
			StartTime: now.Add(-time.Hour),
			EndTime:   now.Add(time.Hour),
			Status:    models.AuctionStatusLive,
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.Auction)
		want   models.AuctionStatus
	}{
		{"inside window", func(a *models.Auction) {}, models.AuctionStatusLive},
		{"before start", func(a *models.Auction) { a.StartTime = now.Add(time.Minute) }, models.AuctionStatusUpcoming},
		{"past end", func(a *models.Auction) { a.EndTime = now.Add(-time.Minute) }, models.AuctionStatusEnded},
		{"exactly at end", func(a *models.Auction) { a.EndTime = now }, models.AuctionStatusEnded},
		{"finalized overrides timing", func(a *models.Auction) { a.Status = models.AuctionStatusEnded }, models.AuctionStatusEnded},
		{"gated packet inside window", func(a *models.Auction) { a.IsWaitingForPrevious = true }, models.AuctionStatusUpcoming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base()
			tt.mutate(a)
			check.Equal(t, tt.want, DeriveStatus(a, now))
		})
	}
}

func TestRequiredMinimum(t *testing.T) {
	a := &models.Auction{StartingBid: 100, MinIncrement: 10}

	// No bids yet: the opening amount itself is acceptable.
	check.Equal(t, int64(100), RequiredMinimum(a, nil))
	check.Equal(t, int64(110), RequiredMinimum(a, &models.Bid{Amount: 100}))
	check.Equal(t, int64(260), RequiredMinimum(a, &models.Bid{Amount: 250}))

	// A large increment never pushes the opening bid above the start.
	wide := &models.Auction{StartingBid: 100, MinIncrement: 500}
	check.Equal(t, int64(100), RequiredMinimum(wide, nil))
	check.Equal(t, int64(600), RequiredMinimum(wide, &models.Bid{Amount: 100}))
}

func TestSnapshot_PerHeadPricing(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()
	ctx := context.Background()

	a := env.liveAuction(1, 100, 10)
	a.BidPricingMode = models.PricingModePerHead
	a.AnimalCount = 25
	check.Nil(t, env.store.Update(ctx, a))

	snap, err := env.engine.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.True(t, snap.PerHead.Equal(decimal.NewFromInt(100)))
	check.True(t, snap.LotTotal.Equal(decimal.NewFromInt(2500)))

	_, err = env.engine.PlaceBid(ctx, a.ID, 2, 120)
	check.Nil(t, err)

	snap, err = env.engine.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, int64(120), snap.CurrentPrice)
	check.True(t, snap.PerHead.Equal(decimal.NewFromInt(120)))
	check.True(t, snap.LotTotal.Equal(decimal.NewFromInt(3000)))
}

func TestSnapshot_LotTotalPricingDividesPerHead(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()
	ctx := context.Background()

	a := env.liveAuction(1, 1000, 10)
	a.AnimalCount = 3
	check.Nil(t, env.store.Update(ctx, a))

	snap, err := env.engine.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.True(t, snap.LotTotal.Equal(decimal.NewFromInt(1000)))
	check.True(t, snap.PerHead.Equal(decimal.RequireFromString("333.33")))
}

func TestSnapshot_ReflectsBidsAndServerTime(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()
	ctx := context.Background()
	a := env.liveAuction(1, 100, 10)

	snap, err := env.engine.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, int64(100), snap.CurrentPrice)
	check.Equal(t, int64(100), snap.RequiredMin)
	check.Equal(t, 0, snap.BidCount)
	check.Nil(t, snap.LeadingBidderID)
	check.Equal(t, env.clock.Now(), snap.ServerTime)

	_, err = env.engine.PlaceBid(ctx, a.ID, 2, 130)
	check.Nil(t, err)

	snap, err = env.engine.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, int64(130), snap.CurrentPrice)
	check.Equal(t, int64(140), snap.RequiredMin)
	check.Equal(t, 1, snap.BidCount)
	check.Equal(t, int64(2), *snap.LeadingBidderID)
}

func TestSnapshot_UnknownAuction(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	_, err := env.engine.Snapshot(context.Background(), 4242)
	check.Equal(t, CodeAuctionNotFound, ErrCode(err))
}

func TestProjector_CacheInvalidatedByWrites(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()
	ctx := context.Background()
	a := env.liveAuction(1, 100, 10)

	// Long TTL so only explicit invalidation can refresh the entry.
	projector, err := NewProjector(env.store, env.bids, env.clock, 16, time.Hour)
	check.Nil(t, err)
	env.engine.projector = projector

	snap, err := projector.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, int64(100), snap.CurrentPrice)

	_, err = env.engine.PlaceBid(ctx, a.ID, 2, 150)
	check.Nil(t, err)

	snap, err = projector.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, int64(150), snap.CurrentPrice)
}

func TestProjector_CachedEntryTracksClock(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()
	ctx := context.Background()
	a := env.liveAuction(1, 100, 10)

	projector, err := NewProjector(env.store, env.bids, env.clock, 16, time.Hour)
	check.Nil(t, err)

	snap, err := projector.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, models.AuctionStatusLive, snap.Status)

	// Status is derived at read time even when served from cache: once
	// the window passes, a cached row must read as ended.
	env.clock.Advance(2 * time.Hour)
	snap, err = projector.Snapshot(ctx, a.ID)
	check.Nil(t, err)
	check.Equal(t, models.AuctionStatusEnded, snap.Status)
	check.Equal(t, env.clock.Now(), snap.ServerTime)
}
