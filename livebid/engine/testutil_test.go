package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stockyard-live/livebid/livebid/database/models"
	"github.com/stockyard-live/livebid/livebid/database/repositories"
)

// memDB is an in-memory stand-in for the Postgres repositories, with
// the same ordering semantics as the SQL implementations.
type memDB struct {
	mu            sync.Mutex
	auctions      map[int64]*models.Auction
	bids          []*models.Bid
	limits        map[[2]int64]*models.AutoBidLimit
	nextAuctionID int64
	nextBidID     int64
	nextLimitID   int64
}

func newMemDB() *memDB {
	return &memDB{
		auctions: make(map[int64]*models.Auction),
		limits:   make(map[[2]int64]*models.AutoBidLimit),
	}
}

func copyAuction(a *models.Auction) *models.Auction {
	c := *a
	return &c
}

func copyBid(b *models.Bid) *models.Bid {
	c := *b
	return &c
}

type memAuctionRepo struct{ db *memDB }

func (r *memAuctionRepo) Create(_ context.Context, a *models.Auction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.nextAuctionID++
	a.ID = r.db.nextAuctionID
	r.db.auctions[a.ID] = copyAuction(a)
	return nil
}

func (r *memAuctionRepo) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.auctions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return copyAuction(a), nil
}

func (r *memAuctionRepo) Update(_ context.Context, a *models.Auction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.auctions[a.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.db.auctions[a.ID] = copyAuction(a)
	return nil
}

func (r *memAuctionRepo) ApplyBid(_ context.Context, a *models.Auction, b *models.Bid) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.nextBidID++
	b.ID = r.db.nextBidID
	r.db.bids = append(r.db.bids, copyBid(b))
	r.db.auctions[a.ID] = copyAuction(a)
	return nil
}

func (r *memAuctionRepo) NextInSeries(_ context.Context, seriesID string, sequence int) (*models.Auction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.auctions {
		if a.PacketSeriesID != nil && *a.PacketSeriesID == seriesID && a.PacketSequence == sequence {
			return copyAuction(a), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memAuctionRepo) DueForFinalization(_ context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var due []*models.Auction
	for _, a := range r.db.auctions {
		if a.Status != models.AuctionStatusEnded && !a.EndTime.After(now) && !a.IsWaitingForPrevious {
			due = append(due, copyAuction(a))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndTime.Before(due[j].EndTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memAuctionRepo) BySeries(_ context.Context, seriesID string) ([]*models.Auction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Auction
	for _, a := range r.db.auctions {
		if a.PacketSeriesID != nil && *a.PacketSeriesID == seriesID {
			out = append(out, copyAuction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PacketSequence < out[j].PacketSequence })
	return out, nil
}

type memBidRepo struct{ db *memDB }

func (r *memBidRepo) rankedLocked(auctionID int64) []*models.Bid {
	var out []*models.Bid
	for _, b := range r.db.bids {
		if b.AuctionID == auctionID {
			out = append(out, copyBid(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *memBidRepo) Leading(_ context.Context, auctionID int64) (*models.Bid, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ranked := r.rankedLocked(auctionID)
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0], nil
}

func (r *memBidRepo) CountByAuction(_ context.Context, auctionID int64) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	count := 0
	for _, b := range r.db.bids {
		if b.AuctionID == auctionID {
			count++
		}
	}
	return count, nil
}

func (r *memBidRepo) GetByAuction(_ context.Context, auctionID int64) ([]*models.Bid, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.rankedLocked(auctionID), nil
}

func (r *memBidRepo) GetByBidder(_ context.Context, bidderID int64) ([]*models.Bid, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Bid
	for _, b := range r.db.bids {
		if b.BidderID == bidderID {
			out = append(out, copyBid(b))
		}
	}
	return out, nil
}

type memAutoBidRepo struct{ db *memDB }

func (r *memAutoBidRepo) Upsert(_ context.Context, l *models.AutoBidLimit) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]int64{l.AuctionID, l.BidderID}
	now := time.Now()
	if existing, ok := r.db.limits[key]; ok {
		l.ID = existing.ID
		l.CreatedAt = existing.CreatedAt
	} else {
		r.db.nextLimitID++
		l.ID = r.db.nextLimitID
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	l.IsActive = true
	c := *l
	r.db.limits[key] = &c
	return nil
}

func (r *memAutoBidRepo) Get(_ context.Context, auctionID, bidderID int64) (*models.AutoBidLimit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.limits[[2]int64{auctionID, bidderID}]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (r *memAutoBidRepo) ActiveByAuction(_ context.Context, auctionID int64) ([]*models.AutoBidLimit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.AutoBidLimit
	for _, l := range r.db.limits {
		if l.AuctionID == auctionID && l.IsActive {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxAmount != out[j].MaxAmount {
			return out[i].MaxAmount > out[j].MaxAmount
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *memAutoBidRepo) Deactivate(_ context.Context, auctionID, bidderID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.limits[[2]int64{auctionID, bidderID}]
	if !ok {
		return repositories.ErrNotFound
	}
	l.IsActive = false
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureSink records delivered events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	engine   *Engine
	db       *memDB
	store    repositories.AuctionRepository
	bids     repositories.BidRepository
	autoBids repositories.AutoBidRepository
	clock    *fakeClock
	notifier *Notifier
	sink     *captureSink
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	db := newMemDB()
	store := &memAuctionRepo{db: db}
	bids := &memBidRepo{db: db}
	autoBids := &memAutoBidRepo{db: db}
	clock := newFakeClock(testEpoch)
	sink := &captureSink{}
	notifier := NewNotifier(256, sink)
	projector, err := NewProjector(store, bids, clock, 16, 0)
	if err != nil {
		panic(err)
	}

	eng := New(store, bids, autoBids, notifier, projector, clock, Settings{
		DefaultMinIncrement: 100,
		SnipingWindow:       5 * time.Minute,
		Extension:           5 * time.Minute,
		BidQueueSize:        64,
		BidQueueTimeout:     2 * time.Second,
	})
	return &testEnv{
		engine:   eng,
		db:       db,
		store:    store,
		bids:     bids,
		autoBids: autoBids,
		clock:    clock,
		notifier: notifier,
		sink:     sink,
	}
}

// drain flushes pending notifications so assertions see them.
func (e *testEnv) drain() {
	e.notifier.Shutdown()
}

// liveAuction seeds a live auction that started an hour ago and runs
// for another hour.
func (e *testEnv) liveAuction(sellerID, startingBid, minIncrement int64) *models.Auction {
	a := &models.Auction{
		SellerID:       sellerID,
		StartingBid:    startingBid,
		MinIncrement:   minIncrement,
		BidPricingMode: models.PricingModeLotTotal,
		AnimalCount:    1,
		StartTime:      e.clock.Now().Add(-time.Hour),
		EndTime:        e.clock.Now().Add(time.Hour),
		Status:         models.AuctionStatusLive,
		IsActive:       true,
	}
	if err := e.store.Create(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}
