package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stockyard-live/livebid/livebid/database/models"
	"github.com/stockyard-live/livebid/livebid/database/repositories"
)

// Settings are the global bidding defaults, supplied by the settings
// store at startup.
type Settings struct {
	DefaultMinIncrement int64
	SnipingWindow       time.Duration
	Extension           time.Duration
	BidQueueSize        int
	BidQueueTimeout     time.Duration
	DomainIdleTimeout   time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.DefaultMinIncrement <= 0 {
		s.DefaultMinIncrement = 100
	}
	if s.SnipingWindow <= 0 {
		s.SnipingWindow = 5 * time.Minute
	}
	if s.Extension <= 0 {
		s.Extension = 5 * time.Minute
	}
	if s.BidQueueSize <= 0 {
		s.BidQueueSize = 64
	}
	if s.BidQueueTimeout <= 0 {
		s.BidQueueTimeout = 3 * time.Second
	}
	if s.DomainIdleTimeout <= 0 {
		s.DomainIdleTimeout = time.Minute
	}
	return s
}

// Engine validates and serializes bid submissions, resolves proxy
// bidding, applies the anti-sniping extension and finalizes ended
// auctions. Each auction gets its own serialization domain (a single
// worker goroutine fed by a bounded queue); auctions never block each
// other.
type Engine struct {
	store     repositories.AuctionRepository
	bids      repositories.BidRepository
	autoBids  repositories.AutoBidRepository
	notifier  *Notifier
	projector *Projector
	clock     Clock
	settings  Settings

	domains sync.Map // auctionID -> *domain

	// closeMu orders domain-worker startup against Shutdown: workers
	// are only spawned under the read lock, so once Shutdown holds the
	// write lock and closes the channel, no new worker can appear and
	// the WaitGroup count is final.
	closeMu  sync.RWMutex
	workers  sync.WaitGroup
	closed   chan struct{}
	closeOne sync.Once
}

func New(store repositories.AuctionRepository, bids repositories.BidRepository, autoBids repositories.AutoBidRepository, notifier *Notifier, projector *Projector, clock Clock, settings Settings) *Engine {
	if store == nil || bids == nil || autoBids == nil {
		panic("engine repositories cannot be nil")
	}
	if projector == nil {
		panic("engine projector cannot be nil")
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Engine{
		store:     store,
		bids:      bids,
		autoBids:  autoBids,
		notifier:  notifier,
		projector: projector,
		clock:     clock,
		settings:  settings.withDefaults(),
		closed:    make(chan struct{}),
	}
}

// BidResult reports an accepted bid together with the state that
// resulted after proxy resolution ran.
type BidResult struct {
	Bid             *models.Bid `json:"bid"`
	LeadingBidderID int64       `json:"leading_bidder_id"`
	LeadingAmount   int64       `json:"leading_amount"`
	EndTime         time.Time   `json:"end_time"`
	Extended        bool        `json:"extended"`
}

// AutoBidStatus is the read-back view of a standing ceiling. OutOfRange
// marks a limit the rising price has permanently passed; the row stays
// active but can no longer compete.
type AutoBidStatus struct {
	Limit       *models.AutoBidLimit `json:"limit"`
	OutOfRange  bool                 `json:"out_of_range"`
	RequiredMin int64                `json:"required_min"`
}

// PlaceBid submits a bid for bidderID against an auction. All
// validations and the ledger write happen inside the auction's
// serialization domain; concurrent submissions for one auction are
// processed strictly in arrival order at the domain queue.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID, amount int64) (*BidResult, error) {
	resp, err := e.submit(ctx, auctionID, request{kind: reqPlaceBid, bidderID: bidderID, amount: amount})
	if err != nil {
		return nil, err
	}
	return resp.result, nil
}

// SetAutoBid registers or replaces the proxy ceiling for (auction,
// bidder) and immediately runs resolution if the auction is live.
func (e *Engine) SetAutoBid(ctx context.Context, auctionID, bidderID, maxAmount int64) (*AutoBidStatus, error) {
	resp, err := e.submit(ctx, auctionID, request{kind: reqSetAutoBid, bidderID: bidderID, amount: maxAmount})
	if err != nil {
		return nil, err
	}
	return resp.autoBid, nil
}

// RemoveAutoBid deactivates the bidder's ceiling. Bids already placed on
// the bidder's behalf stand; the registry row is kept for audit.
func (e *Engine) RemoveAutoBid(ctx context.Context, auctionID, bidderID int64) error {
	_, err := e.submit(ctx, auctionID, request{kind: reqRemoveAutoBid, bidderID: bidderID})
	return err
}

// GetAutoBid reads back a ceiling with its derived out-of-range state.
// Read-only; served outside the serialization domain.
func (e *Engine) GetAutoBid(ctx context.Context, auctionID, bidderID int64) (*AutoBidStatus, error) {
	limit, err := e.autoBids.Get(ctx, auctionID, bidderID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errAutoBidNotFound(auctionID, bidderID)
		}
		return nil, err
	}

	snap, err := e.Snapshot(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return &AutoBidStatus{
		Limit:       limit,
		OutOfRange:  limit.IsActive && limit.MaxAmount < snap.RequiredMin,
		RequiredMin: snap.RequiredMin,
	}, nil
}

// FinalizeIfEnded closes an auction whose end time has passed:
// winner/reserve outcome, terminal status, packet chaining. Idempotent;
// calling it on an already ended or still running auction is a no-op.
func (e *Engine) FinalizeIfEnded(ctx context.Context, auctionID int64) error {
	_, err := e.submit(ctx, auctionID, request{kind: reqFinalize})
	return err
}

// CancelAuction deactivates an auction that has not received a bid yet.
// Only the seller may cancel.
func (e *Engine) CancelAuction(ctx context.Context, auctionID, requesterID int64) error {
	_, err := e.submit(ctx, auctionID, request{kind: reqCancel, bidderID: requesterID})
	return err
}

// SetModerated flips the admin moderation flag, which gates all bidding
// regardless of timing.
func (e *Engine) SetModerated(ctx context.Context, auctionID int64, moderated bool) error {
	req := request{kind: reqModerate}
	if moderated {
		req.amount = 1
	}
	_, err := e.submit(ctx, auctionID, req)
	return err
}

// Snapshot returns the shared read projection for an auction.
func (e *Engine) Snapshot(ctx context.Context, auctionID int64) (Snapshot, error) {
	return e.projector.Snapshot(ctx, auctionID)
}

// Bids returns the auction's ledger, ordered by rank.
func (e *Engine) Bids(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	return e.bids.GetByAuction(ctx, auctionID)
}

// BidsByBidder returns every bid placed by one bidder across auctions,
// manual and synthetic alike.
func (e *Engine) BidsByBidder(ctx context.Context, bidderID int64) ([]*models.Bid, error) {
	return e.bids.GetByBidder(ctx, bidderID)
}

// CreateAuction validates and persists a new auction. The default
// minimum increment from settings is applied when the seller leaves the
// increment unset; this is a creation-time default, never a runtime
// fallback.
func (e *Engine) CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	if a.MinIncrement <= 0 {
		a.MinIncrement = e.settings.DefaultMinIncrement
	}
	if a.BidPricingMode == "" {
		a.BidPricingMode = models.PricingModeLotTotal
	}
	if a.AnimalCount <= 0 {
		a.AnimalCount = 1
	}
	if err := validateAuction(a); err != nil {
		return nil, err
	}

	a.Status = DeriveStatus(a, e.clock.Now())
	if a.Status == models.AuctionStatusEnded {
		return nil, errInvalidAuction("auction end time is already in the past")
	}
	a.WinnerUserID = nil
	a.WinningBidID = nil

	if err := e.store.Create(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("Auction created",
		slog.Int64("auction_id", a.ID),
		slog.Int64("seller_id", a.SellerID),
		slog.Int64("starting_bid", a.StartingBid),
		slog.Time("end_time", a.EndTime))
	return a, nil
}

// CreatePacketSeries persists a chain of auctions sold in sequence under
// one listing. The first packet is immediately eligible; every later
// packet starts gated on its predecessor finishing.
func (e *Engine) CreatePacketSeries(ctx context.Context, packets []*models.Auction) (string, error) {
	if len(packets) == 0 {
		return "", errInvalidAuction("packet series needs at least one auction")
	}

	seriesID := uuid.NewString()
	var prevID *int64
	for i, p := range packets {
		sid := seriesID
		p.PacketSeriesID = &sid
		p.PacketSequence = i + 1
		p.IsWaitingForPrevious = i > 0
		p.PreviousPacketAuctionID = prevID

		created, err := e.CreateAuction(ctx, p)
		if err != nil {
			return "", fmt.Errorf("failed to create packet %d: %w", i+1, err)
		}
		id := created.ID
		prevID = &id
	}
	return seriesID, nil
}

// StartNextPacket manually activates the packet after an ended one, for
// series created with auto_start_next disabled.
func (e *Engine) StartNextPacket(ctx context.Context, endedAuctionID, requesterID int64) error {
	a, err := e.store.GetByID(ctx, endedAuctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return errAuctionNotFound(endedAuctionID)
		}
		return err
	}
	if a.SellerID != requesterID {
		return errForbidden("only the seller can start the next packet")
	}
	if !a.Finalized() {
		return errAuctionNotLive(endedAuctionID, string(DeriveStatus(a, e.clock.Now())))
	}
	if !a.InPacketSeries() {
		return errInvalidAuction("auction is not part of a packet series")
	}
	return e.activateNextPacket(ctx, a, e.clock.Now())
}

// activateNextPacket clears the gate on the successor packet and rewinds
// its window to start now. Auto-chained packets start immediately after
// their predecessor ends; the originally configured window length is
// preserved.
func (e *Engine) activateNextPacket(ctx context.Context, ended *models.Auction, now time.Time) error {
	if !ended.Finalized() {
		// Guarded by callers; reaching here means a sequencing bug.
		slog.Error("Integrity violation: activating packet successor before predecessor ended",
			slog.Int64("auction_id", ended.ID))
		return fmt.Errorf("predecessor auction %d is not ended", ended.ID)
	}

	next, err := e.store.NextInSeries(ctx, *ended.PacketSeriesID, ended.PacketSequence+1)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil // last packet of the series
		}
		return fmt.Errorf("failed to locate next packet: %w", err)
	}
	if !next.IsWaitingForPrevious {
		return nil // already activated
	}

	window := next.EndTime.Sub(next.StartTime)
	next.IsWaitingForPrevious = false
	next.StartTime = now
	next.EndTime = now.Add(window)
	next.Status = models.AuctionStatusLive

	if err := e.store.Update(ctx, next); err != nil {
		return fmt.Errorf("failed to activate next packet: %w", err)
	}
	e.projector.Invalidate(next.ID)
	e.refreshDomain(next.ID)

	e.notify(Event{
		Type:      EventPacketStarted,
		AuctionID: next.ID,
		Amount:    next.StartingBid,
	})
	slog.Info("Packet activated",
		slog.Int64("auction_id", next.ID),
		slog.String("series_id", *ended.PacketSeriesID),
		slog.Int("sequence", next.PacketSequence))
	return nil
}

func (e *Engine) notify(ev Event) {
	if e.notifier != nil {
		e.notifier.Publish(ev)
	}
}

// Shutdown stops accepting work and waits for every domain worker to
// drain its queue and exit.
func (e *Engine) Shutdown() {
	e.closeOne.Do(func() {
		e.closeMu.Lock()
		close(e.closed)
		e.closeMu.Unlock()
	})
	e.workers.Wait()
}

func validateAuction(a *models.Auction) error {
	if a.SellerID == 0 {
		return errInvalidAuction("auction needs a seller")
	}
	if a.StartingBid <= 0 {
		return errInvalidAuction("starting bid must be positive")
	}
	if !a.EndTime.After(a.StartTime) {
		return errInvalidAuction("end time must be after start time")
	}
	if a.ReservePrice != nil && *a.ReservePrice < a.StartingBid {
		return errInvalidAuction("reserve price cannot be below the starting bid")
	}
	if a.BidPricingMode != models.PricingModeLotTotal && a.BidPricingMode != models.PricingModePerHead {
		return errInvalidAuction("unknown bid pricing mode")
	}
	return nil
}
