package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockyard-live/livebid/livebid/database/models"
	"github.com/stockyard-live/livebid/livebid/database/repositories"
)

type reqKind int

const (
	reqPlaceBid reqKind = iota
	reqSetAutoBid
	reqRemoveAutoBid
	reqFinalize
	reqCancel
	reqModerate
	reqRefresh
)

type request struct {
	kind     reqKind
	ctx      context.Context
	bidderID int64
	amount   int64
	resp     chan response
}

type response struct {
	result  *BidResult
	autoBid *AutoBidStatus
	err     error
}

// domain is the single-writer serialization boundary for one auction.
// One worker goroutine owns the auction's mutable state; bid submissions
// queue at the channel and are processed strictly in arrival order.
// Different auctions run fully in parallel.
type domain struct {
	engine    *Engine
	auctionID int64

	// Owned by the worker goroutine after run() starts.
	auction   *models.Auction
	leading   *models.Bid
	bidCount  int
	lastBidAt time.Time

	requests chan request
	done     chan struct{}
}

func (e *Engine) getDomain(auctionID int64) *domain {
	if v, ok := e.domains.Load(auctionID); ok {
		return v.(*domain)
	}
	d := &domain{
		engine:    e,
		auctionID: auctionID,
		requests:  make(chan request, e.settings.BidQueueSize),
		done:      make(chan struct{}),
	}
	if actual, loaded := e.domains.LoadOrStore(auctionID, d); loaded {
		return actual.(*domain)
	}
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		d.run()
	}()
	return d
}

// refreshDomain tells a running domain (if any) to reload its auction
// row; used after an out-of-domain mutation such as packet activation.
func (e *Engine) refreshDomain(auctionID int64) {
	v, ok := e.domains.Load(auctionID)
	if !ok {
		return
	}
	d := v.(*domain)
	req := request{kind: reqRefresh, resp: make(chan response, 1)}
	select {
	case d.requests <- req:
	case <-d.done:
	default:
		// Queue full; the worker reloads on its next idle tick.
	}
}

// submit routes a request through the auction's domain with a bounded
// wait; a submission that cannot take its serialization slot in time
// fails with ConcurrentConflict rather than waiting indefinitely.
func (e *Engine) submit(ctx context.Context, auctionID int64, req request) (response, error) {
	e.closeMu.RLock()
	select {
	case <-e.closed:
		e.closeMu.RUnlock()
		return response{}, errConcurrentConflict()
	default:
	}
	d := e.getDomain(auctionID)
	e.closeMu.RUnlock()
	req.ctx = ctx
	req.resp = make(chan response, 1)

	timer := time.NewTimer(e.settings.BidQueueTimeout)
	defer timer.Stop()

	select {
	case d.requests <- req:
	case <-d.done:
		// Domain retired between lookup and enqueue; treat as a lost
		// race, the caller retries against the fresh domain.
		return response{}, errConcurrentConflict()
	case <-timer.C:
		return response{}, errConcurrentConflict()
	case <-ctx.Done():
		return response{}, errConcurrentConflict()
	}

	select {
	case resp := <-req.resp:
		if resp.err != nil {
			return response{}, resp.err
		}
		return resp, nil
	case <-ctx.Done():
		// The worker will still process the request; the caller just
		// stopped waiting for the answer.
		return response{}, ctx.Err()
	case <-d.done:
		// Domain shut down. The response may already be buffered; only
		// a request the worker never saw becomes a conflict.
		select {
		case resp := <-req.resp:
			if resp.err != nil {
				return response{}, resp.err
			}
			return resp, nil
		default:
			return response{}, errConcurrentConflict()
		}
	}
}

func (d *domain) run() {
	if err := d.load(); err != nil {
		d.fail(err)
		return
	}

	idle := time.NewTimer(d.engine.settings.DomainIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-d.requests:
			req.resp <- d.handle(req)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.engine.settings.DomainIdleTimeout)
		case <-idle.C:
			if d.auction.Finalized() {
				d.retire()
				return
			}
			// Idle with no traffic: reload so out-of-domain mutations
			// (packet activation, moderation) are picked up even when a
			// refresh request was dropped.
			if err := d.load(); err != nil {
				d.fail(err)
				return
			}
			idle.Reset(d.engine.settings.DomainIdleTimeout)
		case <-d.engine.closed:
			d.retire()
			return
		}
	}
}

func (d *domain) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := d.engine.store.GetByID(ctx, d.auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return errAuctionNotFound(d.auctionID)
		}
		return fmt.Errorf("failed to load auction %d: %w", d.auctionID, err)
	}
	leading, err := d.engine.bids.Leading(ctx, d.auctionID)
	if err != nil {
		return fmt.Errorf("failed to load leading bid for auction %d: %w", d.auctionID, err)
	}
	count, err := d.engine.bids.CountByAuction(ctx, d.auctionID)
	if err != nil {
		return fmt.Errorf("failed to count bids for auction %d: %w", d.auctionID, err)
	}

	d.auction = a
	d.leading = leading
	d.bidCount = count
	if leading != nil {
		d.lastBidAt = leading.CreatedAt
	}
	return nil
}

// fail drains requests with the load error, then retires the domain so
// the next submission gets a fresh attempt.
func (d *domain) fail(err error) {
	d.engine.domains.Delete(d.auctionID)
	close(d.done)
	for {
		select {
		case req := <-d.requests:
			req.resp <- response{err: err}
		default:
			return
		}
	}
}

func (d *domain) retire() {
	d.engine.domains.Delete(d.auctionID)
	close(d.done)
	for {
		select {
		case req := <-d.requests:
			req.resp <- response{err: errConcurrentConflict()}
		default:
			return
		}
	}
}

func (d *domain) handle(req request) response {
	switch req.kind {
	case reqPlaceBid:
		return d.handlePlaceBid(req)
	case reqSetAutoBid:
		return d.handleSetAutoBid(req)
	case reqRemoveAutoBid:
		return d.handleRemoveAutoBid(req)
	case reqFinalize:
		return response{err: d.handleFinalize(req.ctx)}
	case reqCancel:
		return response{err: d.handleCancel(req.ctx, req.bidderID)}
	case reqModerate:
		return response{err: d.handleModerate(req.ctx, req.amount != 0)}
	case reqRefresh:
		return response{err: d.load()}
	default:
		return response{err: fmt.Errorf("unknown request kind %d", req.kind)}
	}
}

func (d *domain) handlePlaceBid(req request) response {
	a := d.auction
	now := d.engine.clock.Now()

	if !Available(a) {
		return response{err: errAuctionUnavailable(a.ID)}
	}
	if a.SellerID == req.bidderID {
		return response{err: errSelfBid()}
	}
	if status := DeriveStatus(a, now); status != models.AuctionStatusLive {
		return response{err: errAuctionNotLive(a.ID, string(status))}
	}

	requiredMin := RequiredMinimum(a, d.leading)
	if req.amount <= 0 || req.amount < requiredMin {
		return response{err: errBidTooLow(requiredMin)}
	}

	prevEnd := a.EndTime
	bid, err := d.accept(req.ctx, req.bidderID, req.amount, false, now)
	if err != nil {
		return response{err: err}
	}

	d.resolveAutoBids(req.ctx)

	return response{result: &BidResult{
		Bid:             bid,
		LeadingBidderID: d.leading.BidderID,
		LeadingAmount:   d.leading.Amount,
		EndTime:         d.auction.EndTime,
		Extended:        d.auction.EndTime.After(prevEnd),
	}}
}

// accept writes one validated bid to the ledger and the mutated auction
// row in a single transaction, applying the anti-sniping extension as
// part of the same update. Callers have already checked preconditions.
func (d *domain) accept(ctx context.Context, bidderID, amount int64, isAuto bool, now time.Time) (*models.Bid, error) {
	a := d.auction

	// Server-assigned order: strictly increasing per auction even when
	// bids land within clock resolution of each other.
	createdAt := now
	if !createdAt.After(d.lastBidAt) {
		createdAt = d.lastBidAt.Add(time.Microsecond)
	}

	bid := &models.Bid{
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    amount,
		IsAuto:    isAuto,
		CreatedAt: createdAt,
	}

	prevEnd := a.EndTime
	if a.EndTime.Sub(now) <= d.engine.settings.SnipingWindow {
		a.EndTime = now.Add(d.engine.settings.Extension)
	}

	if err := d.engine.store.ApplyBid(ctx, a, bid); err != nil {
		a.EndTime = prevEnd
		return nil, fmt.Errorf("failed to persist bid: %w", err)
	}

	prev := d.leading
	if prev != nil && !bid.Outranks(prev) {
		slog.Error("Integrity violation: accepted bid does not outrank the ledger leader",
			slog.Int64("auction_id", a.ID),
			slog.Int64("bid_amount", bid.Amount),
			slog.Int64("leading_amount", prev.Amount))
	}
	d.leading = bid
	d.bidCount++
	d.lastBidAt = createdAt
	d.engine.projector.Invalidate(a.ID)

	if prev != nil && prev.BidderID != bid.BidderID {
		d.engine.notify(Event{
			Type:      EventOutbid,
			UserID:    prev.BidderID,
			AuctionID: a.ID,
			Amount:    bid.Amount,
		})
	}

	slog.Debug("Bid accepted",
		slog.Int64("auction_id", a.ID),
		slog.Int64("bidder_id", bidderID),
		slog.Int64("amount", amount),
		slog.Bool("is_auto", isAuto))
	return bid, nil
}

func (d *domain) handleSetAutoBid(req request) response {
	a := d.auction
	now := d.engine.clock.Now()

	if !Available(a) {
		return response{err: errAuctionUnavailable(a.ID)}
	}
	if a.SellerID == req.bidderID {
		return response{err: errSelfBid()}
	}
	status := DeriveStatus(a, now)
	if status == models.AuctionStatusEnded {
		return response{err: errAuctionNotLive(a.ID, string(status))}
	}

	requiredMin := RequiredMinimum(a, d.leading)
	if req.amount < requiredMin {
		return response{err: errAutoBidBelowMinimum(requiredMin)}
	}

	limit := &models.AutoBidLimit{
		AuctionID: a.ID,
		BidderID:  req.bidderID,
		MaxAmount: req.amount,
	}
	if err := d.engine.autoBids.Upsert(req.ctx, limit); err != nil {
		return response{err: err}
	}

	if status == models.AuctionStatusLive {
		d.resolveAutoBids(req.ctx)
	}

	return response{autoBid: &AutoBidStatus{
		Limit:       limit,
		RequiredMin: RequiredMinimum(a, d.leading),
	}}
}

func (d *domain) handleRemoveAutoBid(req request) response {
	err := d.engine.autoBids.Deactivate(req.ctx, d.auctionID, req.bidderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return response{err: errAutoBidNotFound(d.auctionID, req.bidderID)}
	}
	return response{err: err}
}

func (d *domain) handleCancel(ctx context.Context, requesterID int64) error {
	a := d.auction
	if a.SellerID != requesterID {
		return errForbidden("only the seller can cancel an auction")
	}
	if a.Finalized() {
		return errAuctionNotLive(a.ID, string(models.AuctionStatusEnded))
	}
	if d.bidCount > 0 {
		return errInvalidAuction("auction already has bids and cannot be cancelled")
	}

	a.IsActive = false
	a.Status = models.AuctionStatusEnded
	if err := d.engine.store.Update(ctx, a); err != nil {
		return fmt.Errorf("failed to cancel auction: %w", err)
	}
	d.engine.projector.Invalidate(a.ID)
	slog.Info("Auction cancelled",
		slog.Int64("auction_id", a.ID),
		slog.Int64("seller_id", a.SellerID))
	return nil
}

func (d *domain) handleModerate(ctx context.Context, moderated bool) error {
	a := d.auction
	if a.IsModerated == moderated {
		return nil
	}
	a.IsModerated = moderated
	if err := d.engine.store.Update(ctx, a); err != nil {
		return fmt.Errorf("failed to update moderation flag: %w", err)
	}
	d.engine.projector.Invalidate(a.ID)
	return nil
}
