package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/stockyard-live/livebid/livebid/database/models"
)

type BidRepository interface {
	// Leading returns the current leading bid under the ledger ordering
	// (amount desc, created_at asc), or nil when no bids exist.
	Leading(ctx context.Context, auctionID int64) (*models.Bid, error)
	CountByAuction(ctx context.Context, auctionID int64) (int, error)
	GetByAuction(ctx context.Context, auctionID int64) ([]*models.Bid, error)
	GetByBidder(ctx context.Context, bidderID int64) ([]*models.Bid, error)
}

type bidRepository struct {
	db *bun.DB
}

func NewBidRepository(db *bun.DB) BidRepository {
	return &bidRepository{db: db}
}

func (r *bidRepository) Leading(ctx context.Context, auctionID int64) (*models.Bid, error) {
	bid := new(models.Bid)
	err := r.db.NewSelect().
		Model(bid).
		Where("auction_id = ?", auctionID).
		Order("amount DESC", "created_at ASC", "id ASC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get leading bid: %w", err)
	}
	return bid, nil
}

func (r *bidRepository) CountByAuction(ctx context.Context, auctionID int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Bid)(nil)).
		Where("auction_id = ?", auctionID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return count, nil
}

func (r *bidRepository) GetByAuction(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	var bids []*models.Bid

	err := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("amount DESC", "created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction bids: %w", err)
	}
	return bids, nil
}

func (r *bidRepository) GetByBidder(ctx context.Context, bidderID int64) ([]*models.Bid, error) {
	var bids []*models.Bid

	err := r.db.NewSelect().
		Model(&bids).
		Where("bidder_id = ?", bidderID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bidder bids: %w", err)
	}
	return bids, nil
}
