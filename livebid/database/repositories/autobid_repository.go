package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/stockyard-live/livebid/livebid/database/models"
)

type AutoBidRepository interface {
	// Upsert writes the ceiling for (auction, bidder), replacing any
	// existing row. Last write wins; updated_at is refreshed.
	Upsert(ctx context.Context, limit *models.AutoBidLimit) error
	Get(ctx context.Context, auctionID, bidderID int64) (*models.AutoBidLimit, error)
	// ActiveByAuction returns active limits ordered by max_amount desc,
	// ties broken by earliest updated_at.
	ActiveByAuction(ctx context.Context, auctionID int64) ([]*models.AutoBidLimit, error)
	Deactivate(ctx context.Context, auctionID, bidderID int64) error
}

type autoBidRepository struct {
	db *bun.DB
}

func NewAutoBidRepository(db *bun.DB) AutoBidRepository {
	return &autoBidRepository{db: db}
}

func (r *autoBidRepository) Upsert(ctx context.Context, limit *models.AutoBidLimit) error {
	now := time.Now()
	if limit.CreatedAt.IsZero() {
		limit.CreatedAt = now
	}
	limit.UpdatedAt = now
	limit.IsActive = true

	_, err := r.db.NewInsert().
		Model(limit).
		On("CONFLICT (auction_id, bidder_id) DO UPDATE").
		Set("max_amount = EXCLUDED.max_amount").
		Set("is_active = true").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert auto bid limit: %w", err)
	}
	return nil
}

func (r *autoBidRepository) Get(ctx context.Context, auctionID, bidderID int64) (*models.AutoBidLimit, error) {
	limit := new(models.AutoBidLimit)
	err := r.db.NewSelect().
		Model(limit).
		Where("auction_id = ?", auctionID).
		Where("bidder_id = ?", bidderID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auto bid limit: %w", err)
	}
	return limit, nil
}

func (r *autoBidRepository) ActiveByAuction(ctx context.Context, auctionID int64) ([]*models.AutoBidLimit, error) {
	var limits []*models.AutoBidLimit

	err := r.db.NewSelect().
		Model(&limits).
		Where("auction_id = ?", auctionID).
		Where("is_active = true").
		Order("max_amount DESC", "updated_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active auto bid limits: %w", err)
	}
	return limits, nil
}

func (r *autoBidRepository) Deactivate(ctx context.Context, auctionID, bidderID int64) error {
	res, err := r.db.NewUpdate().
		Model((*models.AutoBidLimit)(nil)).
		Set("is_active = false").
		Set("updated_at = ?", time.Now()).
		Where("auction_id = ?", auctionID).
		Where("bidder_id = ?", bidderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to deactivate auto bid limit: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}
