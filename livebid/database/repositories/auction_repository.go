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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type AuctionRepository interface {
	Create(ctx context.Context, auction *models.Auction) error
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	Update(ctx context.Context, auction *models.Auction) error
	// ApplyBid persists an accepted bid and the auction row it mutated
	// (price cache, end time, status) in a single transaction. The bid's
	// ID is populated on return.
	ApplyBid(ctx context.Context, auction *models.Auction, bid *models.Bid) error
	NextInSeries(ctx context.Context, seriesID string, sequence int) (*models.Auction, error)
	DueForFinalization(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error)
	BySeries(ctx context.Context, seriesID string) ([]*models.Auction, error)
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) Create(ctx context.Context, auction *models.Auction) error {
	now := time.Now()
	auction.CreatedAt = now
	auction.UpdatedAt = now

	_, err := r.db.NewInsert().Model(auction).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) GetByID(ctx context.Context, id int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) Update(ctx context.Context, auction *models.Auction) error {
	auction.UpdatedAt = time.Now()

	res, err := r.db.NewUpdate().
		Model(auction).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *auctionRepository) ApplyBid(ctx context.Context, auction *models.Auction, bid *models.Bid) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(bid).Exec(ctx); err != nil {
			return fmt.Errorf("failed to append bid: %w", err)
		}

		auction.UpdatedAt = time.Now()
		if _, err := tx.NewUpdate().
			Model(auction).
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to update auction for bid: %w", err)
		}
		return nil
	})
}

func (r *auctionRepository) NextInSeries(ctx context.Context, seriesID string, sequence int) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("packet_series_id = ?", seriesID).
		Where("packet_sequence = ?", sequence).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get next packet: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) DueForFinalization(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	var auctions []*models.Auction

	q := r.db.NewSelect().
		Model(&auctions).
		Where("status != ?", models.AuctionStatusEnded).
		Where("end_time <= ?", now).
		Where("is_waiting_for_previous = false").
		Order("end_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get auctions due for finalization: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) BySeries(ctx context.Context, seriesID string) ([]*models.Auction, error) {
	var auctions []*models.Auction

	err := r.db.NewSelect().
		Model(&auctions).
		Where("packet_series_id = ?", seriesID).
		Order("packet_sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get packet series: %w", err)
	}
	return auctions, nil
}
