package engine

import (
	"errors"
	"fmt"
)

// Code is a stable, client-facing error code.
type Code string

const (
	CodeAuctionNotFound     Code = "auction_not_found"
	CodeAuctionUnavailable  Code = "auction_unavailable"
	CodeAuctionNotLive      Code = "auction_not_live"
	CodeSelfBidRejected     Code = "self_bid_rejected"
	CodeBidTooLow           Code = "bid_too_low"
	CodeAutoBidBelowMinimum Code = "auto_bid_below_minimum"
	CodeAutoBidNotFound     Code = "auto_bid_not_found"
	CodeConcurrentConflict  Code = "concurrent_conflict"
	CodeInvalidAuction      Code = "invalid_auction"
	CodeForbidden           Code = "forbidden"
)

// BidError is a rejection the caller can act on. RequiredMin carries the
// computed minimum next bid whenever an amount was rejected, so clients
// can retry without a second round trip.
type BidError struct {
	Code        Code
	Message     string
	RequiredMin int64
}

func (e *BidError) Error() string {
	return e.Message
}

// Retryable reports whether the caller should retry with fresh state.
func (e *BidError) Retryable() bool {
	return e.Code == CodeConcurrentConflict
}

// ErrCode extracts the engine code from err, or "" if err is not a BidError.
func ErrCode(err error) Code {
	var be *BidError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func errAuctionNotFound(auctionID int64) *BidError {
	return &BidError{
		Code:    CodeAuctionNotFound,
		Message: fmt.Sprintf("auction %d not found", auctionID),
	}
}

func errAuctionUnavailable(auctionID int64) *BidError {
	return &BidError{
		Code:    CodeAuctionUnavailable,
		Message: fmt.Sprintf("auction %d is not available for bidding", auctionID),
	}
}

func errAuctionNotLive(auctionID int64, status string) *BidError {
	return &BidError{
		Code:    CodeAuctionNotLive,
		Message: fmt.Sprintf("auction %d is %s, not live", auctionID, status),
	}
}

func errSelfBid() *BidError {
	return &BidError{
		Code:    CodeSelfBidRejected,
		Message: "sellers cannot bid on their own auction",
	}
}

func errBidTooLow(requiredMin int64) *BidError {
	return &BidError{
		Code:        CodeBidTooLow,
		Message:     fmt.Sprintf("bid too low, minimum bid is %d", requiredMin),
		RequiredMin: requiredMin,
	}
}

func errAutoBidBelowMinimum(requiredMin int64) *BidError {
	return &BidError{
		Code:        CodeAutoBidBelowMinimum,
		Message:     fmt.Sprintf("auto-bid ceiling is below the minimum next bid of %d", requiredMin),
		RequiredMin: requiredMin,
	}
}

func errAutoBidNotFound(auctionID, bidderID int64) *BidError {
	return &BidError{
		Code:    CodeAutoBidNotFound,
		Message: fmt.Sprintf("no auto-bid registered for bidder %d on auction %d", bidderID, auctionID),
	}
}

func errConcurrentConflict() *BidError {
	return &BidError{
		Code:    CodeConcurrentConflict,
		Message: "bid lost the serialization race, retry with a fresh minimum",
	}
}

func errInvalidAuction(msg string) *BidError {
	return &BidError{
		Code:    CodeInvalidAuction,
		Message: msg,
	}
}

func errForbidden(msg string) *BidError {
	return &BidError{
		Code:    CodeForbidden,
		Message: msg,
	}
}
