package web

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stockyard-live/livebid/livebid/database/models"
	"github.com/stockyard-live/livebid/livebid/engine"
)

// Handler exposes the bidding engine over HTTP. Authentication happens
// upstream; the gateway injects the approved bidder's id in X-User-ID.
type Handler struct {
	engine *engine.Engine
	clock  engine.Clock
}

func NewHandler(eng *engine.Engine, clock engine.Clock) *Handler {
	if clock == nil {
		clock = engine.SystemClock
	}
	return &Handler{engine: eng, clock: clock}
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "server_time": h.clock.Now()})
	})

	api := app.Group("/api/v1")
	api.Get("/bids", h.myBids)
	api.Post("/auctions", h.createAuction)
	api.Post("/packet-series", h.createPacketSeries)
	api.Get("/auctions/:id", h.getAuction)
	api.Get("/auctions/:id/bids", h.getBids)
	api.Post("/auctions/:id/bids", h.placeBid)
	api.Get("/auctions/:id/autobid", h.getAutoBid)
	api.Put("/auctions/:id/autobid", h.setAutoBid)
	api.Delete("/auctions/:id/autobid", h.removeAutoBid)
	api.Post("/auctions/:id/cancel", h.cancelAuction)
	api.Post("/auctions/:id/start-next", h.startNextPacket)

	// Admin surface; the gateway restricts who reaches it.
	app.Post("/admin/v1/auctions/:id/moderate", h.moderateAuction)
}

type errorBody struct {
	Error       string      `json:"error"`
	Code        engine.Code `json:"code"`
	RequiredMin int64       `json:"required_min,omitempty"`
	ServerTime  time.Time   `json:"server_time"`
}

var statusByCode = map[engine.Code]int{
	engine.CodeAuctionNotFound:     fiber.StatusNotFound,
	engine.CodeAuctionUnavailable:  fiber.StatusForbidden,
	engine.CodeAuctionNotLive:      fiber.StatusConflict,
	engine.CodeSelfBidRejected:     fiber.StatusForbidden,
	engine.CodeBidTooLow:           fiber.StatusUnprocessableEntity,
	engine.CodeAutoBidBelowMinimum: fiber.StatusUnprocessableEntity,
	engine.CodeAutoBidNotFound:     fiber.StatusNotFound,
	engine.CodeConcurrentConflict:  fiber.StatusConflict,
	engine.CodeInvalidAuction:      fiber.StatusBadRequest,
	engine.CodeForbidden:           fiber.StatusForbidden,
}

func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	body := errorBody{
		Error:      err.Error(),
		ServerTime: h.clock.Now(),
	}

	var be *engine.BidError
	if errors.As(err, &be) {
		body.Code = be.Code
		body.RequiredMin = be.RequiredMin
		if status, ok := statusByCode[be.Code]; ok {
			return c.Status(status).JSON(body)
		}
	}
	body.Error = "internal error"
	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

func (h *Handler) auctionID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func (h *Handler) userID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) getAuction(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	snap, err := h.engine.Snapshot(c.Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(snap)
}

func (h *Handler) getBids(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	bids, err := h.engine.Bids(c.Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"auction_id":  id,
		"bids":        bids,
		"server_time": h.clock.Now(),
	})
}

func (h *Handler) myBids(c *fiber.Ctx) error {
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	bids, err := h.engine.BidsByBidder(c.Context(), userID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"bidder_id":   userID,
		"bids":        bids,
		"server_time": h.clock.Now(),
	})
}

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) placeBid(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var req placeBidRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}

	result, err := h.engine.PlaceBid(c.Context(), id, userID, req.Amount)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"result":      result,
		"server_time": h.clock.Now(),
	})
}

type autoBidRequest struct {
	MaxAmount int64 `json:"max_amount"`
}

func (h *Handler) setAutoBid(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var req autoBidRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}

	status, err := h.engine.SetAutoBid(c.Context(), id, userID, req.MaxAmount)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"auto_bid":    status,
		"server_time": h.clock.Now(),
	})
}

func (h *Handler) getAutoBid(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	status, err := h.engine.GetAutoBid(c.Context(), id, userID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"auto_bid":    status,
		"server_time": h.clock.Now(),
	})
}

func (h *Handler) removeAutoBid(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	if err := h.engine.RemoveAutoBid(c.Context(), id, userID); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type createAuctionRequest struct {
	CategoryID      int64              `json:"category_id"`
	StartingBid     int64              `json:"starting_bid"`
	MinIncrement    int64              `json:"min_increment"`
	ReservePrice    *int64             `json:"reserve_price"`
	BidPricingMode  models.PricingMode `json:"bid_pricing_mode"`
	AnimalCount     int                `json:"animal_count"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
	DurationMinutes int                `json:"duration_minutes"`
}

func (r createAuctionRequest) toModel(sellerID int64) *models.Auction {
	return &models.Auction{
		SellerID:        sellerID,
		CategoryID:      r.CategoryID,
		StartingBid:     r.StartingBid,
		MinIncrement:    r.MinIncrement,
		ReservePrice:    r.ReservePrice,
		BidPricingMode:  r.BidPricingMode,
		AnimalCount:     r.AnimalCount,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationMinutes: r.DurationMinutes,
		IsActive:        true,
	}
}

func (h *Handler) createAuction(c *fiber.Ctx) error {
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var req createAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}

	auction, err := h.engine.CreateAuction(c.Context(), req.toModel(userID))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(auction)
}

type createPacketSeriesRequest struct {
	AutoStartNext bool                   `json:"auto_start_next"`
	Packets       []createAuctionRequest `json:"packets"`
}

func (h *Handler) createPacketSeries(c *fiber.Ctx) error {
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var req createPacketSeriesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}

	packets := make([]*models.Auction, 0, len(req.Packets))
	for _, p := range req.Packets {
		m := p.toModel(userID)
		m.AutoStartNext = req.AutoStartNext
		packets = append(packets, m)
	}

	seriesID, err := h.engine.CreatePacketSeries(c.Context(), packets)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"packet_series_id": seriesID,
		"packet_count":     len(packets),
	})
}

func (h *Handler) cancelAuction(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	if err := h.engine.CancelAuction(c.Context(), id, userID); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type moderateRequest struct {
	Moderated bool `json:"moderated"`
}

func (h *Handler) moderateAuction(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}

	var req moderateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}

	if err := h.engine.SetModerated(c.Context(), id, req.Moderated); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) startNextPacket(c *fiber.Ctx) error {
	id, err := h.auctionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid auction id", Code: engine.CodeInvalidAuction, ServerTime: h.clock.Now()})
	}
	userID, ok := h.userID(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	if err := h.engine.StartNextPacket(c.Context(), id, userID); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
