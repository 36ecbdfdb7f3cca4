package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/domain"
	"github.com/alanyoungcy/binarypool/internal/engine"
)

// PoolService is the engine surface the pool handler needs.
type PoolService interface {
	Init(ctx context.Context, p engine.InitParams) (domain.PoolID, error)
	Deposit(ctx context.Context, id domain.PoolID, amount int64) error
	Cancel(ctx context.Context, id domain.PoolID) error
	PlaceBet(ctx context.Context, id domain.PoolID, player domain.Address, side int) error
	CancelBet(ctx context.Context, id domain.PoolID, player domain.Address) (int64, error)
	RequestResolution(ctx context.Context, id domain.PoolID) (string, error)
	Settle(ctx context.Context, id domain.PoolID) (engine.SettleReport, error)
	Retrieve(ctx context.Context, id domain.PoolID) (domain.Pool, error)
	ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error)
	Positions(ctx context.Context, id domain.PoolID, opts domain.ListOpts) ([]domain.Position, error)
}

// PoolHandler serves the pool endpoints.
type PoolHandler struct {
	pools        PoolService
	depositAsset domain.Asset
	logger       *slog.Logger
}

// NewPoolHandler creates a PoolHandler. depositAsset is used to render
// deposit amounts.
func NewPoolHandler(pools PoolService, depositAsset domain.Asset, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:        pools,
		depositAsset: depositAsset,
		logger:       logger.With(slog.String("handler", "pool")),
	}
}

type listPoolsResponse struct {
	Pools  []poolView `json:"pools"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// ListPools lists pools by status, open by default.
// GET /api/pools?status=open&limit=50&offset=0
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	status := domain.PoolStatusOpen
	switch s := r.URL.Query().Get("status"); s {
	case "", "open":
	case "canceled":
		status = domain.PoolStatusCanceled
	case "closed":
		status = domain.PoolStatusClosed
	default:
		writeError(w, http.StatusBadRequest, "status must be open, canceled or closed")
		return
	}

	opts := parseListOpts(r)
	pools, err := h.pools.ListByStatus(r.Context(), status, opts)
	if err != nil {
		writeEngineError(w, r, h.logger, "list pools", err)
		return
	}

	views := make([]poolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, newPoolView(p, h.depositAsset))
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: views, Limit: opts.Limit, Offset: opts.Offset})
}

// GetPool returns one pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	pool, err := h.pools.Retrieve(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool, h.depositAsset))
}

// ListPositions pages through a pool's positions in player order.
// GET /api/pools/{id}/positions?limit=50&offset=0
func (h *PoolHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	positions, err := h.pools.Positions(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list positions", err)
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{Player: p.Player.Hex(), Side: p.Side.String(), CreatedAt: p.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

type createPoolRequest struct {
	Owner       string    `json:"owner"`
	Asset       int       `json:"asset"`
	FeedURL     string    `json:"feed_url"`
	FeedFilter  string    `json:"feed_filter"`
	Margin      int64     `json:"margin"`
	Expiry      time.Time `json:"expiry"`
	Threshold   time.Time `json:"threshold"`
	Strike      string    `json:"strike"`
	Description string    `json:"description"`
	Deposit     int64     `json:"deposit"`
}

// CreatePool creates a pool owned by the signing caller unless owner names
// someone else, in which case the engine refuses it.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, ok := actor(r, req.Owner)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	id, err := h.pools.Init(r.Context(), engine.InitParams{
		Owner:       owner,
		Asset:       req.Asset,
		FeedURL:     req.FeedURL,
		FeedFilter:  req.FeedFilter,
		Margin:      req.Margin,
		Expiry:      req.Expiry,
		Threshold:   req.Threshold,
		Strike:      req.Strike,
		Description: req.Description,
		Deposit:     req.Deposit,
	})
	if err != nil {
		writeEngineError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.Hex()})
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit posts the owner's deposit.
// POST /api/pools/{id}/deposit
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.pools.Deposit(r.Context(), id, req.Amount); err != nil {
		writeEngineError(w, r, h.logger, "deposit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelPool cancels an open pool and refunds every bet.
// POST /api/pools/{id}/cancel
func (h *PoolHandler) CancelPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	if err := h.pools.Cancel(r.Context(), id); err != nil {
		writeEngineError(w, r, h.logger, "cancel pool", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type betRequest struct {
	Player string `json:"player"`
	Side   *int   `json:"side"`
}

// PlaceBet places the caller's bet. side is 1 for long and 0 for short.
// POST /api/pools/{id}/bet
func (h *PoolHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	var req betRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Side == nil {
		writeError(w, http.StatusBadRequest, "side is required")
		return
	}
	player, ok := actor(r, req.Player)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid player address")
		return
	}
	if err := h.pools.PlaceBet(r.Context(), id, player, *req.Side); err != nil {
		writeEngineError(w, r, h.logger, "place bet", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelBet withdraws the caller's bet and reports the refund.
// DELETE /api/pools/{id}/bet
func (h *PoolHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	var req betRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	player, ok := actor(r, req.Player)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid player address")
		return
	}
	refund, err := h.pools.CancelBet(r.Context(), id, player)
	if err != nil {
		writeEngineError(w, r, h.logger, "cancel bet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"refund": refund})
}

// RequestResolution asks the oracle for the pool's price.
// POST /api/pools/{id}/resolve
func (h *PoolHandler) RequestResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	requestID, err := h.pools.RequestResolution(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "request resolution", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// Settle runs one settlement step.
// POST /api/pools/{id}/settle
func (h *PoolHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	report, err := h.pools.Settle(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, newSettleView(report, h.depositAsset))
}

// actor resolves the acting address: explicit when given, else the signing
// caller. An anonymous request resolves to the zero address, which the
// engine never authorizes.
func actor(r *http.Request, explicit string) (domain.Address, bool) {
	if explicit != "" {
		if !common.IsHexAddress(explicit) {
			return domain.Address{}, false
		}
		return common.HexToAddress(explicit), true
	}
	inv, _ := auth.FromContext(r.Context())
	return inv.Caller, true
}
