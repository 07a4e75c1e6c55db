package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Account() common.Address
	Catalog(ctx context.Context) []domain.ItemView
	Owned(ctx context.Context, account common.Address) ([]domain.ItemView, error)
	Refresh(ctx context.Context) error
	List(ctx context.Context, name, price string) (domain.Receipt, error)
	Purchase(ctx context.Context, id uint64, price string) (domain.Receipt, error)
}

// MarketHandler serves catalog, owned-items and submission endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// itemResponse decorates an ItemView with the purchase gate for the serving
// account.
type itemResponse struct {
	domain.ItemView
	Purchasable bool `json:"purchasable"`
}

type listItemsResponse struct {
	Account common.Address `json:"account"`
	Items   []itemResponse `json:"items"`
	Total   int            `json:"total"`
}

type listRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type purchaseRequest struct {
	Price string `json:"price"`
}

// GetCatalog returns the catalog view.
// GET /api/catalog
func (h *MarketHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	account := h.markets.Account()
	writeJSON(w, http.StatusOK, h.itemsResponse(account, h.markets.Catalog(r.Context())))
}

// RefreshCatalog reloads the primary session and returns the new catalog.
// POST /api/catalog/refresh
func (h *MarketHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.markets.Refresh(r.Context()); err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	h.GetCatalog(w, r)
}

// GetOwned returns the items owned by an account.
// GET /api/accounts/{address}/items
func (h *MarketHandler) GetOwned(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	account := common.HexToAddress(raw)

	items, err := h.markets.Owned(r.Context(), account)
	if err != nil {
		h.fail(w, r, "owned", err)
		return
	}
	writeJSON(w, http.StatusOK, h.itemsResponse(account, items))
}

// ListItem submits a new listing and returns the accepted receipt.
// POST /api/items {"name": "...", "price": "1.5"}
func (h *MarketHandler) ListItem(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	receipt, err := h.markets.List(r.Context(), req.Name, req.Price)
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// PurchaseItem submits a purchase and returns the accepted receipt.
// POST /api/items/{id}/purchase {"price": "1.5"}
func (h *MarketHandler) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.markets.Purchase(r.Context(), id, req.Price)
	if err != nil {
		h.fail(w, r, "purchase", err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (h *MarketHandler) itemsResponse(account common.Address, items []domain.ItemView) listItemsResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{ItemView: it, Purchasable: it.Purchasable(account)}
	}
	return listItemsResponse{Account: account, Items: out, Total: len(out)}
}

// fail maps err to a status and logs server-side failures.
func (h *MarketHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}
