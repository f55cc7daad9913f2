package inventory

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/shopflow/internal/auth"
	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/httpx"
	"github.com/joao-fontenele/shopflow/internal/store"
)

type Handler struct {
	store  store.Store
	ledger *Ledger
	logger *slog.Logger
}

func NewHandler(s store.Store, ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{
		store:  s,
		ledger: ledger,
		logger: logger,
	}
}

type stockResponse struct {
	ProductID         string `json:"product_id"`
	Name              string `json:"name"`
	CountInStock      int    `json:"count_in_stock"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	IsLowStock        bool   `json:"is_low_stock"`
}

func newStockResponse(p *domain.Product) stockResponse {
	return stockResponse{
		ProductID:         p.ID,
		Name:              p.Name,
		CountInStock:      p.CountInStock,
		LowStockThreshold: p.LowStockThreshold,
		IsLowStock:        p.IsLowStock,
	}
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")

	p, err := h.store.GetProduct(r.Context(), productID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to get stock", "product_id", productID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, newStockResponse(p))
}

type setStockRequest struct {
	Count *int `json:"count"`
}

func (h *Handler) HandleSetStock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")

	actor := auth.FromContext(r.Context())
	if !actor.Admin {
		httpx.WriteError(w, h.logger, http.StatusUnauthorized, domain.ErrNotAuthorized.Error())
		return
	}

	var req setStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, h.logger, err, "invalid stock request")
		return
	}
	if req.Count == nil {
		httpx.Fail(w, h.logger, domain.Validationf("count is required"), "invalid stock request")
		return
	}

	p, err := h.ledger.SetStock(r.Context(), h.store, productID, *req.Count)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to set stock", "product_id", productID)
		return
	}

	h.logger.Info("stock updated by admin", "product_id", p.ID, "count_in_stock", p.CountInStock, "actor", actor.UserID)
	httpx.WriteJSON(w, h.logger, http.StatusOK, newStockResponse(p))
}
