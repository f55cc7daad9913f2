package orders

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/shopflow/internal/auth"
	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, h.logger, err, "invalid order request")
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to place order")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.service.Get(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to get order", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListMine(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to list orders")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, orders)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAll(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	httpx.WriteJSON(w, h.logger, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, h.logger, err, "invalid status request")
		return
	}

	order, err := h.service.SetStatus(r.Context(), auth.FromContext(r.Context()), id, req.Status)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to update order status", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.service.Cancel(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to cancel order", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.service.MarkDelivered(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to mark order delivered", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}
