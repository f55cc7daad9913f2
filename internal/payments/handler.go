package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/shopflow/internal/auth"
	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/httpx"
	"github.com/joao-fontenele/shopflow/internal/store"
)

type Handler struct {
	store       store.Reader
	reconciler  *Reconciler
	initializer *Initializer
	logger      *slog.Logger
}

func NewHandler(s store.Reader, reconciler *Reconciler, initializer *Initializer, logger *slog.Logger) *Handler {
	return &Handler{
		store:       s,
		reconciler:  reconciler,
		initializer: initializer,
		logger:      logger,
	}
}

type verifyRequest struct {
	Reference string `json:"reference"`
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, h.logger, err, "invalid verify request", "order_id", id)
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), auth.FromContext(r.Context()), id, req.Reference)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to verify payment", "order_id", id, "reference", req.Reference)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, res)
}

type initializeRequest struct {
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, h.logger, err, "invalid initialize request")
		return
	}
	if req.OrderID == "" {
		httpx.Fail(w, h.logger, domain.Validationf("order_id is required"), "invalid initialize request")
		return
	}

	res, err := h.initializer.Initialize(r.Context(), auth.FromContext(r.Context()), req.OrderID, req.Email)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to initialize payment", "order_id", req.OrderID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, res)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := auth.FromContext(r.Context())

	payments, err := h.list(r, actor, id)
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to list payments", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, payments)
}

func (h *Handler) list(r *http.Request, actor domain.Actor, orderID string) ([]domain.Payment, error) {
	order, err := h.store.GetOrder(r.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if !actor.CanAccess(order) {
		return nil, domain.ErrNotAuthorized
	}
	return h.store.ListPaymentsByOrder(r.Context(), orderID)
}

// HandleListAll is the admin audit view over every payment record.
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	if !auth.FromContext(r.Context()).Admin {
		httpx.Fail(w, h.logger, domain.ErrNotAuthorized, "failed to list payments")
		return
	}

	payments, err := h.store.ListPayments(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, err, "failed to list payments")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, payments)
}
