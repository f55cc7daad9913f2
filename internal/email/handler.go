// Package email is a stand-in mail service: it accepts messages, waits a
// little like a real provider would and logs them.
package email

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/joao-fontenele/shopflow/internal/httpx"
)

type Handler struct {
	logger *slog.Logger
	delay  func() time.Duration
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		delay:  func() time.Duration { return time.Duration(50+rand.IntN(151)) * time.Millisecond },
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.To); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid recipient address")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "subject is required")
		return
	}

	select {
	case <-time.After(h.delay()):
	case <-r.Context().Done():
		return
	}

	h.logger.InfoContext(r.Context(), "email sent", "to", req.To, "subject", req.Subject)

	httpx.WriteJSON(w, h.logger, http.StatusOK, sendResponse{Status: "sent"})
}
