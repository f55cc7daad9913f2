// Package notify turns order events into customer emails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/messaging"
)

type Handler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Handle sends the email for one event. Undecodable or unknown events are
// skipped; a failed send is returned so the event is redelivered.
func (h *Handler) Handle(ctx context.Context, msg messaging.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.ErrorContext(ctx, "dropping undecodable order event", "error", err, "key", msg.Key)
		return nil
	}
	if event.Type == "" {
		event.Type = msg.EventType
	}

	m, ok := compose(event)
	if !ok {
		h.logger.DebugContext(ctx, "no email for order event", "event_type", event.Type, "order_id", event.OrderID)
		return nil
	}
	if m.To == "" {
		h.logger.WarnContext(ctx, "order event has no customer email", "event_type", event.Type, "order_id", event.OrderID)
		return nil
	}

	h.logger.InfoContext(ctx, "processing order event", "event_type", event.Type, "order_id", event.OrderID)

	if err := h.send(ctx, m); err != nil {
		h.logger.ErrorContext(ctx, "failed to send email", "error", err, "event_type", event.Type, "order_id", event.OrderID)
		return fmt.Errorf("send %s email: %w", event.Type, err)
	}
	return nil
}

func compose(e domain.OrderEvent) (email, bool) {
	m := email{To: e.Email}
	switch e.Type {
	case domain.EventOrderPlaced:
		m.Subject = "Order Received: " + e.OrderID
		m.Body = fmt.Sprintf("We received your order %s for %s. Status: %s.", e.OrderID, e.Total.StringFixed(2), e.Status)
	case domain.EventOrderPaid:
		m.Subject = "Payment Confirmed: " + e.OrderID
		m.Body = fmt.Sprintf("Your payment of %s for order %s was received. Your order is confirmed.", e.Total.StringFixed(2), e.OrderID)
	case domain.EventOrderCancelled:
		m.Subject = "Order Cancelled: " + e.OrderID
		m.Body = fmt.Sprintf("Your order %s has been cancelled.", e.OrderID)
	case domain.EventOrderDelivered:
		m.Subject = "Order Delivered: " + e.OrderID
		m.Body = fmt.Sprintf("Your order %s has been delivered.", e.OrderID)
	default:
		return email{}, false
	}
	return m, true
}

func (h *Handler) send(ctx context.Context, m email) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
