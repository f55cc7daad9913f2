package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/paystack"
	"github.com/joao-fontenele/shopflow/internal/store"
)

// Checkout starts a hosted payment with the provider.
type Checkout interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
}

type InitializeResult struct {
	OrderID          string `json:"order_id"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

type InitializerConfig struct {
	// FrontendURL is where the provider sends the customer back to.
	FrontendURL    string
	Currency       string
	GatewayTimeout time.Duration
}

type Initializer struct {
	store    store.Store
	checkout Checkout
	cfg      InitializerConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewInitializer(s store.Store, checkout Checkout, cfg InitializerConfig, logger *slog.Logger) *Initializer {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &Initializer{
		store:    s,
		checkout: checkout,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type checkoutMetadata struct {
	OrderID      string        `json:"order_id"`
	CustomFields []customField `json:"custom_fields"`
}

type customField struct {
	DisplayName  string `json:"display_name"`
	VariableName string `json:"variable_name"`
	Value        string `json:"value"`
}

// Initialize opens a checkout session for the order total and records a
// pending payment under the generated reference.
func (i *Initializer) Initialize(ctx context.Context, actor domain.Actor, orderID, email string) (*InitializeResult, error) {
	order, err := i.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if !actor.CanAccess(order) {
		return nil, domain.ErrNotAuthorized
	}
	if order.IsPaid {
		return nil, domain.ErrAlreadyPaid
	}
	if order.Status == domain.OrderStatusCancelled {
		return nil, &domain.TransitionError{From: order.Status, To: domain.OrderStatusConfirmed, Reason: "order was cancelled"}
	}

	email = strings.TrimSpace(email)
	if email == "" {
		email = order.CustomerEmail
	}
	if email == "" {
		email = actor.Email
	}
	if !strings.Contains(email, "@") {
		return nil, domain.Validationf("a valid email is required")
	}

	now := i.now()
	reference := fmt.Sprintf("order_%s_%d", order.ID, now.UnixMilli())

	ctx, cancel := context.WithTimeout(ctx, i.cfg.GatewayTimeout)
	defer cancel()

	res, err := i.checkout.Initialize(ctx, paystack.InitializeRequest{
		Email:       email,
		AmountMinor: domain.ToMinor(order.TotalPrice),
		Reference:   reference,
		CallbackURL: i.cfg.FrontendURL + "/order/" + order.ID,
		Currency:    i.cfg.Currency,
		Metadata: checkoutMetadata{
			OrderID: order.ID,
			CustomFields: []customField{
				{DisplayName: "Order ID", VariableName: "order_id", Value: order.ID},
				{DisplayName: "Customer ID", VariableName: "customer_id", Value: order.UserID},
			},
		},
	})
	if err != nil {
		i.logger.WarnContext(ctx, "failed to initialize payment", "error", err, "order_id", order.ID)
		return nil, err
	}
	if res.Reference != "" {
		reference = res.Reference
	}

	err = i.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.UpsertPayment(ctx, &domain.Payment{
			UserID:    order.UserID,
			OrderID:   order.ID,
			Reference: reference,
			Amount:    order.TotalPrice,
			Currency:  i.cfg.Currency,
			Status:    domain.PaymentStatusPending,
			Method:    MethodPaystack,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	i.logger.InfoContext(ctx, "payment initialized", "order_id", order.ID, "reference", reference)
	return &InitializeResult{
		OrderID:          order.ID,
		Reference:        reference,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
	}, nil
}
