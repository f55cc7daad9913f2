package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/inventory"
	"github.com/joao-fontenele/shopflow/internal/store"
	"github.com/joao-fontenele/shopflow/internal/telemetry"
)

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	Items           []ItemRequest          `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
	// Totals the client displayed at checkout. When present they must match
	// the server computed totals to the cent.
	ClientTotals *domain.Totals `json:"totals,omitempty"`
}

func (r PlaceOrderRequest) validate() error {
	if len(r.Items) == 0 {
		return domain.ErrEmptyOrder
	}
	var missing []string
	a := r.ShippingAddress
	for name, v := range map[string]string{
		"address":     a.Address,
		"city":        a.City,
		"postal_code": a.PostalCode,
		"country":     a.Country,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "shipping_address."+name)
		}
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		missing = append(missing, "payment_method")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return domain.Validationf("missing fields: %s", strings.Join(missing, ", "))
	}

	// Non-positive lines are rejected by the ledger with the product id.
	total := 0
	for _, it := range r.Items {
		if it.Quantity <= 0 {
			continue
		}
		if it.Quantity > inventory.MaxQuantity-total {
			return domain.Validationf("order quantity exceeds %d", inventory.MaxQuantity)
		}
		total += it.Quantity
	}
	return nil
}

type Service struct {
	store     store.Store
	ledger    *inventory.Ledger
	publisher Publisher
	metrics   *telemetry.ShopMetrics
	pricing   Pricing
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *telemetry.ShopMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPricing(p Pricing) Option {
	return func(s *Service) { s.pricing = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(s store.Store, ledger *inventory.Ledger, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:   s,
		ledger:  ledger,
		pricing: DefaultPricing(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// PlaceOrder reserves stock and creates the order in a single transaction.
// Any failure leaves both stock and orders untouched.
func (s *Service) PlaceOrder(ctx context.Context, actor domain.Actor, req PlaceOrderRequest) (*domain.Order, error) {
	order, err := s.placeOrder(ctx, actor, req)
	if err != nil {
		s.metrics.OrderRejected(ctx, rejectReason(err))
		return nil, err
	}

	s.metrics.OrderPlaced(ctx, order.PaymentMethod)
	s.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"user_id", order.UserID,
		"status", order.Status,
		"total", order.TotalPrice,
		"items", len(order.Items),
	)
	PublishEvent(ctx, s.publisher, s.logger, domain.EventOrderPlaced, order, s.now())
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, actor domain.Actor, req PlaceOrderRequest) (*domain.Order, error) {
	if actor.Anonymous() {
		return nil, domain.ErrNotAuthorized
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	reqs := make([]inventory.Request, len(req.Items))
	for i, it := range req.Items {
		reqs[i] = inventory.Request{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	var order *domain.Order
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := s.ledger.Reserve(ctx, tx, reqs)
		if err != nil {
			return err
		}

		catalog := make(map[string]*domain.Product, len(products))
		for _, p := range products {
			catalog[p.ID] = p
		}

		items := make([]domain.LineItem, len(req.Items))
		for i, it := range req.Items {
			p := catalog[it.ProductID]
			items[i] = domain.LineItem{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  it.Quantity,
				UnitPrice: p.Price,
			}
		}

		totals := s.pricing.Compute(items)
		if req.ClientTotals != nil && !req.ClientTotals.Equal(totals) {
			return fmt.Errorf("%w: client total %s, computed %s",
				domain.ErrTotalsMismatch, req.ClientTotals.TotalPrice.StringFixed(2), totals.TotalPrice.StringFixed(2))
		}

		now := s.now()
		o := &domain.Order{
			UserID:          actor.UserID,
			CustomerEmail:   actor.Email,
			Items:           items,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
			Totals:          totals,
			Status:          InitialStatus(req.PaymentMethod),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, orderLookupError(err)
	}
	if !actor.CanAccess(o) {
		return nil, domain.ErrNotAuthorized
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if actor.Anonymous() {
		return nil, domain.ErrNotAuthorized
	}
	return s.store.ListOrders(ctx, store.OrderFilter{UserID: actor.UserID})
}

func (s *Service) ListAll(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if !actor.Admin {
		return nil, domain.ErrNotAuthorized
	}
	return s.store.ListOrders(ctx, store.OrderFilter{})
}

// Cancel moves the order to Cancelled and puts its stock back.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	order, err := s.mutate(ctx, id, func(ctx context.Context, tx store.Tx, o *domain.Order) error {
		if err := Transition(o, domain.OrderStatusCancelled, actor, s.now()); err != nil {
			return err
		}
		_, err := s.ledger.Release(ctx, tx, stockRequests(o))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order cancelled", "order_id", order.ID, "actor", actor.UserID)
	PublishEvent(ctx, s.publisher, s.logger, domain.EventOrderCancelled, order, s.now())
	return order, nil
}

// SetStatus is the administrative override. Stock follows the order: it is
// released when an order is forced into Cancelled and reserved again when a
// cancelled order is revived.
func (s *Service) SetStatus(ctx context.Context, actor domain.Actor, id string, status domain.OrderStatus) (*domain.Order, error) {
	var from domain.OrderStatus
	order, err := s.mutate(ctx, id, func(ctx context.Context, tx store.Tx, o *domain.Order) error {
		from = o.Status
		if err := Override(o, status, actor, s.logger, s.now()); err != nil {
			return err
		}

		switch {
		case from != domain.OrderStatusCancelled && status == domain.OrderStatusCancelled:
			_, err := s.ledger.Release(ctx, tx, stockRequests(o))
			return err
		case from == domain.OrderStatusCancelled && status != domain.OrderStatusCancelled:
			_, err := s.ledger.Reserve(ctx, tx, stockRequests(o))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != domain.OrderStatusCancelled && status == domain.OrderStatusCancelled {
		PublishEvent(ctx, s.publisher, s.logger, domain.EventOrderCancelled, order, s.now())
	}
	return order, nil
}

func (s *Service) MarkDelivered(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	if !actor.Admin {
		return nil, domain.ErrNotAuthorized
	}

	order, err := s.mutate(ctx, id, func(_ context.Context, _ store.Tx, o *domain.Order) error {
		return MarkDelivered(o, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order delivered", "order_id", order.ID, "actor", actor.UserID)
	PublishEvent(ctx, s.publisher, s.logger, domain.EventOrderDelivered, order, s.now())
	return order, nil
}

// mutate locks the order, applies fn and persists the result in one transaction.
func (s *Service) mutate(ctx context.Context, id string, fn func(ctx context.Context, tx store.Tx, o *domain.Order) error) (*domain.Order, error) {
	var out *domain.Order
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return orderLookupError(err)
		}
		if err := fn(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func stockRequests(o *domain.Order) []inventory.Request {
	reqs := make([]inventory.Request, len(o.Items))
	for i, li := range o.Items {
		reqs[i] = inventory.Request{ProductID: li.ProductID, Quantity: li.Quantity}
	}
	return reqs
}

func orderLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrOrderNotFound
	}
	return fmt.Errorf("load order: %w", err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, domain.ErrTotalsMismatch):
		return "totals_mismatch"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrNotAuthorized):
		return "not_authorized"
	default:
		return "internal"
	}
}
