package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infra"
	"storefront-orders/internal/infra/metrics"
	"storefront-orders/internal/receipt"
	"storefront-orders/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrOrderNotFound = domain.NewError(domain.KindNotFound, "no such order exists")

const sideEffectTimeout = 30 * time.Second

type OrderLine struct {
	ProductID string
	Quantity  int64
}

type CreateOrderInput struct {
	Items         []OrderLine
	ShippingInfo  domain.ShippingInfo
	PaymentMethod domain.PaymentMethod
}

type OrderService struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	users     repository.UserRepository
	tx        repository.Transactor
	notifier  infra.NotifierInterface
	publisher infra.PublisherInterface
	receipts  *receipt.Renderer
	metrics   *metrics.OrderMetrics
	now       func() time.Time

	background sync.WaitGroup
}

func NewOrderService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	users repository.UserRepository,
	tx repository.Transactor,
	notifier infra.NotifierInterface,
	publisher infra.PublisherInterface,
) *OrderService {
	if publisher == nil {
		publisher = infra.NopPublisher{}
	}
	return &OrderService{
		orders:    orders,
		products:  products,
		users:     users,
		tx:        tx,
		notifier:  notifier,
		publisher: publisher,
		receipts:  receipt.NewRenderer("Storefront", "₹"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) SetReceiptRenderer(r *receipt.Renderer) { s.receipts = r }

func (s *OrderService) SetMetrics(m *metrics.OrderMetrics) { s.metrics = m }

func (s *OrderService) SetClock(now func() time.Time) { s.now = now }

// Wait blocks until every dispatched receipt and event has finished.
func (s *OrderService) Wait() { s.background.Wait() }

// CreateOrder snapshots the referenced products, prices the order from those
// snapshots and persists it. Paid orders take their stock in the same
// transaction as the insert.
func (s *OrderService) CreateOrder(ctx context.Context, requester domain.Requester, in CreateOrderInput) (*domain.Order, error) {
	if requester.ID == "" {
		return nil, domain.NewError(domain.KindUnauthorized, "authentication required")
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	snapshots, err := s.loadProducts(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, len(in.Items))
	for i, line := range in.Items {
		p := snapshots[line.ProductID]
		items[i] = domain.OrderItem{
			ProductID:    p.ID,
			ProductName:  p.ProductName,
			ProductImage: p.ProductImage,
			Quantity:     line.Quantity,
			UnitCost:     p.Cost,
		}
	}

	order := &domain.Order{
		ID:            uuid.NewString(),
		OwnerID:       requester.ID,
		Items:         items,
		TotalAmount:   domain.SumItems(items),
		ShippingInfo:  in.ShippingInfo,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: in.PaymentMethod.InitialPaymentStatus(),
		OrderStatus:   domain.StatusProcessing,
		OrderDate:     s.now(),
	}

	effect := domain.StockNone
	if order.IsPaid() {
		effect = domain.StockReserve
	}
	reserve := domain.Adjustments(order.Items, effect)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		if len(reserve) == 0 {
			return nil
		}
		return s.products.AdjustQuantities(ctx, reserve)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	s.metrics.Stock(effect.String(), unitsOf(reserve))
	slog.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"owner_id", order.OwnerID,
		"payment_method", order.PaymentMethod,
		"total", order.TotalAmount.StringFixed(2),
	)

	s.dispatch(func(ctx context.Context) { s.sendReceipt(ctx, order) })
	s.publish(domain.EventOrderCreated, domain.NewOrderEvent(order, "", effect, order.OrderDate))

	return order, nil
}

func validateCreate(in *CreateOrderInput) error {
	if len(in.Items) == 0 {
		return domain.NewError(domain.KindValidation, "no items in order")
	}
	for _, line := range in.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.NewError(domain.KindValidation, "item product id is required")
		}
		if line.Quantity < 1 {
			return domain.NewError(domain.KindValidation, "item quantity for product %s must be at least 1", line.ProductID)
		}
	}

	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.PaymentCOD
	}
	if !in.PaymentMethod.Valid() {
		return domain.NewError(domain.KindValidation, "invalid payment method %q", in.PaymentMethod)
	}

	si := in.ShippingInfo
	required := []struct{ field, value string }{
		{"name", si.Name}, {"address", si.Address}, {"country", si.Country}, {"phone", si.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.NewError(domain.KindValidation, "shipping %s is required", r.field)
		}
	}
	return nil
}

// loadProducts fetches each distinct product once, concurrently.
func (s *OrderService) loadProducts(ctx context.Context, lines []OrderLine) (map[string]*domain.Product, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}

	found := make([]*domain.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := s.products.FindByID(gctx, id)
			if err != nil {
				return domain.Internal(err)
			}
			if p == nil {
				return domain.NewError(domain.KindNotFound, "product %s not found", id)
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Keyed by the id as requested: the store may match ids case-insensitively
	// and hand back the canonical spelling.
	out := make(map[string]*domain.Product, len(ids))
	for i, id := range ids {
		out[id] = found[i]
	}
	return out, nil
}

// CancelOrder is the customer-facing cancel. Delivered and cancelled orders
// are refused; a paid order gets its stock back.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, requester domain.Requester) (*domain.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccess(order) {
		return nil, domain.NewError(domain.KindForbidden, "not authorized to cancel this order")
	}
	if order.OrderStatus.IsTerminal() {
		return nil, domain.NewError(domain.KindInvalidTransition, "order cannot be cancelled (current status: %s)", order.OrderStatus)
	}

	return s.transition(ctx, order, domain.StatusCancelled, domain.EventOrderCancelled)
}

// UpdateOrderStatus is the administrator override. Unlike CancelOrder it may
// leave delivered or cancelled, see domain.AdminMayReopenTerminal.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, requester domain.Requester) (*domain.Order, error) {
	if !requester.IsAdmin {
		return nil, domain.NewError(domain.KindForbidden, "not authorized to update order status")
	}
	if !status.Valid() {
		return nil, domain.NewError(domain.KindValidation, "invalid order status %q", status)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus.IsTerminal() && order.OrderStatus != status && !domain.AdminMayReopenTerminal {
		return nil, domain.NewError(domain.KindInvalidTransition, "order status is final (current status: %s)", order.OrderStatus)
	}

	return s.transition(ctx, order, status, domain.EventOrderStatusUpdated)
}

// transition writes the new status and the stock it implies in one
// transaction. The status write is conditional on the status read, so two
// racing transitions cannot both move stock.
func (s *OrderService) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus, event string) (*domain.Order, error) {
	from := order.OrderStatus
	effect := domain.StockEffectOf(order, to)
	adjustments := domain.Adjustments(order.Items, effect)

	var deliveryDate *time.Time
	if to == domain.StatusDelivered {
		now := s.now()
		deliveryDate = &now
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStatus(ctx, order.ID, from, to, deliveryDate); err != nil {
			return err
		}
		if len(adjustments) == 0 {
			return nil
		}
		return s.products.AdjustQuantities(ctx, adjustments)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	order.OrderStatus = to
	if deliveryDate != nil {
		order.DeliveryDate = deliveryDate
	}

	s.metrics.Transition(string(from), string(to))
	s.metrics.Stock(effect.String(), unitsOf(adjustments))
	slog.InfoContext(ctx, "order status changed",
		"order_id", order.ID,
		"from", from,
		"to", to,
		"stock_effect", effect.String(),
	)

	s.publish(event, domain.NewOrderEvent(order, from, effect, s.now()))
	return order, nil
}

func (s *OrderService) GetOrderById(ctx context.Context, orderID string, requester domain.Requester) (*domain.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccess(order) {
		return nil, domain.NewError(domain.KindForbidden, "not authorized to view this order")
	}
	return order, nil
}

func (s *OrderService) ListOrdersForUser(ctx context.Context, ownerID string) ([]domain.Order, error) {
	orders, err := s.orders.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return newestFirst(orders), nil
}

func (s *OrderService) ListAllOrders(ctx context.Context, requester domain.Requester) ([]domain.Order, error) {
	if !requester.IsAdmin {
		return nil, domain.NewError(domain.KindForbidden, "not authorized to list all orders")
	}
	orders, err := s.orders.FindAll(ctx)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return newestFirst(orders), nil
}

func (s *OrderService) findOrder(ctx context.Context, id string) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrOrderNotFound
	}
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func newestFirst(orders []domain.Order) []domain.Order {
	if orders == nil {
		return []domain.Order{}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
	return orders
}

func unitsOf(adjustments []domain.StockAdjustment) int64 {
	var n int64
	for _, a := range adjustments {
		if a.Delta < 0 {
			n -= a.Delta
		} else {
			n += a.Delta
		}
	}
	return n
}

func translateStoreErr(err error) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, repository.ErrInsufficientStock):
		return &domain.Error{Kind: domain.KindInsufficientStock, Message: "insufficient stock", Err: err}
	case errors.Is(err, repository.ErrProductNotFound):
		return &domain.Error{Kind: domain.KindNotFound, Message: "product not found", Err: err}
	case errors.Is(err, repository.ErrStatusConflict):
		return &domain.Error{Kind: domain.KindConflict, Message: "order was modified concurrently, retry", Err: err}
	}
	return domain.Internal(err)
}

// dispatch runs fn detached from the request; ctx cancellation of the caller
// does not stop it.
func (s *OrderService) dispatch(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *OrderService) publish(pattern string, evt domain.OrderEvent) {
	s.dispatch(func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, pattern, evt); err != nil {
			slog.WarnContext(ctx, "failed to publish event", "pattern", pattern, "order_id", evt.OrderID, "error", err)
		}
	})
}

func (s *OrderService) sendReceipt(ctx context.Context, order *domain.Order) {
	if s.notifier == nil {
		return
	}

	user, err := s.users.FindByID(ctx, order.OwnerID)
	if err != nil {
		s.metrics.Receipt("failed")
		slog.ErrorContext(ctx, "receipt: user lookup failed", "order_id", order.ID, "error", err)
		return
	}
	if user == nil || user.Email == "" {
		s.metrics.Receipt("skipped")
		slog.WarnContext(ctx, "receipt: no email on file", "order_id", order.ID, "owner_id", order.OwnerID)
		return
	}

	body, err := s.receipts.Render(order, s.now())
	if err != nil {
		s.metrics.Receipt("failed")
		slog.ErrorContext(ctx, "receipt: render failed", "order_id", order.ID, "error", err)
		return
	}

	if err := s.notifier.Send(ctx, user.Email, receipt.Subject(order), body); err != nil {
		s.metrics.Receipt("failed")
		slog.ErrorContext(ctx, "receipt: delivery failed", "order_id", order.ID, "error", err)
		return
	}
	s.metrics.Receipt("sent")
}
