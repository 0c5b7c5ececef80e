package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-service/database"
	"storefront-service/models"
	"storefront-service/stock"
)

var (
	// ErrSubmissionFailed means no seller group produced an order.
	ErrSubmissionFailed = errors.New("order submission failed")
	// ErrStockNotDecremented marks an order that was created but whose stock
	// could not be taken. The order stands; reconciliation fixes the stock.
	ErrStockNotDecremented = errors.New("stock decrement failed")
)

const (
	OutcomeCreated     = "created"
	OutcomeStockFailed = "stock_failed"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
)

const maxOrderIDAttempts = 3

// OrderCreator persists one order and returns the reference for lookups.
type OrderCreator interface {
	CreateOrder(ctx context.Context, o *models.Order) (string, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

const tracerName = "storefront.checkout"

type AssemblerOption func(*Assembler)

// WithPublisher announces created orders and schedules a stock reconcile
// after delay for orders whose decrement failed.
func WithPublisher(p EventPublisher, reconcileDelay time.Duration) AssemblerOption {
	return func(a *Assembler) {
		a.publisher = p
		a.reconcileDelay = reconcileDelay
	}
}

// WithParallelism caps how many seller groups are submitted at once.
func WithParallelism(n int) AssemblerOption {
	return func(a *Assembler) { a.limit = n }
}

// WithGroupObserver is told the outcome of every seller group.
func WithGroupObserver(fn func(outcome string)) AssemblerOption {
	return func(a *Assembler) { a.observe = fn }
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) AssemblerOption {
	return func(a *Assembler) { a.tracer = tp.Tracer(tracerName) }
}

func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// Assembler turns a validated cart into one order per seller.
type Assembler struct {
	orders         OrderCreator
	stock          stock.Adjuster
	publisher      EventPublisher
	reconcileDelay time.Duration
	limit          int
	observe        func(string)
	now            func() time.Time
	logger         *zap.Logger
	tracer         trace.Tracer
}

func NewAssembler(orders OrderCreator, adjuster stock.Adjuster, logger *zap.Logger, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		orders:  orders,
		stock:   adjuster,
		observe: func(string) {},
		now:     time.Now,
		logger:  logger.Named("assembler"),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type GroupResult struct {
	SellerID string
	Order    *models.Order
	OrderRef string
	// StockErr is set when the order exists but its stock was not taken.
	StockErr error
	// Err is set when no order was created for the group.
	Err error
}

type Result struct {
	Groups []GroupResult
}

// Orders returns the orders that were created, in seller order.
func (r *Result) Orders() []models.Order {
	var out []models.Order
	for _, g := range r.Groups {
		if g.Order != nil {
			out = append(out, *g.Order)
		}
	}
	return out
}

func (r *Result) OrderIDs() []string {
	var ids []string
	for _, g := range r.Groups {
		if g.Order != nil {
			ids = append(ids, g.Order.OrderID)
		}
	}
	return ids
}

// Partial reports whether any group failed or left stock untouched.
func (r *Result) Partial() bool {
	for _, g := range r.Groups {
		if g.Err != nil || g.StockErr != nil {
			return true
		}
	}
	return false
}

// Place submits every seller group concurrently. Within a group the order
// is created before its stock is decremented. It fails with
// ErrSubmissionFailed only when no group produced an order; the Result is
// returned either way.
func (a *Assembler) Place(ctx context.Context, customer *Customer, items []models.CartItem) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "checkout.place",
		trace.WithAttributes(
			attribute.String("customer.id", customer.ID),
			attribute.Int("cart.items", len(items)),
		),
	)
	defer span.End()

	groups := groupBySeller(items)
	result := &Result{Groups: make([]GroupResult, len(groups))}

	var g errgroup.Group
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for i, grp := range groups {
		g.Go(func() error {
			result.Groups[i] = a.placeGroup(ctx, customer, grp)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	created := 0
	for _, gr := range result.Groups {
		if gr.Order != nil {
			created++
		} else if gr.Err != nil {
			errs = append(errs, gr.Err)
		}
	}
	span.SetAttributes(attribute.Int("orders.created", created))
	if created == 0 {
		err := ErrSubmissionFailed
		if len(errs) > 0 {
			err = fmt.Errorf("%w: %w", ErrSubmissionFailed, errors.Join(errs...))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no order created")
		return result, err
	}
	return result, nil
}

func (a *Assembler) placeGroup(ctx context.Context, customer *Customer, grp sellerGroup) GroupResult {
	ctx, span := a.tracer.Start(ctx, "checkout.seller_group",
		trace.WithAttributes(
			attribute.String("seller.id", grp.SellerID),
			attribute.Int("group.items", len(grp.Items)),
		),
	)
	defer span.End()

	res := GroupResult{SellerID: grp.SellerID}
	logger := a.logger.With(zap.String("seller_id", grp.SellerID), zap.String("customer_id", customer.ID))

	// a cancelled checkout must not reach the order store
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("seller %s: %w", grp.SellerID, err)
		a.observe(OutcomeSkipped)
		return res
	}

	var (
		order *models.Order
		ref   string
		err   error
	)
	for attempt := 0; attempt < maxOrderIDAttempts; attempt++ {
		order = a.buildOrder(customer, grp)
		ref, err = a.orders.CreateOrder(ctx, order)
		if !errors.Is(err, database.ErrDuplicateOrder) {
			break
		}
		logger.Info("order id collision, retrying", zap.String("order_id", order.OrderID))
	}
	if err != nil {
		logger.Error("failed to create order", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		res.Err = fmt.Errorf("create order for seller %s: %w", grp.SellerID, err)
		a.observe(OutcomeFailed)
		return res
	}
	res.Order = order
	res.OrderRef = ref
	span.SetAttributes(attribute.String("order.id", order.OrderID))

	// The order exists now; a late cancellation must not stop its stock from
	// being taken.
	ctx = context.WithoutCancel(ctx)
	a.publish(ctx, order, models.EventCreated, 0)

	ok, err := a.stock.DecrementStock(ctx, order.StockLines(), order.OrderID)
	if err == nil && !ok {
		err = ErrStockNotDecremented
	}
	if err != nil {
		logger.Warn("stock decrement failed; order kept",
			zap.String("order_id", order.OrderID), zap.Error(err))
		res.StockErr = err
		a.publish(ctx, order, models.EventStockReconcile, a.reconcileDelay)
		a.observe(OutcomeStockFailed)
		return res
	}
	a.observe(OutcomeCreated)
	return res
}

func (a *Assembler) buildOrder(customer *Customer, grp sellerGroup) *models.Order {
	now := a.now().UTC()
	seller := grp.Items[0].Product

	items := make([]models.OrderItem, 0, len(grp.Items))
	total := decimal.Zero
	for _, it := range grp.Items {
		oi := models.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.Product.Name,
			Price:       it.Product.Price,
			Quantity:    it.Quantity,
			Unit:        it.Product.Unit,
		}
		items = append(items, oi)
		total = total.Add(oi.Subtotal())
	}

	o := &models.Order{
		OrderID:         NewOrderID(customer.Pincode, now),
		CustomerID:      customer.ID,
		SellerID:        grp.SellerID,
		SellerName:      seller.SellerName,
		SellerAddress:   seller.SellerAddress,
		SellerPincode:   seller.SellerPincode,
		CustomerName:    customer.Name,
		CustomerPhone:   customer.Phone,
		CustomerAddress: customer.Address,
		CustomerPincode: customer.Pincode,
		Items:           items,
		TotalAmount:     total,
		Status:          models.OrderStatusReceived,
		PaymentMethod:   models.PaymentCashOnDelivery,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	qr, err := QRCode(o.OrderID)
	if err != nil {
		a.logger.Warn("order saved without qr code", zap.String("order_id", o.OrderID), zap.Error(err))
	}
	o.QRCode = qr
	return o
}

func (a *Assembler) publish(ctx context.Context, o *models.Order, eventType string, delay time.Duration) {
	if a.publisher == nil {
		return
	}
	event := models.NewOrderEvent(o, eventType)
	var err error
	if delay > 0 {
		err = a.publisher.PublishDelayedEvent(ctx, event, delay)
	} else {
		err = a.publisher.PublishOrderEvent(ctx, event)
	}
	if err != nil {
		a.logger.Warn("failed to publish order event",
			zap.String("order_id", o.OrderID), zap.String("type", eventType), zap.Error(err))
	}
}
