package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/enum"
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OrderAPI defines the order API calls an edit session needs.
// Satisfied by *orderapi.Client; narrow interface for testability.
type OrderAPI interface {
	ListOrderItems(ctx context.Context, orderID int64) ([]orderapi.LineItem, error)
	AddOrderItem(ctx context.Context, req orderapi.AddItemRequest) error
	UpdateOrderItem(ctx context.Context, itemID int64, req orderapi.UpdateItemRequest) error
	RemoveOrderItem(ctx context.Context, itemID int64) error
	UpdateOrderStatus(ctx context.Context, orderID int64, req orderapi.StatusUpdate) error
	SendOrderEmail(ctx context.Context, kind string, payload orderapi.EmailPayload) error
}

// Toast levels.
const (
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Toast is a transient message for the user editing the order.
type Toast struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Feedback delivers toasts to whoever is looking at the session.
type Feedback interface {
	Notify(t Toast)
}

type discardFeedback struct{}

func (discardFeedback) Notify(Toast) {}

// State is a point-in-time copy of a session.
type State struct {
	Order        *orderapi.Order     `json:"order"`
	Items        []orderapi.LineItem `json:"items"`
	Totals       Totals              `json:"totals"`
	Loading      bool                `json:"loading"`
	Busy         bool                `json:"busy"`
	SendingEmail bool                `json:"sending_email"`
}

// OrderSession owns one open order and its line items. Every write is
// followed by a reload of the authoritative item list; totals are always
// recomputed from that list. Only one mutation runs at a time.
type OrderSession struct {
	id       uuid.UUID
	api      OrderAPI
	feedback Feedback
	store    orderapi.StoreInfo
	log      logrus.FieldLogger

	mu       sync.Mutex
	order    *orderapi.Order
	items    []orderapi.LineItem
	totals   Totals
	loading  bool
	busy     bool
	emailing bool
	lastUsed time.Time

	// gen changes whenever the session is cleared or another order is
	// selected; results carrying an older gen are dropped.
	gen   uint64
	life  context.Context
	abort context.CancelFunc
}

// SessionOption configures an OrderSession.
type SessionOption func(*OrderSession)

func WithSessionID(id uuid.UUID) SessionOption { return func(s *OrderSession) { s.id = id } }

func WithFeedback(f Feedback) SessionOption { return func(s *OrderSession) { s.feedback = f } }

func WithStoreInfo(info orderapi.StoreInfo) SessionOption {
	return func(s *OrderSession) { s.store = info }
}

func WithSessionLogger(l logrus.FieldLogger) SessionOption {
	return func(s *OrderSession) { s.log = l }
}

// NewOrderSession creates an empty session.
func NewOrderSession(api OrderAPI, opts ...SessionOption) *OrderSession {
	s := &OrderSession{
		id:       uuid.New(),
		api:      api,
		feedback: discardFeedback{},
		log:      logrus.StandardLogger(),
		lastUsed: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "order_session", "session_id": s.id})
	s.life, s.abort = context.WithCancel(context.Background())
	return s
}

func (s *OrderSession) ID() uuid.UUID { return s.id }

func (s *OrderSession) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Snapshot returns a copy of the current state.
func (s *OrderSession) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Items:        slices.Clone(s.items),
		Totals:       s.totals,
		Loading:      s.loading,
		Busy:         s.busy,
		SendingEmail: s.emailing,
	}
	if st.Items == nil {
		st.Items = []orderapi.LineItem{}
	}
	if s.order != nil {
		o := *s.order
		st.Order = &o
	}
	return st
}

// --- Lifecycle ---

// SelectOrder shows the order header right away with no items, then loads the
// items from the API. If loading fails the session is cleared.
func (s *OrderSession) SelectOrder(ctx context.Context, order orderapi.Order) error {
	if order.ID <= 0 {
		return s.fail(nil, "select order", ErrNoOrder)
	}

	s.mu.Lock()
	s.resetLocked()
	o := order
	s.order = &o
	s.loading = true
	s.totals = ComputeTotals(nil, o.ShippingCost)
	s.lastUsed = time.Now()
	gen := s.gen
	opCtx, cancel := bind(ctx, s.life)
	s.mu.Unlock()
	defer cancel()

	items, err := s.api.ListOrderItems(opCtx, order.ID)
	if err != nil {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return fmt.Errorf("select order %d: %w", order.ID, ErrSessionClosed)
		}
		s.resetLocked()
		s.mu.Unlock()
		return s.fail(nil, fmt.Sprintf("select order %d", order.ID), err)
	}

	err = s.apply(gen, func() {
		s.items = items
		s.loading = false
		s.recomputeLocked()
	})
	if err != nil {
		return fmt.Errorf("select order %d: %w", order.ID, err)
	}
	s.log.WithFields(logrus.Fields{"order_id": order.ID, "items": len(items)}).Debug("order selected")
	return nil
}

// Close discards the order and aborts any request still in flight.
func (s *OrderSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// resetLocked must be called with s.mu held.
func (s *OrderSession) resetLocked() {
	if s.abort != nil {
		s.abort()
	}
	s.life, s.abort = context.WithCancel(context.Background())
	s.gen++
	s.order = nil
	s.items = nil
	s.totals = Totals{}
	s.loading = false
	s.busy = false
	s.emailing = false
}

// --- Line items ---

// AddItem adds qty units of product. The local list is replaced by a fresh
// read from the API once the write succeeds.
func (s *OrderSession) AddItem(ctx context.Context, product orderapi.Product, qty int) error {
	const action = "add item"
	o, err := s.begin(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	if err := validateNewItem(o, product, qty); err != nil {
		return s.fail(o, action, err)
	}

	req := orderapi.AddItemRequest{
		OrderID:     o.order.ID,
		ProductCode: strings.TrimSpace(product.Code),
		Name:        product.Name,
		Quantity:    qty,
		Price:       product.Price,
		Subtotal:    product.Price.Mul(decimal.NewFromInt(int64(qty))),
	}
	if err := s.api.AddOrderItem(o.ctx, req); err != nil {
		return s.fail(o, action, err)
	}
	if err := s.reload(o); err != nil {
		return s.fail(o, action, err)
	}

	s.succeed(fmt.Sprintf("%s added to order #%d", product.Name, o.order.ID))
	return nil
}

// UpdateItem changes name, quantity and price of an existing line item.
func (s *OrderSession) UpdateItem(ctx context.Context, item orderapi.LineItem) error {
	const action = "update item"
	o, err := s.begin(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	current, err := o.findItem(item.ID)
	if err != nil {
		return s.fail(o, action, err)
	}
	if err := validateItemEdit(o, item); err != nil {
		return s.fail(o, action, err)
	}

	name := item.Name
	if name == "" {
		name = current.Name
	}
	req := orderapi.UpdateItemRequest{Name: name, Quantity: item.Quantity, Price: item.Price}
	if err := s.api.UpdateOrderItem(o.ctx, item.ID, req); err != nil {
		return s.fail(o, action, err)
	}
	if err := s.reload(o); err != nil {
		return s.fail(o, action, err)
	}

	s.succeed(fmt.Sprintf("%s updated", name))
	return nil
}

// RemoveItem deletes a line item from the order.
func (s *OrderSession) RemoveItem(ctx context.Context, itemID int64) error {
	const action = "remove item"
	o, err := s.begin(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	current, err := o.findItem(itemID)
	if err != nil {
		return s.fail(o, action, err)
	}
	if !enum.IsModifiableStatus(o.order.Status) {
		return s.fail(o, action, ErrStatusNotEditable)
	}

	if err := s.api.RemoveOrderItem(o.ctx, itemID); err != nil {
		return s.fail(o, action, err)
	}
	if err := s.reload(o); err != nil {
		return s.fail(o, action, err)
	}

	s.succeed(fmt.Sprintf("%s removed", current.Name))
	return nil
}

// --- Status ---

// Confirm moves the order to confirmed. Requires at least one line item.
func (s *OrderSession) Confirm(ctx context.Context) error {
	const action = "confirm order"
	o, err := s.begin(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	if !enum.IsModifiableStatus(o.order.Status) {
		return s.fail(o, action, fmt.Errorf("%w: order is %s", ErrStatusNotEditable, o.order.Status))
	}
	if len(o.items) == 0 {
		return s.fail(o, action, ErrEmptyOrder)
	}
	if err := validateStatusTransition(o.order.Status, enum.OrderStatusConfirmed); err != nil {
		return s.fail(o, action, err)
	}

	return s.setStatus(o, action, orderapi.StatusUpdate{Status: enum.OrderStatusConfirmed},
		fmt.Sprintf("Order #%d confirmed", o.order.ID))
}

// Send marks a confirmed order as dispatched (delivery) or ready (pickup).
// Delivery orders need a window with Start before End; pickup orders ignore it.
func (s *OrderSession) Send(ctx context.Context, window *DeliveryWindow) error {
	const action = "send order"
	o, err := s.begin(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	if err := validateStatusTransition(o.order.Status, enum.OrderStatusDelivered); err != nil {
		return s.fail(o, action, err)
	}
	start, end, err := checkWindow(&o.order, window)
	if err != nil {
		return s.fail(o, action, err)
	}

	msg := fmt.Sprintf("Order #%d sent", o.order.ID)
	if o.order.IsPickup() {
		msg = fmt.Sprintf("Order #%d ready for pickup", o.order.ID)
	}
	return s.setStatus(o, action, orderapi.StatusUpdate{
		Status:      enum.OrderStatusDelivered,
		WindowStart: start,
		WindowEnd:   end,
	}, msg)
}

// Cancel cancels the order unless it is already delivered or cancelled.
func (s *OrderSession) Cancel(ctx context.Context) error {
	const action = "cancel order"
	o, err := s.begin(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	if enum.IsTerminalStatus(o.order.Status) {
		return s.fail(o, action, fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.order.Status))
	}

	return s.setStatus(o, action, orderapi.StatusUpdate{Status: enum.OrderStatusCancelled},
		fmt.Sprintf("Order #%d cancelled", o.order.ID))
}

// setStatus only touches the status field: items did not change, so no reload.
func (s *OrderSession) setStatus(o *op, action string, req orderapi.StatusUpdate, msg string) error {
	if err := s.api.UpdateOrderStatus(o.ctx, o.order.ID, req); err != nil {
		return s.fail(o, action, err)
	}
	if err := s.apply(o.gen, func() { s.order.Status = req.Status }); err != nil {
		return s.fail(o, action, err)
	}
	s.log.WithFields(logrus.Fields{"order_id": o.order.ID, "status": req.Status}).Info("order status changed")
	s.succeed(msg)
	return nil
}

// --- Emails ---

// SendConfirmationEmail mails the customer the confirmed order. It does not
// change order state, so failure leaves everything as it was.
func (s *OrderSession) SendConfirmationEmail(ctx context.Context) error {
	const action = "send confirmation email"
	o, err := s.beginEmail(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	payload, err := s.emailPayload(o)
	if err != nil {
		return s.fail(o, action, err)
	}
	if err := s.api.SendOrderEmail(o.ctx, enum.EmailOrderConfirmed, payload); err != nil {
		return s.fail(o, action, err)
	}

	s.succeed(fmt.Sprintf("Confirmation email sent to %s", o.order.Email))
	return nil
}

// SendInTransitEmail mails the dispatch notice, or the ready-for-pickup
// notice for pickup orders.
func (s *OrderSession) SendInTransitEmail(ctx context.Context, window *DeliveryWindow) error {
	const action = "send dispatch email"
	o, err := s.beginEmail(ctx)
	if err != nil {
		return s.fail(nil, action, err)
	}
	defer o.done()

	payload, err := s.emailPayload(o)
	if err != nil {
		return s.fail(o, action, err)
	}
	start, end, err := checkWindow(&o.order, window)
	if err != nil {
		return s.fail(o, action, err)
	}
	payload.WindowStart, payload.WindowEnd = start, end

	kind := enum.EmailOrderInTransit
	if o.order.IsPickup() {
		kind = enum.EmailOrderPickup
	}
	if err := s.api.SendOrderEmail(o.ctx, kind, payload); err != nil {
		return s.fail(o, action, err)
	}

	s.succeed(fmt.Sprintf("Email sent to %s", o.order.Email))
	return nil
}

func (s *OrderSession) emailPayload(o *op) (orderapi.EmailPayload, error) {
	if len(o.items) == 0 {
		return orderapi.EmailPayload{}, ErrEmptyOrder
	}
	if strings.TrimSpace(o.order.Email) == "" {
		return orderapi.EmailPayload{}, ErrMissingEmail
	}
	totals := ComputeTotals(o.items, o.order.ShippingCost)
	return orderapi.EmailPayload{
		Order:        o.order,
		Items:        o.items,
		Subtotal:     totals.Subtotal,
		ShippingCost: totals.ShippingCost,
		Total:        totals.Total,
		Store:        s.store,
	}, nil
}

// --- Operation plumbing ---

// op is one claimed operation: a copy of the state it validates against and
// a context that dies with the session.
type op struct {
	ctx   context.Context
	gen   uint64
	order orderapi.Order
	items []orderapi.LineItem
	done  func()
}

func (o *op) findItem(id int64) (orderapi.LineItem, error) {
	for _, it := range o.items {
		if it.ID == id {
			return it, nil
		}
	}
	return orderapi.LineItem{}, fmt.Errorf("%w: id %d", ErrItemNotFound, id)
}

// begin claims the single mutation slot.
func (s *OrderSession) begin(ctx context.Context) (*op, error) {
	return s.claim(ctx, func() *bool { return &s.busy })
}

// beginEmail claims the email slot; emails may run alongside a mutation.
func (s *OrderSession) beginEmail(ctx context.Context) (*op, error) {
	return s.claim(ctx, func() *bool { return &s.emailing })
}

func (s *OrderSession) claim(ctx context.Context, slot func() *bool) (*op, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order == nil {
		return nil, ErrNoOrder
	}
	flag := slot()
	if *flag || s.loading {
		return nil, ErrBusy
	}
	*flag = true
	s.lastUsed = time.Now()

	gen := s.gen
	opCtx, cancel := bind(ctx, s.life)
	return &op{
		ctx:   opCtx,
		gen:   gen,
		order: *s.order,
		items: slices.Clone(s.items),
		done: func() {
			cancel()
			s.mu.Lock()
			if s.gen == gen {
				*slot() = false
			}
			s.mu.Unlock()
		},
	}, nil
}

// bind derives a context cancelled by either the caller or the session.
func bind(parent, life context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// apply runs fn under the lock unless the session moved on since gen.
func (s *OrderSession) apply(gen uint64, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.order == nil {
		return ErrSessionClosed
	}
	fn()
	return nil
}

func (s *OrderSession) reload(o *op) error {
	items, err := s.api.ListOrderItems(o.ctx, o.order.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}
	return s.apply(o.gen, func() {
		s.items = items
		s.recomputeLocked()
	})
}

// recomputeLocked must be called with s.mu held.
func (s *OrderSession) recomputeLocked() {
	s.totals = ComputeTotals(s.items, s.order.ShippingCost)
	s.order.ItemCount = s.totals.ItemCount
	s.order.Total = s.totals.Total
}

func (s *OrderSession) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// fail logs err, toasts it, and returns it wrapped with the action name.
// Results of a superseded session are dropped without a toast.
func (s *OrderSession) fail(o *op, action string, err error) error {
	if o != nil && s.superseded(o.gen) {
		return fmt.Errorf("%s: %w", action, ErrSessionClosed)
	}
	if isCancelled(err) && o == nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	entry := s.log.WithField("action", action).WithError(err)
	level := ToastError
	switch {
	case IsValidationError(err), errors.Is(err, ErrBusy):
		entry.Debug("order operation rejected")
	case errors.Is(err, ErrReloadFailed):
		level = ToastWarning
		entry.Warn("order operation saved but reload failed")
	default:
		entry.Warn("order operation failed")
	}

	s.feedback.Notify(Toast{Level: level, Message: UserMessage(err)})
	return fmt.Errorf("%s: %w", action, err)
}

func (s *OrderSession) succeed(msg string) {
	s.feedback.Notify(Toast{Level: ToastSuccess, Message: msg})
}

// --- Validation ---

func validateNewItem(o *op, product orderapi.Product, qty int) error {
	if !enum.IsModifiableStatus(o.order.Status) {
		return fmt.Errorf("%w: order is %s", ErrStatusNotEditable, o.order.Status)
	}
	if qty < 1 {
		return ErrInvalidQuantity
	}
	code := strings.TrimSpace(product.Code)
	if code == "" {
		return ErrInvalidProductCode
	}
	if product.Price.IsNegative() {
		return ErrInvalidPrice
	}
	for _, it := range o.items {
		if it.ProductCode == code {
			return fmt.Errorf("%w: %s", ErrDuplicateProduct, code)
		}
	}
	if qty > product.Stock {
		return fmt.Errorf("%w: %d requested, %d available", ErrInsufficientStock, qty, product.Stock)
	}
	return nil
}

func validateItemEdit(o *op, item orderapi.LineItem) error {
	if !enum.IsModifiableStatus(o.order.Status) {
		return fmt.Errorf("%w: order is %s", ErrStatusNotEditable, o.order.Status)
	}
	if item.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if item.Price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}
