package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/payments"
	"github.com/threadline/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the actor.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotCancellable indicates the order has progressed past the cancellable
	// window. It is a kind of invalid transition, so it wraps that sentinel.
	ErrOrderNotCancellable = fmt.Errorf("%w: not cancellable", ErrOrderInvalidTransition)
	// ErrOrderConflict indicates a concurrent modification clashed with this one.
	ErrOrderConflict = errors.New("order: conflict")
)

// Fulfilment moves strictly forward one step at a time. Cancellation is not a
// transition here; it has its own path with refund side effects.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// orderPaymentRefunder abstracts the payments.Manager refund surface.
type orderPaymentRefunder interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Payments orderPaymentRefunder
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	payments orderPaymentRefunder
	events   OrderEventPublisher
	reason   *bluemonday.Policy
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		payments: deps.Payments,
		events:   deps.Events,
		reason:   bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Foreign orders read as missing so IDs cannot be probed.
	if !cmd.Admin && order.OwnerID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus moves an order one step along the fulfilment path. Admin
// only; the router enforces the role, this enforces the machine.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	prevStatus := order.Status
	expectedUpdatedAt := order.UpdatedAt

	if err := s.applyStatusTransition(&order, target, now); err != nil {
		return Order{}, err
	}

	if err := s.orders.Update(ctx, repositories.OrderUpdateRequest{
		Order:             order,
		ExpectedUpdatedAt: expectedUpdatedAt,
	}); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        domain.OrderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		OwnerID:     order.OwnerID,
		Status:      order.Status,
		Amount:      order.Pricing.Total,
		OccurredAt:  now,
		Attributes: map[string]string{
			"previousStatus": string(prevStatus),
			"actor":          strings.TrimSpace(cmd.ActorID),
		},
	})

	return order, nil
}

// Cancel flips a pending or processing order to cancelled and refunds the
// wallet-paid portion in the same transaction. The card-paid portion is
// refunded through the PSP asynchronously; RefundStatus tracks it.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := s.sanitizeReason(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.ByOwner && order.OwnerID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status is %q", ErrOrderNotCancellable, order.Status)
	}

	now := s.now()
	prevStatus := order.Status

	order.Status = domain.OrderStatusCancelled
	order.RefundStatus = domain.RefundStatusPending
	order.CancelReason = &reason
	order.CancelledAt = &now
	order.UpdatedAt = now

	cancelled, err := s.orders.CancelWithWalletRefund(ctx, repositories.OrderCancelRequest{
		Order:        order,
		WalletRefund: order.Pricing.WalletApplied,
		Now:          now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.requestPaymentRefund(ctx, cancelled, reason)

	s.publishEvent(ctx, OrderEvent{
		Type:        domain.OrderEventCancelled,
		OrderID:     cancelled.ID,
		OrderNumber: cancelled.OrderNumber,
		OwnerID:     cancelled.OwnerID,
		Status:      cancelled.Status,
		Amount:      cancelled.Pricing.Total,
		OccurredAt:  now,
		Attributes: map[string]string{
			"previousStatus": string(prevStatus),
			"reason":         reason,
		},
	})

	return cancelled, nil
}

// AdvanceRefund records the terminal outcome of the card refund started by Cancel.
func (s *orderService) AdvanceRefund(ctx context.Context, cmd AdvanceRefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	outcome := cmd.Outcome
	if outcome != domain.RefundStatusCompleted && outcome != domain.RefundStatusFailed {
		return Order{}, fmt.Errorf("%w: refund outcome must be completed or failed", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.RefundStatus != domain.RefundStatusPending {
		return Order{}, fmt.Errorf("%w: refund status is %q", ErrOrderInvalidTransition, order.RefundStatus)
	}

	now := s.now()
	expectedUpdatedAt := order.UpdatedAt
	order.RefundStatus = outcome
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, repositories.OrderUpdateRequest{
		Order:             order,
		ExpectedUpdatedAt: expectedUpdatedAt,
	}); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	eventType := domain.OrderEventRefundCompleted
	if outcome == domain.RefundStatusFailed {
		eventType = domain.OrderEventRefundFailed
	}
	s.publishEvent(ctx, OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		OwnerID:     order.OwnerID,
		Status:      order.Status,
		Amount:      order.Pricing.Total,
		OccurredAt:  now,
		Attributes: map[string]string{
			"actor": strings.TrimSpace(cmd.ActorID),
		},
	})

	return order, nil
}

// Track is the public projection: no owner, no payment reference, no amounts
// beyond the headline total.
func (s *orderService) Track(ctx context.Context, orderID string) (TrackingView, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return TrackingView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return TrackingView{}, s.mapRepositoryError(err)
	}

	items := make([]TrackingItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, TrackingItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Size:     item.Size,
		})
	}

	money := newMoneyFormatter(order.Currency, language.English)

	return TrackingView{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		Items:          items,
		ShippingCity:   order.ShippingAddress.City,
		ShippingState:  order.ShippingAddress.State,
		Country:        order.ShippingAddress.Country,
		Total:          order.Pricing.Total,
		TotalFormatted: money.Format(order.Pricing.Total),
		PlacedAt:       order.CreatedAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
	}, nil
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		return fmt.Errorf("%w: order already %s", ErrOrderInvalidTransition, target)
	}
	if !slices.Contains(orderStateTransitions[current], target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	}
	return nil
}

// requestPaymentRefund kicks off the PSP refund for the card-paid portion.
// Best effort: the refund webhook settles RefundStatus either way, so a
// failed request here is logged and retried out of band.
func (s *orderService) requestPaymentRefund(ctx context.Context, order Order, reason string) {
	if s.payments == nil || order.PaymentRef == nil || order.Pricing.Total <= 0 {
		return
	}
	amount := order.Pricing.Total
	_, err := s.payments.Refund(ctx, payments.PaymentContext{Currency: order.Currency}, payments.RefundRequest{
		IntentID:       *order.PaymentRef,
		Amount:         &amount,
		Reason:         "requested_by_customer",
		IdempotencyKey: order.ID + ":refund",
		Metadata: map[string]string{
			"order_id": order.ID,
			"reason":   reason,
		},
	})
	if err != nil {
		s.logger(ctx, "order.refund.request.failed", map[string]any{
			"order":         order.ID,
			"paymentIntent": *order.PaymentRef,
			"error":         err.Error(),
		})
	}
}

func (s *orderService) sanitizeReason(reason string) string {
	return strings.TrimSpace(s.reason.Sanitize(reason))
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}
