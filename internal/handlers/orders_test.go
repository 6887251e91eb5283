package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/services"
)

type stubOrderService struct {
	getFn        func(context.Context, services.GetOrderCommand) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	refundFn     func(context.Context, services.AdvanceRefundCommand) (services.Order, error)
	trackFn      func(context.Context, string) (services.TrackingView, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AdvanceRefund(ctx context.Context, cmd services.AdvanceRefundCommand) (services.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Track(ctx context.Context, orderID string) (services.TrackingView, error) {
	if s.trackFn != nil {
		return s.trackFn(ctx, orderID)
	}
	return services.TrackingView{}, errors.New("not implemented")
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func TestOrdersListScopesToOwner(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items: []services.Order{{
					ID:          "ord_1",
					OrderNumber: "TL-2026-000001",
					Status:      domain.OrderStatusPending,
					Currency:    "INR",
					CreatedAt:   time.Date(2026, time.June, 5, 9, 30, 0, 0, time.UTC),
				}},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(http.MethodGet, "/orders/?status=pending&pageSize=10&pageToken=tok123", nil, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OwnerID != "user-1" {
		t.Fatalf("owner filter = %q", captured.OwnerID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != "pending" {
		t.Fatalf("status filter = %v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("pagination = %+v", captured.Pagination)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["nextPageToken"] != "tok-next" {
		t.Fatalf("nextPageToken = %v", resp["nextPageToken"])
	}
}

func TestOrdersGetMapsNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, services.GetOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(http.MethodGet, "/orders/ord_missing", nil, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrdersCancelPassesReason(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			reason := cmd.Reason
			return domain.Order{
				ID:           cmd.OrderID,
				Status:       domain.OrderStatusCancelled,
				RefundStatus: domain.RefundStatusPending,
				CancelReason: &reason,
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(http.MethodPost, "/orders/ord_1/cancel", []byte(`{"reason":"wrong size"}`), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Reason != "wrong size" {
		t.Fatalf("captured = %+v", captured)
	}
	if !captured.ByOwner {
		t.Fatalf("expected owner-scoped cancel")
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["refundStatus"] != string(domain.RefundStatusPending) {
		t.Fatalf("refundStatus = %v", resp["refundStatus"])
	}
}

func TestOrdersCancelMapsNotCancellable(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotCancellable
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(http.MethodPost, "/orders/ord_1/cancel", []byte(`{"reason":"too late"}`), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestPublicTrackReturnsProjection(t *testing.T) {
	service := &stubOrderService{
		trackFn: func(_ context.Context, orderID string) (services.TrackingView, error) {
			return services.TrackingView{
				OrderID:        orderID,
				OrderNumber:    "TL-2026-000042",
				Status:         domain.OrderStatusShipped,
				Items:          []domain.TrackingItem{{Name: "Studio Tee", Quantity: 2, Size: "M"}},
				ShippingCity:   "Bengaluru",
				Country:        "IN",
				Total:          244400,
				TotalFormatted: "₹2,444.00",
				PlacedAt:       time.Date(2026, time.June, 5, 9, 30, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewPublicHandlers(service)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/public/track/ord_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["orderNumber"] != "TL-2026-000042" {
		t.Fatalf("orderNumber = %v", resp["orderNumber"])
	}
	if resp["totalFormatted"] == "" {
		t.Fatalf("expected formatted total")
	}
	if _, leaked := resp["shippingAddress"]; leaked {
		t.Fatalf("tracking response must not include the full address")
	}
	if _, leaked := resp["ownerId"]; leaked {
		t.Fatalf("tracking response must not include the owner")
	}
}

func TestPublicTrackRateLimits(t *testing.T) {
	service := &stubOrderService{
		trackFn: func(_ context.Context, orderID string) (services.TrackingView, error) {
			return services.TrackingView{OrderID: orderID}, nil
		},
	}
	handler := NewPublicHandlers(service)
	handler.limiter = newSimpleRateLimiter(2, time.Minute, nil)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/public/track/ord_1", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/public/track/ord_1", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}
