package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadline/api/internal/platform/httpx"
	"github.com/threadline/api/internal/services"
)

const (
	trackRateLimit  = 30
	trackRateWindow = time.Minute
)

// PublicHandlers serves unauthenticated endpoints. Tracking lookups are rate
// limited per client IP since the order ID is the only credential.
type PublicHandlers struct {
	orders  services.OrderService
	limiter rateLimiter
}

// PublicOption customises the public handlers.
type PublicOption func(*PublicHandlers)

// WithTrackingRateLimit overrides the per-IP tracking request budget per minute.
func WithTrackingRateLimit(perMinute int) PublicOption {
	return func(h *PublicHandlers) {
		if perMinute > 0 {
			h.limiter = newSimpleRateLimiter(perMinute, trackRateWindow, nil)
		}
	}
}

// NewPublicHandlers constructs the public handlers with a per-IP rate limiter.
func NewPublicHandlers(orders services.OrderService, opts ...PublicOption) *PublicHandlers {
	h := &PublicHandlers{
		orders:  orders,
		limiter: newSimpleRateLimiter(trackRateLimit, trackRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers public endpoints under the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/track/{orderID}", h.track)
}

type trackingItemResponse struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Size     string `json:"size,omitempty"`
}

type trackingResponse struct {
	OrderID        string                 `json:"orderId"`
	OrderNumber    string                 `json:"orderNumber"`
	Status         string                 `json:"status"`
	Items          []trackingItemResponse `json:"items"`
	ShippingCity   string                 `json:"shippingCity,omitempty"`
	ShippingState  string                 `json:"shippingState,omitempty"`
	Country        string                 `json:"country,omitempty"`
	Total          int64                  `json:"total"`
	TotalFormatted string                 `json:"totalFormatted"`
	PlacedAt       string                 `json:"placedAt"`
	ShippedAt      string                 `json:"shippedAt,omitempty"`
	DeliveredAt    string                 `json:"deliveredAt,omitempty"`
}

func (h *PublicHandlers) track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many tracking requests", http.StatusTooManyRequests))
		return
	}

	view, err := h.orders.Track(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]trackingItemResponse, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, trackingItemResponse{
			Name:     item.Name,
			Quantity: item.Quantity,
			Size:     item.Size,
		})
	}

	resp := trackingResponse{
		OrderID:        view.OrderID,
		OrderNumber:    view.OrderNumber,
		Status:         string(view.Status),
		Items:          items,
		ShippingCity:   view.ShippingCity,
		Country:        view.Country,
		Total:          view.Total,
		TotalFormatted: view.TotalFormatted,
		PlacedAt:       formatTime(view.PlacedAt),
		ShippedAt:      formatTimePtr(view.ShippedAt),
		DeliveredAt:    formatTimePtr(view.DeliveredAt),
	}
	if view.ShippingState != nil {
		resp.ShippingState = *view.ShippingState
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
