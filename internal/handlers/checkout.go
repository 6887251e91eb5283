package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/platform/auth"
	"github.com/threadline/api/internal/platform/httpx"
	"github.com/threadline/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes quote and order placement endpoints for
// authenticated customers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/quote", h.quote)
	group.Post("/", h.placeOrder)
}

type cartLinePayload struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

type quoteRequest struct {
	Items      []cartLinePayload `json:"items"`
	CouponCode *string           `json:"couponCode,omitempty"`
	UseWallet  bool              `json:"useWallet"`
}

type placeOrderRequest struct {
	quoteRequest
	ShippingAddress addressPayload `json:"shippingAddress"`
	PaymentMethodID string         `json:"paymentMethodId,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type priceBreakdownResponse struct {
	Subtotal      int64  `json:"subtotal"`
	Discount      int64  `json:"discount"`
	Shipping      int64  `json:"shipping"`
	Tax           int64  `json:"tax"`
	RawTotal      int64  `json:"rawTotal"`
	WalletApplied int64  `json:"walletApplied"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req quoteRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	breakdown, err := h.checkout.Quote(ctx, services.QuoteCommand{
		OwnerID:    identity.UID,
		Lines:      cartLinesFromPayload(req.Items),
		CouponCode: req.CouponCode,
		UseWallet:  req.UseWallet,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, breakdownPayload(breakdown))
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		OwnerID:         identity.UID,
		Lines:           cartLinesFromPayload(req.Items),
		ShippingAddress: addressFromPayload(req.ShippingAddress),
		CouponCode:      req.CouponCode,
		UseWallet:       req.UseWallet,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethodID),
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderPayload(order))
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func cartLinesFromPayload(items []cartLinePayload) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.CartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Size:      strings.TrimSpace(item.Size),
		})
	}
	return lines
}

func addressFromPayload(addr addressPayload) domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      addr.Phone,
	}
}

func breakdownPayload(b domain.PriceBreakdown) priceBreakdownResponse {
	return priceBreakdownResponse{
		Subtotal:      b.Subtotal,
		Discount:      b.Discount,
		Shipping:      b.Shipping,
		Tax:           b.Tax,
		RawTotal:      b.RawTotal(),
		WalletApplied: b.WalletApplied,
		Total:         b.Total,
		Currency:      b.Currency,
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon code not found", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_applicable", "coupon does not apply to any cart item", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "a cart item is no longer available", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutPriceChanged):
		httpx.WriteError(ctx, w, httpx.NewError("price_changed", "a cart item price has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "checkout state has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_declined", "payment authorization was declined", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
