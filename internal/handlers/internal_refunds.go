package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/services"
)

const maxInternalRequestBody = 8 * 1024

// InternalHandlers serves service-to-service endpoints. The /internal group is
// protected by HMAC request signing configured at router construction; these
// handlers trust the caller once the signature has been verified.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs handlers for the internal surface.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers internal endpoints under the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/refunds/{orderID}", h.settleRefund)
}

type settleRefundRequest struct {
	Outcome string `json:"outcome"`
	Source  string `json:"source,omitempty"`
}

type settleRefundResponse struct {
	OrderID      string `json:"orderId"`
	RefundStatus string `json:"refundStatus"`
}

// settleRefund records the terminal outcome of a card refund, reported by the
// payment webhook relay once the PSP settles it.
func (h *InternalHandlers) settleRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req settleRefundRequest
	if !decodeJSONBody(w, r, maxInternalRequestBody, &req) {
		return
	}

	actor := strings.TrimSpace(req.Source)
	if actor == "" {
		actor = "payments-relay"
	}

	order, err := h.orders.AdvanceRefund(ctx, services.AdvanceRefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Outcome: domain.RefundStatus(strings.TrimSpace(req.Outcome)),
		ActorID: actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, settleRefundResponse{
		OrderID:      order.ID,
		RefundStatus: string(order.RefundStatus),
	})
}
