package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/platform/auth"
	"github.com/threadline/api/internal/platform/httpx"
	"github.com/threadline/api/internal/repositories"
	"github.com/threadline/api/internal/services"
)

const maxAdminRequestBody = 16 * 1024

// AdminHandlers groups staff-only operations: coupon management, fulfilment
// transitions, refund advancement, gift card issuance, wallet adjustments, and
// the audit trail. Every mutation is recorded to the audit log; recording
// failures are not surfaced to the caller.
type AdminHandlers struct {
	authn     *auth.Authenticator
	coupons   services.CouponService
	orders    services.OrderService
	giftCards services.GiftCardService
	wallets   services.WalletService
	audit     services.AuditLogService
}

// AdminHandlersDeps bundles the services the admin surface operates on.
type AdminHandlersDeps struct {
	Authenticator *auth.Authenticator
	Coupons       services.CouponService
	Orders        services.OrderService
	GiftCards     services.GiftCardService
	Wallets       services.WalletService
	AuditLogs     services.AuditLogService
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:     deps.Authenticator,
		coupons:   deps.Coupons,
		orders:    deps.Orders,
		giftCards: deps.GiftCards,
		wallets:   deps.Wallets,
		audit:     deps.AuditLogs,
	}
}

// Routes registers admin endpoints under the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	group.Get("/coupons", h.listCoupons)
	group.Post("/coupons", h.createCoupon)
	group.Delete("/coupons/{code}", h.deleteCoupon)
	group.Get("/orders", h.listOrders)
	group.Post("/orders/{orderID}/status", h.transitionOrder)
	group.Post("/orders/{orderID}/cancel", h.cancelOrder)
	group.Post("/orders/{orderID}/refund", h.advanceRefund)
	group.Post("/gift-cards", h.issueGiftCard)
	group.Get("/gift-cards/{code}", h.getGiftCard)
	group.Post("/wallets/{ownerID}/credit", h.creditWallet)
	group.Get("/audit-logs", h.listAuditLogs)
}

type couponPayload struct {
	Code         string `json:"code"`
	DiscountType string `json:"discountType"`
	Value        int64  `json:"value"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    string `json:"expiresAt"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

type couponListResponse struct {
	Coupons       []couponPayload `json:"coupons"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, err := h.coupons.ListCoupons(ctx, services.CouponFilter{
		Scope:          strings.TrimSpace(query.Get("scope")),
		IncludeExpired: query.Get("includeExpired") == "true",
		Pagination:     parsePagination(r),
	})
	if err != nil {
		writeAdminCouponError(ctx, w, err)
		return
	}

	resp := couponListResponse{
		Coupons:       make([]couponPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, coupon := range page.Items {
		resp.Coupons = append(resp.Coupons, couponToPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req couponPayload
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	expiresAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ExpiresAt))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiresAt must be RFC 3339", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.CreateCoupon(ctx, services.CreateCouponCommand{
		Code:         req.Code,
		DiscountType: domain.DiscountType(strings.TrimSpace(req.DiscountType)),
		Value:        req.Value,
		Scope:        req.Scope,
		ExpiresAt:    expiresAt,
		ActorID:      identity.UID,
	})
	if err != nil {
		writeAdminCouponError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "coupon.create", "coupons/"+coupon.Code, map[string]any{
		"discountType": string(coupon.DiscountType),
		"value":        coupon.Value,
		"scope":        coupon.Scope,
	})
	writeJSONResponse(w, http.StatusCreated, couponToPayload(coupon))
}

func (h *AdminHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	code := chi.URLParam(r, "code")
	if err := h.coupons.DeleteCoupon(ctx, services.DeleteCouponCommand{
		Code:    code,
		ActorID: identity.UID,
	}); err != nil {
		writeAdminCouponError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "coupon.delete", "coupons/"+strings.ToUpper(strings.TrimSpace(code)), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := services.OrderListFilter{
		OwnerID:    strings.TrimSpace(query.Get("ownerId")),
		Sort:       domain.SortDesc,
		Pagination: parsePagination(r),
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		filter.Status = []string{status}
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Orders:        make([]orderResponse, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Orders = append(resp.Orders, orderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type transitionOrderRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID:      identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "order.transition", "orders/"+order.ID, map[string]any{
		"status": string(order.Status),
	})
	writeJSONResponse(w, http.StatusOK, orderPayload(order))
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "order.cancel", "orders/"+order.ID, map[string]any{
		"reason": req.Reason,
	})
	writeJSONResponse(w, http.StatusOK, orderPayload(order))
}

type advanceRefundRequest struct {
	Outcome string `json:"outcome"`
}

func (h *AdminHandlers) advanceRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req advanceRefundRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	order, err := h.orders.AdvanceRefund(ctx, services.AdvanceRefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Outcome: domain.RefundStatus(strings.TrimSpace(req.Outcome)),
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "order.refund.advance", "orders/"+order.ID, map[string]any{
		"refundStatus": string(order.RefundStatus),
	})
	writeJSONResponse(w, http.StatusOK, orderPayload(order))
}

type issueGiftCardRequest struct {
	FaceValue int64 `json:"faceValue"`
}

type giftCardResponse struct {
	Code       string `json:"code"`
	FaceValue  int64  `json:"faceValue"`
	Redeemed   bool   `json:"redeemed"`
	RedeemedBy string `json:"redeemedBy,omitempty"`
	RedeemedAt string `json:"redeemedAt,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func giftCardPayload(card services.GiftCard) giftCardResponse {
	payload := giftCardResponse{
		Code:      card.Code,
		FaceValue: card.FaceValue,
		Redeemed:  card.Redeemed,
		CreatedAt: formatTime(card.CreatedAt),
	}
	if card.RedeemedBy != nil {
		payload.RedeemedBy = *card.RedeemedBy
	}
	payload.RedeemedAt = formatTimePtr(card.RedeemedAt)
	return payload
}

func (h *AdminHandlers) issueGiftCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req issueGiftCardRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	card, err := h.giftCards.Issue(ctx, services.IssueGiftCardCommand{
		FaceValue: req.FaceValue,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeGiftCardError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "giftcard.issue", "gift-cards/"+card.Code, map[string]any{
		"faceValue": card.FaceValue,
	})
	writeJSONResponse(w, http.StatusCreated, giftCardPayload(card))
}

func (h *AdminHandlers) getGiftCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	card, err := h.giftCards.Get(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeGiftCardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, giftCardPayload(card))
}

type creditWalletRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) creditWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req creditWalletRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	ownerID := chi.URLParam(r, "ownerID")
	entry, err := h.wallets.Credit(ctx, services.WalletAdjustCommand{
		OwnerID: ownerID,
		Amount:  req.Amount,
		Reason:  req.Reason,
		ActorID: identity.UID,
	})
	if err != nil {
		writeWalletError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, identity, "wallet.credit", "wallets/"+ownerID, map[string]any{
		"amount": entry.Amount,
		"reason": entry.Reason,
	})
	writeJSONResponse(w, http.StatusCreated, walletEntryResponse{
		ID:        entry.ID,
		Type:      string(entry.Type),
		Amount:    entry.Amount,
		Reason:    entry.Reason,
		Balance:   entry.Balance,
		CreatedAt: formatTime(entry.CreatedAt),
	})
}

type auditLogEntryResponse struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actorType"`
	Action    string         `json:"action"`
	TargetRef string         `json:"targetRef,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

type auditLogListResponse struct {
	Entries       []auditLogEntryResponse `json:"entries"`
	NextPageToken string                  `json:"nextPageToken,omitempty"`
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, err := h.audit.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(query.Get("targetRef")),
		Actor:      strings.TrimSpace(query.Get("actor")),
		Action:     strings.TrimSpace(query.Get("action")),
		Pagination: parsePagination(r),
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_log_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	resp := auditLogListResponse{
		Entries:       make([]auditLogEntryResponse, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, entry := range page.Items {
		resp.Entries = append(resp.Entries, auditLogEntryResponse{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Detail:    entry.Detail,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) recordAudit(ctx context.Context, identity *auth.Identity, action, targetRef string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Record(ctx, services.AuditRecordCommand{
		Actor:     identity.UID,
		ActorType: "admin",
		Action:    action,
		TargetRef: targetRef,
		Detail:    detail,
	})
}

func couponToPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		Code:         coupon.Code,
		DiscountType: string(coupon.DiscountType),
		Value:        coupon.Value,
		Scope:        coupon.Scope,
		ExpiresAt:    formatTime(coupon.ExpiresAt),
		CreatedAt:    formatTime(coupon.CreatedAt),
	}
}

func writeAdminCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponAlreadyExists):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exists", "coupon code already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to process coupon request", http.StatusInternalServerError))
	}
}
