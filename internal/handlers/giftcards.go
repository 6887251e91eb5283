package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/threadline/api/internal/platform/auth"
	"github.com/threadline/api/internal/platform/httpx"
	"github.com/threadline/api/internal/services"
)

const maxGiftCardRequestBody = 4 * 1024

// GiftCardHandlers lets authenticated customers redeem prepaid codes into
// their wallet. Issuing codes is an admin operation and lives there.
type GiftCardHandlers struct {
	authn     *auth.Authenticator
	giftCards services.GiftCardService
}

// NewGiftCardHandlers constructs gift card handlers guarded by Firebase authentication.
func NewGiftCardHandlers(authn *auth.Authenticator, giftCards services.GiftCardService) *GiftCardHandlers {
	return &GiftCardHandlers{
		authn:     authn,
		giftCards: giftCards,
	}
}

// Routes registers gift card endpoints under the provided router.
func (h *GiftCardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/redeem", h.redeem)
}

type redeemGiftCardRequest struct {
	Code string `json:"code"`
}

type redeemGiftCardResponse struct {
	Code           string `json:"code"`
	AmountCredited int64  `json:"amountCredited"`
	Balance        int64  `json:"balance"`
}

func (h *GiftCardHandlers) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req redeemGiftCardRequest
	if !decodeJSONBody(w, r, maxGiftCardRequestBody, &req) {
		return
	}

	redemption, err := h.giftCards.Redeem(ctx, services.RedeemGiftCardCommand{
		Code:    strings.TrimSpace(req.Code),
		OwnerID: identity.UID,
	})
	if err != nil {
		writeGiftCardError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, redeemGiftCardResponse{
		Code:           redemption.Card.Code,
		AmountCredited: redemption.AmountCredited,
		Balance:        redemption.Balance,
	})
}

func writeGiftCardError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrGiftCardInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrGiftCardNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("gift_card_not_found", "gift card not found", http.StatusNotFound))
	case errors.Is(err, services.ErrGiftCardAlreadyRedeemed):
		httpx.WriteError(ctx, w, httpx.NewError("gift_card_redeemed", "gift card has already been redeemed", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("gift_card_error", "failed to process gift card request", http.StatusInternalServerError))
	}
}
