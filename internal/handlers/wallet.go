package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/threadline/api/internal/platform/auth"
	"github.com/threadline/api/internal/platform/httpx"
	"github.com/threadline/api/internal/services"
)

// WalletHandlers exposes the caller's store-credit balance and statement.
type WalletHandlers struct {
	authn   *auth.Authenticator
	wallets services.WalletService
}

// NewWalletHandlers constructs wallet handlers guarded by Firebase authentication.
func NewWalletHandlers(authn *auth.Authenticator, wallets services.WalletService) *WalletHandlers {
	return &WalletHandlers{
		authn:   authn,
		wallets: wallets,
	}
}

// Routes registers wallet endpoints under the provided router.
func (h *WalletHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/", h.getBalance)
	group.Get("/entries", h.listEntries)
}

type walletBalanceResponse struct {
	Balance   int64  `json:"balance"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type walletEntryResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	OrderRef    string `json:"orderRef,omitempty"`
	GiftCardRef string `json:"giftCardRef,omitempty"`
	Balance     int64  `json:"balance"`
	CreatedAt   string `json:"createdAt"`
}

type walletEntriesResponse struct {
	Entries       []walletEntryResponse `json:"entries"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func (h *WalletHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	account, err := h.wallets.GetBalance(ctx, identity.UID)
	if err != nil {
		writeWalletError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, walletBalanceResponse{
		Balance:   account.Balance,
		UpdatedAt: formatTime(account.UpdatedAt),
	})
}

func (h *WalletHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	page, err := h.wallets.ListEntries(ctx, identity.UID, parsePagination(r))
	if err != nil {
		writeWalletError(ctx, w, err)
		return
	}

	resp := walletEntriesResponse{
		Entries:       make([]walletEntryResponse, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, entry := range page.Items {
		item := walletEntryResponse{
			ID:        entry.ID,
			Type:      string(entry.Type),
			Amount:    entry.Amount,
			Reason:    entry.Reason,
			Balance:   entry.Balance,
			CreatedAt: formatTime(entry.CreatedAt),
		}
		if entry.OrderRef != nil {
			item.OrderRef = *entry.OrderRef
		}
		if entry.GiftCardRef != nil {
			item.GiftCardRef = *entry.GiftCardRef
		}
		resp.Entries = append(resp.Entries, item)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writeWalletError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrWalletInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWalletInsufficientFunds):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_funds", "wallet balance is too low", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("wallet_error", "failed to process wallet request", http.StatusInternalServerError))
	}
}
