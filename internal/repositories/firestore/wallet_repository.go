package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/threadline/api/internal/domain"
	pfirestore "github.com/threadline/api/internal/platform/firestore"
	"github.com/threadline/api/internal/repositories"
)

const (
	walletsCollection       = "wallets"
	walletEntriesCollection = "entries"
)

type WalletRepository struct {
	provider *pfirestore.Provider
	wallets  *pfirestore.BaseRepository[walletDocument]
}

func NewWalletRepository(provider *pfirestore.Provider) (*WalletRepository, error) {
	if provider == nil {
		return nil, errors.New("wallet repository requires firestore provider")
	}
	wallets := pfirestore.NewBaseRepository[walletDocument](provider, walletsCollection, nil, nil)
	return &WalletRepository{provider: provider, wallets: wallets}, nil
}

func (r *WalletRepository) Get(ctx context.Context, ownerID string) (domain.WalletAccount, error) {
	if r == nil || r.wallets == nil {
		return domain.WalletAccount{}, errors.New("wallet repository not initialised")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.WalletAccount{}, errors.New("wallet get: owner id is required")
	}

	doc, err := r.wallets.Get(ctx, ownerID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			// Accounts are created lazily; a missing document is a zero balance.
			return domain.WalletAccount{OwnerID: ownerID}, nil
		}
		return domain.WalletAccount{}, wrapWalletError("wallet.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *WalletRepository) Credit(ctx context.Context, req repositories.WalletMutationRequest) (repositories.WalletMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.WalletMutationResult{}, errors.New("wallet repository not initialised")
	}
	if err := validateWalletMutation(req); err != nil {
		return repositories.WalletMutationResult{}, err
	}

	var result repositories.WalletMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		entry, balance, err := walletTxCredit(tx, client, req)
		if err != nil {
			return err
		}
		result = repositories.WalletMutationResult{Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return repositories.WalletMutationResult{}, wrapWalletError("wallet.credit", err)
	}
	return result, nil
}

func (r *WalletRepository) Debit(ctx context.Context, req repositories.WalletMutationRequest) (repositories.WalletMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.WalletMutationResult{}, errors.New("wallet repository not initialised")
	}
	if err := validateWalletMutation(req); err != nil {
		return repositories.WalletMutationResult{}, err
	}

	var result repositories.WalletMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		entry, balance, err := walletTxDebit(tx, client, req)
		if err != nil {
			return err
		}
		result = repositories.WalletMutationResult{Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return repositories.WalletMutationResult{}, wrapWalletError("wallet.debit", err)
	}
	return result, nil
}

func (r *WalletRepository) ListEntries(ctx context.Context, ownerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.WalletEntry]{}, errors.New("wallet repository not initialised")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.CursorPage[domain.WalletEntry]{}, errors.New("wallet list entries: owner id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.WalletEntry]{}, wrapWalletError("wallet.listEntries", err)
	}

	query := client.Collection(walletsCollection).Doc(ownerID).Collection(walletEntriesCollection).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeWalletPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.WalletEntry]{}, wrapWalletError("wallet.listEntries", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.WalletEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.WalletEntry]{}, wrapWalletError("wallet.listEntries", err)
		}
		var doc walletEntryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.WalletEntry]{}, fmt.Errorf("decode wallet entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID, ownerID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		encoded, err := encodeWalletPageToken(walletPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.WalletEntry]{}, wrapWalletError("wallet.listEntries", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.WalletEntry]{
		Items:         entries,
		NextPageToken: nextToken,
	}, nil
}

// Transaction helpers shared with the order and gift card repositories -------

// walletTxCredit applies a credit inside an already-open transaction. A
// missing wallet document is created with the credited amount.
func walletTxCredit(tx *firestore.Transaction, client *firestore.Client, req repositories.WalletMutationRequest) (domain.WalletEntry, int64, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	now := req.Now.UTC()
	walletRef := client.Collection(walletsCollection).Doc(ownerID)

	var doc walletDocument
	snap, err := tx.Get(walletRef)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return domain.WalletEntry{}, 0, err
		}
		doc = walletDocument{}
	} else if err := snap.DataTo(&doc); err != nil {
		return domain.WalletEntry{}, 0, fmt.Errorf("decode wallet %s: %w", ownerID, err)
	}

	doc.Balance += req.Amount
	doc.UpdatedAt = now
	if err := tx.Set(walletRef, doc); err != nil {
		return domain.WalletEntry{}, 0, err
	}

	entry, err := appendWalletEntry(tx, walletRef, req, domain.WalletEntryCredit, doc.Balance, now)
	if err != nil {
		return domain.WalletEntry{}, 0, err
	}
	return entry, doc.Balance, nil
}

// walletTxDebit applies a debit inside an already-open transaction. The
// balance is never allowed below zero.
func walletTxDebit(tx *firestore.Transaction, client *firestore.Client, req repositories.WalletMutationRequest) (domain.WalletEntry, int64, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	now := req.Now.UTC()
	walletRef := client.Collection(walletsCollection).Doc(ownerID)

	snap, err := tx.Get(walletRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.WalletEntry{}, 0, repositories.NewWalletError(repositories.WalletErrorInsufficientFunds, fmt.Sprintf("wallet %s has no balance", ownerID), err)
		}
		return domain.WalletEntry{}, 0, err
	}
	var doc walletDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.WalletEntry{}, 0, fmt.Errorf("decode wallet %s: %w", ownerID, err)
	}
	if doc.Balance < req.Amount {
		return domain.WalletEntry{}, 0, repositories.NewWalletError(repositories.WalletErrorInsufficientFunds, fmt.Sprintf("wallet %s balance below debit amount", ownerID), nil)
	}

	doc.Balance -= req.Amount
	doc.UpdatedAt = now
	if err := tx.Set(walletRef, doc); err != nil {
		return domain.WalletEntry{}, 0, err
	}

	entry, err := appendWalletEntry(tx, walletRef, req, domain.WalletEntryDebit, doc.Balance, now)
	if err != nil {
		return domain.WalletEntry{}, 0, err
	}
	return entry, doc.Balance, nil
}

func appendWalletEntry(tx *firestore.Transaction, walletRef *firestore.DocumentRef, req repositories.WalletMutationRequest, kind domain.WalletEntryType, balance int64, now time.Time) (domain.WalletEntry, error) {
	entryRef := walletRef.Collection(walletEntriesCollection).NewDoc()
	entryDoc := walletEntryDocument{
		Type:        string(kind),
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		OrderRef:    req.OrderRef,
		GiftCardRef: req.GiftCardRef,
		Balance:     balance,
		CreatedAt:   now,
	}
	if err := tx.Create(entryRef, entryDoc); err != nil {
		return domain.WalletEntry{}, err
	}
	return entryDoc.toDomain(entryRef.ID, strings.TrimSpace(req.OwnerID)), nil
}

func validateWalletMutation(req repositories.WalletMutationRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return repositories.NewWalletError(repositories.WalletErrorAccountNotFound, "wallet mutation: owner id is required", nil)
	}
	if req.Amount <= 0 {
		return repositories.NewWalletError(repositories.WalletErrorInvalidAmount, "wallet mutation: amount must be > 0", nil)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type walletDocument struct {
	Balance   int64     `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d walletDocument) toDomain(ownerID string) domain.WalletAccount {
	return domain.WalletAccount{
		OwnerID:   ownerID,
		Balance:   d.Balance,
		UpdatedAt: d.UpdatedAt,
	}
}

type walletEntryDocument struct {
	Type        string    `firestore:"type"`
	Amount      int64     `firestore:"amount"`
	Reason      string    `firestore:"reason,omitempty"`
	OrderRef    *string   `firestore:"orderRef,omitempty"`
	GiftCardRef *string   `firestore:"giftCardRef,omitempty"`
	Balance     int64     `firestore:"balance"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func (d walletEntryDocument) toDomain(id string, ownerID string) domain.WalletEntry {
	return domain.WalletEntry{
		ID:          id,
		OwnerID:     ownerID,
		Type:        domain.WalletEntryType(d.Type),
		Amount:      d.Amount,
		Reason:      d.Reason,
		OrderRef:    d.OrderRef,
		GiftCardRef: d.GiftCardRef,
		Balance:     d.Balance,
		CreatedAt:   d.CreatedAt,
	}
}

type walletPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeWalletPageToken(token walletPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode wallet page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeWalletPageToken(encoded string) (*walletPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode wallet page token: %w", err)
	}
	var token walletPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode wallet page token json: %w", err)
	}
	return &token, nil
}

func wrapWalletError(op string, err error) error {
	if err == nil {
		return nil
	}
	var walletErr *repositories.WalletError
	if errors.As(err, &walletErr) {
		if walletErr.Op == "" {
			walletErr.Op = op
		}
		return walletErr
	}
	return pfirestore.WrapError(op, err)
}
