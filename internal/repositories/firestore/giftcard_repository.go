package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/threadline/api/internal/domain"
	pfirestore "github.com/threadline/api/internal/platform/firestore"
	"github.com/threadline/api/internal/repositories"
)

const giftCardsCollection = "giftCards"

// GiftCardRepository stores prepaid codes keyed by the upper-cased code.
type GiftCardRepository struct {
	provider *pfirestore.Provider
	cards    *pfirestore.BaseRepository[giftCardDocument]
}

func NewGiftCardRepository(provider *pfirestore.Provider) (*GiftCardRepository, error) {
	if provider == nil {
		return nil, errors.New("gift card repository requires firestore provider")
	}
	cards := pfirestore.NewBaseRepository[giftCardDocument](provider, giftCardsCollection, nil, nil)
	return &GiftCardRepository{provider: provider, cards: cards}, nil
}

func (r *GiftCardRepository) Insert(ctx context.Context, card domain.GiftCard) error {
	if r == nil || r.provider == nil {
		return errors.New("gift card repository not initialised")
	}
	code := normaliseGiftCardCode(card.Code)
	if code == "" {
		return errors.New("gift card insert: code is required")
	}
	if card.FaceValue <= 0 {
		return errors.New("gift card insert: face value must be > 0")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.cards.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		doc := newGiftCardDocument(card)
		if err := tx.Create(ref, doc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewGiftCardError(repositories.GiftCardErrorCodeExists, fmt.Sprintf("gift card %s already exists", code), err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return wrapGiftCardError("giftcard.insert", err)
	}
	return nil
}

func (r *GiftCardRepository) FindByCode(ctx context.Context, code string) (domain.GiftCard, error) {
	if r == nil || r.cards == nil {
		return domain.GiftCard{}, errors.New("gift card repository not initialised")
	}
	code = normaliseGiftCardCode(code)
	if code == "" {
		return domain.GiftCard{}, errors.New("gift card find: code is required")
	}
	doc, err := r.cards.Get(ctx, code)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.GiftCard{}, repositories.NewGiftCardError(repositories.GiftCardErrorNotFound, fmt.Sprintf("gift card %s not found", code), err)
		}
		return domain.GiftCard{}, wrapGiftCardError("giftcard.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Redeem flips the card to redeemed and credits the wallet in one
// transaction. The redeemed guard inside the transaction guarantees at most
// one winner when callers race on the same code.
func (r *GiftCardRepository) Redeem(ctx context.Context, req repositories.GiftCardRedeemRequest) (repositories.GiftCardRedeemResult, error) {
	if r == nil || r.provider == nil {
		return repositories.GiftCardRedeemResult{}, errors.New("gift card repository not initialised")
	}
	code := normaliseGiftCardCode(req.Code)
	if code == "" {
		return repositories.GiftCardRedeemResult{}, errors.New("gift card redeem: code is required")
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return repositories.GiftCardRedeemResult{}, errors.New("gift card redeem: owner id is required")
	}

	now := req.Now.UTC()
	var result repositories.GiftCardRedeemResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		cardRef, err := r.cards.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(cardRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewGiftCardError(repositories.GiftCardErrorNotFound, fmt.Sprintf("gift card %s not found", code), err)
			}
			return err
		}
		var doc giftCardDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode gift card %s: %w", code, err)
		}
		if doc.Redeemed {
			return repositories.NewGiftCardError(repositories.GiftCardErrorAlreadyRedeemed, fmt.Sprintf("gift card %s already redeemed", code), nil)
		}

		cardCode := code
		entry, balance, err := walletTxCredit(tx, client, repositories.WalletMutationRequest{
			OwnerID:     ownerID,
			Amount:      doc.FaceValue,
			Reason:      "gift card redemption",
			GiftCardRef: &cardCode,
			Now:         now,
		})
		if err != nil {
			return err
		}

		doc.Redeemed = true
		doc.RedeemedBy = &ownerID
		doc.RedeemedAt = &now
		if err := tx.Set(cardRef, doc); err != nil {
			return err
		}

		result = repositories.GiftCardRedeemResult{
			Card:    doc.toDomain(code),
			Entry:   entry,
			Balance: balance,
		}
		return nil
	})
	if err != nil {
		return repositories.GiftCardRedeemResult{}, wrapGiftCardError("giftcard.redeem", err)
	}
	return result, nil
}

// Helper structures ---------------------------------------------------------

type giftCardDocument struct {
	FaceValue  int64      `firestore:"faceValue"`
	Redeemed   bool       `firestore:"redeemed"`
	RedeemedBy *string    `firestore:"redeemedBy,omitempty"`
	RedeemedAt *time.Time `firestore:"redeemedAt,omitempty"`
	CreatedAt  time.Time  `firestore:"createdAt"`
}

func newGiftCardDocument(card domain.GiftCard) giftCardDocument {
	return giftCardDocument{
		FaceValue:  card.FaceValue,
		Redeemed:   card.Redeemed,
		RedeemedBy: card.RedeemedBy,
		RedeemedAt: card.RedeemedAt,
		CreatedAt:  card.CreatedAt.UTC(),
	}
}

func (d giftCardDocument) toDomain(code string) domain.GiftCard {
	return domain.GiftCard{
		Code:       code,
		FaceValue:  d.FaceValue,
		Redeemed:   d.Redeemed,
		RedeemedBy: d.RedeemedBy,
		RedeemedAt: d.RedeemedAt,
		CreatedAt:  d.CreatedAt,
	}
}

func normaliseGiftCardCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func wrapGiftCardError(op string, err error) error {
	if err == nil {
		return nil
	}
	var cardErr *repositories.GiftCardError
	if errors.As(err, &cardErr) {
		if cardErr.Op == "" {
			cardErr.Op = op
		}
		return cardErr
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
