package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/threadline/api/internal/repositories"
)

const (
	giftCardCodeLength = 12
	// Crockford base32: no I, L, O, U, so codes read unambiguously.
	giftCardCodeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWX"

	giftCardIssueRetries = 3
)

var (
	// ErrGiftCardRepositoryMissing indicates the gift card repository dependency is absent.
	ErrGiftCardRepositoryMissing = errors.New("gift card service: repository is not configured")
	// ErrGiftCardInvalidInput signals a malformed code or face value.
	ErrGiftCardInvalidInput = errors.New("gift card service: invalid input")
	// ErrGiftCardNotFound indicates no card exists for the code.
	ErrGiftCardNotFound = errors.New("gift card service: gift card not found")
	// ErrGiftCardAlreadyRedeemed indicates the card has been consumed.
	ErrGiftCardAlreadyRedeemed = errors.New("gift card service: gift card already redeemed")
)

// GiftCardServiceDeps bundles dependencies required to construct a GiftCardService implementation.
type GiftCardServiceDeps struct {
	GiftCards repositories.GiftCardRepository
	Audit     AuditLogService
	Clock     func() time.Time
	// CodeGenerator overrides the random code source, primarily for tests.
	CodeGenerator func() (string, error)
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type giftCardService struct {
	repo    repositories.GiftCardRepository
	audit   AuditLogService
	clock   func() time.Time
	newCode func() (string, error)
	logger  func(context.Context, string, map[string]any)
}

// NewGiftCardService wires a GiftCardService backed by the provided repositories.
func NewGiftCardService(deps GiftCardServiceDeps) (GiftCardService, error) {
	if deps.GiftCards == nil {
		return nil, ErrGiftCardRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newCode := deps.CodeGenerator
	if newCode == nil {
		newCode = generateGiftCardCode
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &giftCardService{
		repo:    deps.GiftCards,
		audit:   deps.Audit,
		clock:   func() time.Time { return clock().UTC() },
		newCode: newCode,
		logger:  logger,
	}, nil
}

func (s *giftCardService) Issue(ctx context.Context, cmd IssueGiftCardCommand) (GiftCard, error) {
	if cmd.FaceValue <= 0 {
		return GiftCard{}, fmt.Errorf("%w: face value must be > 0", ErrGiftCardInvalidInput)
	}

	now := s.clock()
	var lastErr error
	for attempt := 0; attempt < giftCardIssueRetries; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return GiftCard{}, fmt.Errorf("gift card service: generate code: %w", err)
		}
		card := GiftCard{
			Code:      code,
			FaceValue: cmd.FaceValue,
			CreatedAt: now,
		}
		if err := s.repo.Insert(ctx, card); err != nil {
			var cardErr *repositories.GiftCardError
			if errors.As(err, &cardErr) && cardErr.Code == repositories.GiftCardErrorCodeExists {
				lastErr = err
				continue
			}
			return GiftCard{}, err
		}

		s.recordAudit(ctx, cmd.ActorID, "giftcard.issue", "giftCards/"+code, map[string]any{
			"faceValue": cmd.FaceValue,
		})
		return card, nil
	}
	return GiftCard{}, fmt.Errorf("gift card service: code generation exhausted retries: %w", lastErr)
}

func (s *giftCardService) Get(ctx context.Context, code string) (GiftCard, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return GiftCard{}, fmt.Errorf("%w: code is required", ErrGiftCardInvalidInput)
	}
	card, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return GiftCard{}, mapGiftCardError(err)
	}
	return card, nil
}

// Redeem consumes the code exactly once and credits the owner's wallet. The
// repository runs both writes in one transaction, so racing redeemers of the
// same code see exactly one success.
func (s *giftCardService) Redeem(ctx context.Context, cmd RedeemGiftCardCommand) (GiftCardRedemption, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return GiftCardRedemption{}, fmt.Errorf("%w: code is required", ErrGiftCardInvalidInput)
	}
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return GiftCardRedemption{}, fmt.Errorf("%w: owner id is required", ErrGiftCardInvalidInput)
	}

	result, err := s.repo.Redeem(ctx, repositories.GiftCardRedeemRequest{
		Code:    code,
		OwnerID: ownerID,
		Now:     s.clock(),
	})
	if err != nil {
		return GiftCardRedemption{}, mapGiftCardError(err)
	}

	s.logger(ctx, "giftcard.redeemed", map[string]any{
		"code":    code,
		"owner":   ownerID,
		"amount":  result.Card.FaceValue,
		"balance": result.Balance,
	})

	return GiftCardRedemption{
		Card:           result.Card,
		AmountCredited: result.Card.FaceValue,
		Balance:        result.Balance,
	}, nil
}

func (s *giftCardService) recordAudit(ctx context.Context, actorID, action, targetRef string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, AuditRecordCommand{
		Actor:     strings.TrimSpace(actorID),
		ActorType: "admin",
		Action:    action,
		TargetRef: targetRef,
		Detail:    detail,
	})
	if err != nil {
		s.logger(ctx, "giftcard.audit.failed", map[string]any{
			"action": action,
			"target": targetRef,
			"error":  err.Error(),
		})
	}
}

func generateGiftCardCode() (string, error) {
	buf := make([]byte, giftCardCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, giftCardCodeLength)
	for i, b := range buf {
		code[i] = giftCardCodeAlphabet[int(b)%len(giftCardCodeAlphabet)]
	}
	return string(code), nil
}

func mapGiftCardError(err error) error {
	if err == nil {
		return nil
	}
	var cardErr *repositories.GiftCardError
	if errors.As(err, &cardErr) {
		switch cardErr.Code {
		case repositories.GiftCardErrorNotFound:
			return fmt.Errorf("%w: %v", ErrGiftCardNotFound, err)
		case repositories.GiftCardErrorAlreadyRedeemed:
			return fmt.Errorf("%w: %v", ErrGiftCardAlreadyRedeemed, err)
		}
	}
	return err
}
