package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/repositories"
)

type stubGiftCardRepository struct {
	card         domain.GiftCard
	redeemResult repositories.GiftCardRedeemResult
	insertErrs   []error
	findErr      error
	redeemErr    error
	inserted     []domain.GiftCard
	redeems      []repositories.GiftCardRedeemRequest
}

func (s *stubGiftCardRepository) Insert(ctx context.Context, card domain.GiftCard) error {
	s.inserted = append(s.inserted, card)
	if len(s.insertErrs) == 0 {
		return nil
	}
	err := s.insertErrs[0]
	s.insertErrs = s.insertErrs[1:]
	return err
}

func (s *stubGiftCardRepository) FindByCode(ctx context.Context, code string) (domain.GiftCard, error) {
	return s.card, s.findErr
}

func (s *stubGiftCardRepository) Redeem(ctx context.Context, req repositories.GiftCardRedeemRequest) (repositories.GiftCardRedeemResult, error) {
	s.redeems = append(s.redeems, req)
	return s.redeemResult, s.redeemErr
}

func TestGiftCardService_Issue(t *testing.T) {
	now := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubGiftCardRepository{}
	svc, err := NewGiftCardService(GiftCardServiceDeps{
		GiftCards:     repo,
		Clock:         func() time.Time { return now },
		CodeGenerator: func() (string, error) { return "ABCD1234EFGH", nil },
	})
	if err != nil {
		t.Fatalf("NewGiftCardService: %v", err)
	}

	card, err := svc.Issue(context.Background(), IssueGiftCardCommand{FaceValue: 100000, ActorID: "admin_1"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if card.Code != "ABCD1234EFGH" {
		t.Fatalf("unexpected code %q", card.Code)
	}
	if card.FaceValue != 100000 {
		t.Fatalf("face value = %d, want 100000", card.FaceValue)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
}

func TestGiftCardService_Issue_RetriesOnCollision(t *testing.T) {
	repo := &stubGiftCardRepository{
		insertErrs: []error{
			repositories.NewGiftCardError(repositories.GiftCardErrorCodeExists, "code exists", nil),
		},
	}
	codes := []string{"AAAAAAAAAAAA", "BBBBBBBBBBBB"}
	svc, err := NewGiftCardService(GiftCardServiceDeps{
		GiftCards: repo,
		CodeGenerator: func() (string, error) {
			code := codes[0]
			codes = codes[1:]
			return code, nil
		},
	})
	if err != nil {
		t.Fatalf("NewGiftCardService: %v", err)
	}

	card, err := svc.Issue(context.Background(), IssueGiftCardCommand{FaceValue: 5000})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if card.Code != "BBBBBBBBBBBB" {
		t.Fatalf("expected second code after collision, got %q", card.Code)
	}
	if len(repo.inserted) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(repo.inserted))
	}
}

func TestGiftCardService_Issue_RejectsNonPositiveValue(t *testing.T) {
	svc, err := NewGiftCardService(GiftCardServiceDeps{GiftCards: &stubGiftCardRepository{}})
	if err != nil {
		t.Fatalf("NewGiftCardService: %v", err)
	}
	if _, err := svc.Issue(context.Background(), IssueGiftCardCommand{FaceValue: 0}); !errors.Is(err, ErrGiftCardInvalidInput) {
		t.Fatalf("expected ErrGiftCardInvalidInput got %v", err)
	}
}

func TestGiftCardService_Redeem(t *testing.T) {
	now := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubGiftCardRepository{
		redeemResult: repositories.GiftCardRedeemResult{
			Card:    domain.GiftCard{Code: "ABCD1234EFGH", FaceValue: 100000, Redeemed: true},
			Balance: 125000,
		},
	}
	svc, err := NewGiftCardService(GiftCardServiceDeps{
		GiftCards: repo,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewGiftCardService: %v", err)
	}

	redemption, err := svc.Redeem(context.Background(), RedeemGiftCardCommand{
		Code:    " abcd1234efgh ",
		OwnerID: "user_1",
	})
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if redemption.AmountCredited != 100000 {
		t.Fatalf("amount credited = %d, want 100000", redemption.AmountCredited)
	}
	if redemption.Balance != 125000 {
		t.Fatalf("balance = %d, want 125000", redemption.Balance)
	}
	if len(repo.redeems) != 1 {
		t.Fatalf("expected one redeem, got %d", len(repo.redeems))
	}
	if repo.redeems[0].Code != "ABCD1234EFGH" {
		t.Fatalf("redeem code not normalised: %q", repo.redeems[0].Code)
	}
}

func TestGiftCardService_Redeem_AlreadyRedeemed(t *testing.T) {
	repo := &stubGiftCardRepository{
		redeemErr: repositories.NewGiftCardError(repositories.GiftCardErrorAlreadyRedeemed, "already redeemed", nil),
	}
	svc, err := NewGiftCardService(GiftCardServiceDeps{GiftCards: repo})
	if err != nil {
		t.Fatalf("NewGiftCardService: %v", err)
	}

	_, err = svc.Redeem(context.Background(), RedeemGiftCardCommand{Code: "ABCD1234EFGH", OwnerID: "user_2"})
	if !errors.Is(err, ErrGiftCardAlreadyRedeemed) {
		t.Fatalf("expected ErrGiftCardAlreadyRedeemed got %v", err)
	}
}

func TestGiftCardService_Redeem_NotFound(t *testing.T) {
	repo := &stubGiftCardRepository{
		redeemErr: repositories.NewGiftCardError(repositories.GiftCardErrorNotFound, "no such card", nil),
	}
	svc, err := NewGiftCardService(GiftCardServiceDeps{GiftCards: repo})
	if err != nil {
		t.Fatalf("NewGiftCardService: %v", err)
	}

	_, err = svc.Redeem(context.Background(), RedeemGiftCardCommand{Code: "ZZZZZZZZZZZZ", OwnerID: "user_2"})
	if !errors.Is(err, ErrGiftCardNotFound) {
		t.Fatalf("expected ErrGiftCardNotFound got %v", err)
	}
}

func TestGenerateGiftCardCode(t *testing.T) {
	code, err := generateGiftCardCode()
	if err != nil {
		t.Fatalf("generateGiftCardCode: %v", err)
	}
	if len(code) != giftCardCodeLength {
		t.Fatalf("code length = %d, want %d", len(code), giftCardCodeLength)
	}
	for _, r := range code {
		if !strings.ContainsRune(giftCardCodeAlphabet, r) {
			t.Fatalf("code %q contains rune outside alphabet", code)
		}
	}
}
