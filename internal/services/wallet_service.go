package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/repositories"
)

var (
	// ErrWalletRepositoryMissing indicates the wallet repository dependency is absent.
	ErrWalletRepositoryMissing = errors.New("wallet service: repository is not configured")
	// ErrWalletInvalidInput signals a malformed owner id or amount.
	ErrWalletInvalidInput = errors.New("wallet service: invalid input")
	// ErrWalletInsufficientFunds indicates a debit would push the balance below zero.
	ErrWalletInsufficientFunds = errors.New("wallet service: insufficient funds")
)

// WalletServiceDeps bundles dependencies required to construct a WalletService implementation.
type WalletServiceDeps struct {
	Wallets repositories.WalletRepository
	Audit   AuditLogService
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type walletService struct {
	repo   repositories.WalletRepository
	audit  AuditLogService
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewWalletService wires a WalletService backed by the provided repositories.
func NewWalletService(deps WalletServiceDeps) (WalletService, error) {
	if deps.Wallets == nil {
		return nil, ErrWalletRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &walletService{
		repo:   deps.Wallets,
		audit:  deps.Audit,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *walletService) GetBalance(ctx context.Context, ownerID string) (WalletAccount, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return WalletAccount{}, fmt.Errorf("%w: owner id is required", ErrWalletInvalidInput)
	}
	account, err := s.repo.Get(ctx, ownerID)
	if err != nil {
		return WalletAccount{}, mapWalletError(err)
	}
	return account, nil
}

func (s *walletService) ListEntries(ctx context.Context, ownerID string, pager Pagination) (domain.CursorPage[WalletEntry], error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.CursorPage[WalletEntry]{}, fmt.Errorf("%w: owner id is required", ErrWalletInvalidInput)
	}
	page, err := s.repo.ListEntries(ctx, ownerID, pager)
	if err != nil {
		return domain.CursorPage[WalletEntry]{}, mapWalletError(err)
	}
	return page, nil
}

// Credit is the support path for goodwill adjustments. Order refunds and gift
// card redemptions credit the wallet inside their own transactions instead.
func (s *walletService) Credit(ctx context.Context, cmd WalletAdjustCommand) (WalletEntry, error) {
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return WalletEntry{}, fmt.Errorf("%w: owner id is required", ErrWalletInvalidInput)
	}
	if cmd.Amount <= 0 {
		return WalletEntry{}, fmt.Errorf("%w: amount must be > 0", ErrWalletInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return WalletEntry{}, fmt.Errorf("%w: reason is required", ErrWalletInvalidInput)
	}

	result, err := s.repo.Credit(ctx, repositories.WalletMutationRequest{
		OwnerID: ownerID,
		Amount:  cmd.Amount,
		Reason:  reason,
		Now:     s.clock(),
	})
	if err != nil {
		return WalletEntry{}, mapWalletError(err)
	}

	s.recordAudit(ctx, strings.TrimSpace(cmd.ActorID), "wallet.credit", "wallets/"+ownerID, map[string]any{
		"amount": cmd.Amount,
		"reason": reason,
	})

	return result.Entry, nil
}

// recordAudit writes the trail entry; the credit itself already committed, so
// an audit failure is logged rather than surfaced.
func (s *walletService) recordAudit(ctx context.Context, actor, action, targetRef string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, AuditRecordCommand{
		Actor:     actor,
		ActorType: "admin",
		Action:    action,
		TargetRef: targetRef,
		Detail:    detail,
	})
	if err != nil {
		s.logger(ctx, "wallet.audit.failed", map[string]any{
			"action": action,
			"target": targetRef,
			"error":  err.Error(),
		})
	}
}

func mapWalletError(err error) error {
	if err == nil {
		return nil
	}
	var walletErr *repositories.WalletError
	if errors.As(err, &walletErr) {
		switch walletErr.Code {
		case repositories.WalletErrorInsufficientFunds:
			return fmt.Errorf("%w: %v", ErrWalletInsufficientFunds, err)
		case repositories.WalletErrorInvalidAmount, repositories.WalletErrorAccountNotFound:
			return fmt.Errorf("%w: %v", ErrWalletInvalidInput, err)
		}
	}
	return err
}
