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

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Audit   AuditLogService
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	repo   repositories.CouponRepository
	audit  AuditLogService
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCouponService wires a CouponService backed by the provided repositories.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		repo:   deps.Coupons,
		audit:  deps.Audit,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Validate resolves the code case-insensitively and checks expiry and scope
// against the submitted lines. It never computes the discount and never
// records usage; coupons are reusable until they expire.
func (s *couponService) Validate(ctx context.Context, code string, lines []CartLine) (AppliedCoupon, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return AppliedCoupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return AppliedCoupon{}, fmt.Errorf("%w: %s", ErrCouponNotFound, normalized)
		}
		return AppliedCoupon{}, err
	}

	now := s.clock()
	if !coupon.ExpiresAt.IsZero() && now.After(coupon.ExpiresAt) {
		return AppliedCoupon{}, fmt.Errorf("%w: %s expired at %s", ErrCouponExpired, normalized, coupon.ExpiresAt.Format(time.RFC3339))
	}

	if coupon.Scope != domain.CouponScopeAll {
		if domain.DiscountBase(lines, coupon.Scope) == 0 {
			return AppliedCoupon{}, fmt.Errorf("%w: %s applies to %s only", ErrCouponNotApplicable, normalized, coupon.Scope)
		}
	}

	return AppliedCoupon{
		Code:         coupon.Code,
		DiscountType: coupon.DiscountType,
		Value:        coupon.Value,
		Scope:        coupon.Scope,
	}, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	switch cmd.DiscountType {
	case domain.DiscountTypePercentage:
		if cmd.Value <= 0 || cmd.Value > 100 {
			return Coupon{}, fmt.Errorf("%w: percentage value must be in (0, 100]", ErrCouponInvalidInput)
		}
	case domain.DiscountTypeFixed:
		if cmd.Value <= 0 {
			return Coupon{}, fmt.Errorf("%w: fixed value must be > 0", ErrCouponInvalidInput)
		}
	default:
		return Coupon{}, fmt.Errorf("%w: unknown discount type %q", ErrCouponInvalidInput, cmd.DiscountType)
	}

	now := s.clock()
	if cmd.ExpiresAt.IsZero() || !cmd.ExpiresAt.After(now) {
		return Coupon{}, fmt.Errorf("%w: expiry must be in the future", ErrCouponInvalidInput)
	}

	scope := strings.TrimSpace(cmd.Scope)
	if scope == "" {
		scope = domain.CouponScopeAll
	}

	coupon := Coupon{
		Code:         code,
		DiscountType: cmd.DiscountType,
		Value:        cmd.Value,
		Scope:        scope,
		ExpiresAt:    cmd.ExpiresAt.UTC(),
		CreatedAt:    now,
	}

	if err := s.repo.Insert(ctx, coupon); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Coupon{}, fmt.Errorf("%w: %s", ErrCouponAlreadyExists, code)
		}
		return Coupon{}, err
	}

	s.recordAudit(ctx, cmd.ActorID, "coupon.create", "coupons/"+code, map[string]any{
		"discountType": string(coupon.DiscountType),
		"value":        coupon.Value,
		"scope":        coupon.Scope,
	})
	return coupon, nil
}

func (s *couponService) DeleteCoupon(ctx context.Context, cmd DeleteCouponCommand) error {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	if err := s.repo.Delete(ctx, code); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return err
	}

	s.recordAudit(ctx, cmd.ActorID, "coupon.delete", "coupons/"+code, nil)
	return nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, err
	}
	if filter.IncludeExpired {
		return page, nil
	}
	now := s.clock()
	filtered := page.Items[:0]
	for _, coupon := range page.Items {
		if coupon.ExpiresAt.IsZero() || coupon.ExpiresAt.After(now) {
			filtered = append(filtered, coupon)
		}
	}
	page.Items = filtered
	return page, nil
}

func (s *couponService) recordAudit(ctx context.Context, actorID, action, targetRef string, detail map[string]any) {
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
		s.logger(ctx, "coupon.audit.failed", map[string]any{
			"action": action,
			"target": targetRef,
			"error":  err.Error(),
		})
	}
}
