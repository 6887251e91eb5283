package services

import "errors"

var (
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
	// ErrCouponInvalidInput signals a malformed coupon code or admin payload.
	ErrCouponInvalidInput = errors.New("coupon service: invalid input")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponExpired indicates the coupon exists but its expiry has passed.
	ErrCouponExpired = errors.New("coupon service: coupon expired")
	// ErrCouponNotApplicable indicates a category-scoped coupon matches no cart line.
	ErrCouponNotApplicable = errors.New("coupon service: coupon not applicable to cart")
	// ErrCouponAlreadyExists indicates an admin tried to create a duplicate code.
	ErrCouponAlreadyExists = errors.New("coupon service: coupon already exists")
)
