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
)

const couponsCollection = "coupons"

// CouponRepository stores coupon definitions keyed by the upper-cased code,
// which gives case-insensitive uniqueness for free.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	coupons := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	return &CouponRepository{provider: provider, coupons: coupons}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	code := normaliseCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon insert: code is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		doc := newCouponDocument(coupon)
		if err := tx.Create(ref, doc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return pfirestore.NewConflictError("coupon.insert", fmt.Errorf("coupon %s already exists", code))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("coupon.insert", err)
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	if code == "" {
		return errors.New("coupon delete: code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("coupon.delete", err)
	}
	ref := client.Collection(couponsCollection).Doc(code)
	if _, err := ref.Get(ctx); err != nil {
		return pfirestore.WrapError("coupon.delete", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("coupon.delete", err)
	}
	return nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon find: code is required")
	}
	doc, err := r.coupons.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupon.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CouponRepository) List(ctx context.Context, filter domain.CouponFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupon.list", err)
	}

	query := client.Collection(couponsCollection).Query
	if scope := strings.TrimSpace(filter.Scope); scope != "" {
		query = query.Where("scope", "==", scope)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCouponPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupon.list", err)
		}
		query = query.StartAfter(decoded.Code)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var coupons []domain.Coupon
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupon.list", err)
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("decode coupon %s: %w", snap.Ref.ID, err)
		}
		coupons = append(coupons, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(coupons) > pageSize
	if hasMore {
		coupons = coupons[:pageSize]
	}
	var nextToken string
	if hasMore && len(coupons) > 0 {
		encoded, err := encodeCouponPageToken(couponPageToken{Code: coupons[len(coupons)-1].Code})
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupon.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Coupon]{
		Items:         coupons,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type couponDocument struct {
	DiscountType string    `firestore:"discountType"`
	Value        int64     `firestore:"value"`
	Scope        string    `firestore:"scope"`
	ExpiresAt    time.Time `firestore:"expiresAt"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		DiscountType: string(coupon.DiscountType),
		Value:        coupon.Value,
		Scope:        strings.TrimSpace(coupon.Scope),
		ExpiresAt:    coupon.ExpiresAt.UTC(),
		CreatedAt:    coupon.CreatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	return domain.Coupon{
		Code:         code,
		DiscountType: domain.DiscountType(d.DiscountType),
		Value:        d.Value,
		Scope:        d.Scope,
		ExpiresAt:    d.ExpiresAt,
		CreatedAt:    d.CreatedAt,
	}
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type couponPageToken struct {
	Code string
}

func encodeCouponPageToken(token couponPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode coupon page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeCouponPageToken(encoded string) (*couponPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode coupon page token: %w", err)
	}
	var token couponPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode coupon page token json: %w", err)
	}
	return &token, nil
}
