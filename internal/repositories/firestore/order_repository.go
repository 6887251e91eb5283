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

const ordersCollection = "orders"

type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

// CreateWithWalletDebit inserts the order and debits the owner's wallet
// inside one transaction. A failed debit aborts the insert and vice versa.
func (r *OrderRepository) CreateWithWalletDebit(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: order id is required")
	}
	if strings.TrimSpace(order.OwnerID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: owner id is required")
	}
	if req.WalletDebit < 0 {
		return repositories.OrderCreateResult{}, errors.New("order create: wallet debit must be >= 0")
	}

	now := req.Now.UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	var result repositories.OrderCreateResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}

		// All transaction reads must precede writes in Firestore.
		var balance int64
		var walletReq repositories.WalletMutationRequest
		if req.WalletDebit > 0 {
			orderID := order.ID
			walletReq = repositories.WalletMutationRequest{
				OwnerID:  order.OwnerID,
				Amount:   req.WalletDebit,
				Reason:   "order payment",
				OrderRef: &orderID,
				Now:      now,
			}
			_, balance, err = walletTxDebit(tx, client, walletReq)
			if err != nil {
				return err
			}
		}

		doc := newOrderDocument(order)
		if err := tx.Create(orderRef, doc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return pfirestore.WrapError("order.create", err)
			}
			return err
		}

		result = repositories.OrderCreateResult{
			Order:         doc.toDomain(order.ID),
			WalletBalance: balance,
		}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapOrderRepoError("order.create", err)
	}
	return result, nil
}

// Update rewrites the order inside a transaction, rejecting the write when the
// stored updatedAt has moved past the one the caller read.
func (r *OrderRepository) Update(ctx context.Context, req repositories.OrderUpdateRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		// Firestore truncates timestamps to microseconds, so compare at
		// that precision.
		expected := req.ExpectedUpdatedAt.UTC().Truncate(time.Microsecond)
		if !stored.UpdatedAt.UTC().Truncate(time.Microsecond).Equal(expected) {
			return pfirestore.NewConflictError("order.update", fmt.Errorf("order %s modified concurrently", order.ID))
		}
		return tx.Set(orderRef, newOrderDocument(order))
	})
	if err != nil {
		return wrapOrderRepoError("order.update", err)
	}
	return nil
}

// CancelWithWalletRefund flips the order to cancelled and, when a wallet
// portion was spent, credits it back in the same transaction.
func (r *OrderRepository) CancelWithWalletRefund(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order cancel: order id is required")
	}
	if req.WalletRefund < 0 {
		return domain.Order{}, errors.New("order cancel: wallet refund must be >= 0")
	}

	now := req.Now.UTC()
	var cancelled domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		// Re-check the stored status inside the transaction: only orders
		// still waiting on fulfilment may be cancelled, even if the
		// caller's read said so a moment ago.
		switch stored.Status {
		case string(domain.OrderStatusPending), string(domain.OrderStatusProcessing):
		default:
			return pfirestore.NewConflictError("order.cancel", fmt.Errorf("order %s is %s and cannot be cancelled", order.ID, stored.Status))
		}

		if req.WalletRefund > 0 {
			orderID := order.ID
			walletReq := repositories.WalletMutationRequest{
				OwnerID:  order.OwnerID,
				Amount:   req.WalletRefund,
				Reason:   "order cancellation refund",
				OrderRef: &orderID,
				Now:      now,
			}
			if _, _, err := walletTxCredit(tx, client, walletReq); err != nil {
				return err
			}
		}

		doc := newOrderDocument(order)
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		cancelled = doc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderRepoError("order.cancel", err)
	}
	return cancelled, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, wrapOrderRepoError("order.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderRepoError("order.list", err)
	}

	direction := firestore.Desc
	if filter.Sort == domain.SortAsc {
		direction = firestore.Asc
	}

	query := client.Collection(ordersCollection).Query
	if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
		query = query.Where("ownerRef", "==", owner)
	}
	if len(filter.Status) == 1 {
		query = query.Where("status", "==", filter.Status[0])
	} else if len(filter.Status) > 1 {
		query = query.Where("status", "in", filter.Status)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, direction).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderRepoError("order.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderRepoError("order.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderRepoError("order.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber  string              `firestore:"orderNumber"`
	OwnerRef     string              `firestore:"ownerRef"`
	Status       string              `firestore:"status"`
	RefundStatus string              `firestore:"refundStatus"`
	Currency     string              `firestore:"currency"`
	Pricing      orderPricingDoc     `firestore:"pricing"`
	CouponCode   *string             `firestore:"couponCode,omitempty"`
	Items        []orderLineItemDoc  `firestore:"items"`
	Shipping     orderAddressDoc     `firestore:"shippingAddress"`
	PaymentRef   *string             `firestore:"paymentRef,omitempty"`
	CancelReason *string             `firestore:"cancelReason,omitempty"`
	Metadata     map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
	ProcessingAt *time.Time          `firestore:"processingAt,omitempty"`
	ShippedAt    *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt  *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt  *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderPricingDoc struct {
	Subtotal      int64 `firestore:"subtotal"`
	Discount      int64 `firestore:"discount"`
	Shipping      int64 `firestore:"shipping"`
	Tax           int64 `firestore:"tax"`
	WalletApplied int64 `firestore:"walletApplied"`
	Total         int64 `firestore:"total"`
}

type orderLineItemDoc struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	Category   string `firestore:"category"`
	Size       string `firestore:"size,omitempty"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

type orderAddressDoc struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderLineItemDoc, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderLineItemDoc{
			ProductRef: strings.TrimSpace(item.ProductID),
			Name:       strings.TrimSpace(item.Name),
			Category:   strings.TrimSpace(item.Category),
			Size:       strings.TrimSpace(item.Size),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return orderDocument{
		OrderNumber:  strings.TrimSpace(order.OrderNumber),
		OwnerRef:     strings.TrimSpace(order.OwnerID),
		Status:       string(order.Status),
		RefundStatus: string(order.RefundStatus),
		Currency:     strings.TrimSpace(order.Currency),
		Pricing: orderPricingDoc{
			Subtotal:      order.Pricing.Subtotal,
			Discount:      order.Pricing.Discount,
			Shipping:      order.Pricing.Shipping,
			Tax:           order.Pricing.Tax,
			WalletApplied: order.Pricing.WalletApplied,
			Total:         order.Pricing.Total,
		},
		CouponCode:   order.CouponCode,
		Items:        items,
		Shipping:     newOrderAddressDoc(order.ShippingAddress),
		PaymentRef:   order.PaymentRef,
		CancelReason: order.CancelReason,
		Metadata:     order.Metadata,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		ProcessingAt: order.ProcessingAt,
		ShippedAt:    order.ShippedAt,
		DeliveredAt:  order.DeliveredAt,
		CancelledAt:  order.CancelledAt,
	}
}

func newOrderAddressDoc(addr domain.Address) orderAddressDoc {
	return orderAddressDoc{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      addr.Phone,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductID: item.ProductRef,
			Name:      item.Name,
			Category:  item.Category,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return domain.Order{
		ID:           id,
		OrderNumber:  d.OrderNumber,
		OwnerID:      d.OwnerRef,
		Status:       domain.OrderStatus(d.Status),
		RefundStatus: domain.RefundStatus(d.RefundStatus),
		Currency:     d.Currency,
		Pricing: domain.PriceBreakdown{
			Currency:      d.Currency,
			Subtotal:      d.Pricing.Subtotal,
			Discount:      d.Pricing.Discount,
			Shipping:      d.Pricing.Shipping,
			Tax:           d.Pricing.Tax,
			WalletApplied: d.Pricing.WalletApplied,
			Total:         d.Pricing.Total,
		},
		CouponCode: d.CouponCode,
		Items:      items,
		ShippingAddress: domain.Address{
			Recipient:  d.Shipping.Recipient,
			Line1:      d.Shipping.Line1,
			Line2:      d.Shipping.Line2,
			City:       d.Shipping.City,
			State:      d.Shipping.State,
			PostalCode: d.Shipping.PostalCode,
			Country:    d.Shipping.Country,
			Phone:      d.Shipping.Phone,
		},
		PaymentRef:   d.PaymentRef,
		CancelReason: d.CancelReason,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ProcessingAt: d.ProcessingAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		CancelledAt:  d.CancelledAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderRepoError(op string, err error) error {
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
