package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	auth    Authorization
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	f.lastOp = "authorize"
	return f.auth, f.err
}

func (f *fakeProvider) Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error) {
	f.lastOp = "capture"
	return f.payment, f.err
}

func (f *fakeProvider) Void(ctx context.Context, req VoidRequest) (PaymentDetails, error) {
	f.lastOp = "void"
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerAuthorizeUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{auth: Authorization{IntentID: "pi_stripe"}}
	paypal := &fakeProvider{auth: Authorization{IntentID: "pi_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	auth, err := mgr.Authorize(ctx, PaymentContext{PreferredProvider: "paypal"}, AuthorizeRequest{Amount: 1000, Currency: "USD"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if auth.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", auth.Provider)
	}
	if paypal.lastOp != "authorize" {
		t.Fatalf("expected paypal provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{auth: Authorization{IntentID: "pi_stripe"}}
	paypal := &fakeProvider{auth: Authorization{IntentID: "pi_paypal"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"paypal": paypal,
		},
		WithCurrencyRoutes(map[string]string{"JPY": "paypal"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	auth, err := mgr.Authorize(ctx, PaymentContext{Currency: "JPY"}, AuthorizeRequest{Amount: 1000, Currency: "JPY"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", auth.Provider)
	}
	if paypal.lastOp != "authorize" {
		t.Fatalf("expected paypal provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Void(ctx, PaymentContext{}, VoidRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if stripe.lastOp != "void" {
		t.Fatalf("expected void to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Authorize(ctx, PaymentContext{PreferredProvider: "unknown"}, AuthorizeRequest{Amount: 500, Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
