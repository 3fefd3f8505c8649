package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/shipping"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeGateway accepts callbacks whose "sig" parameter is "valid".
type fakeGateway struct {
	name     string
	buildErr error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) BuildRequest(_ context.Context, req payment.OutboundRequest) (*payment.OutboundPayment, error) {
	if g.buildErr != nil {
		return nil, g.buildErr
	}
	ref := strconv.FormatInt(req.OrderID, 10) + "_" + strconv.FormatInt(req.Now.Unix(), 10)
	return &payment.OutboundPayment{
		Gateway:        g.name,
		RedirectURL:    "https://pay.example/" + ref,
		RequestID:      ref,
		GatewayOrderID: ref,
		Signature:      "sig",
		RawPayload:     "amount=" + strconv.FormatInt(req.Amount, 10),
	}, nil
}

func (g *fakeGateway) VerifyCallback(_ context.Context, cb payment.Callback) (*payment.VerifiedResult, error) {
	if cb.Params.Get("sig") != "valid" {
		return nil, payment.ErrSignatureMismatch
	}
	orderID, err := strconv.ParseInt(cb.Params.Get("order"), 10, 64)
	if err != nil {
		return nil, payment.ErrMalformedCallback
	}
	amount, _ := strconv.ParseInt(cb.Params.Get("amount"), 10, 64)
	code := cb.Params.Get("code")
	return &payment.VerifiedResult{
		Gateway:        g.name,
		OrderID:        orderID,
		TransactionID:  cb.Params.Get("txn"),
		GatewayOrderID: cb.Params.Get("ref"),
		Amount:         amount,
		ResultCode:     code,
		Success:        code == "00",
		Signature:      "valid",
	}, nil
}

type fixture struct {
	store    *memStore
	pub      *recordingPublisher
	notes    *recordingNotifier
	quoter   *stubQuoter
	locker   *memLocker
	markers  *memMarkers
	gateway  *fakeGateway
	cart     *CartService
	checkout *CheckoutService
	recon    *ReconciliationService
	payments *PaymentService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   newMemStore(),
		pub:     &recordingPublisher{},
		notes:   &recordingNotifier{},
		quoter:  &stubQuoter{quote: &shipping.Quote{DistanceKm: 2.5, Fee: 20000}},
		locker:  &memLocker{},
		markers: &memMarkers{},
		gateway: &fakeGateway{name: payment.GatewayVNPay},
		now:     time.Now(),
	}
	clock := func() time.Time { return f.now }
	notices := OrderNotices{AdminChannel: "admins", LinkFormat: "/orders/%d"}
	registry := payment.NewRegistry(f.gateway, payment.NewCOD())

	f.cart = NewCartService(f.store)
	f.cart.now = clock

	f.checkout = NewCheckoutService(f.store, f.locker, f.quoter, f.pub, f.notes, CheckoutConfig{
		PointValue: 1000,
		LockTTL:    30 * time.Second,
		Notices:    notices,
	})
	f.checkout.now = clock

	f.recon = NewReconciliationService(f.store, registry, f.markers, f.pub, f.notes, ReconciliationConfig{
		PaymentExpiry:  15 * time.Minute,
		PointsEarnUnit: 100000,
		MarkerTTL:      time.Hour,
		Notices:        notices,
	})
	f.recon.now = clock

	f.payments = NewPaymentService(f.store, registry, f.recon, 15*time.Minute)
	f.payments.now = clock
	return f
}

// seedCart creates a user and a 500,000 cart: two units at 250,000.
func (f *fixture) seedCart(t *testing.T, points int) (userID, productID int64) {
	t.Helper()
	userID = f.store.addUser("Lan", points)
	productID = f.store.addProduct(models.Product{Name: "Ao dai", Price: 250000, Stock: 10})
	_, err := f.cart.AddItem(context.Background(), userID, productID, 2, false)
	require.NoError(t, err)
	return userID, productID
}

func (f *fixture) addVoucher(code string, kind models.VoucherKind, amount int64, start, end time.Time) {
	f.store.addVoucher(models.Voucher{
		Code:      code,
		Kind:      kind,
		Amount:    decimal.NewFromInt(amount),
		StartDate: start,
		EndDate:   end,
		Active:    true,
	})
}

func (f *fixture) placeOrder(t *testing.T, method models.PaymentMethod, usePoints bool) (*CheckoutResponse, int64, int64) {
	t.Helper()
	userID, productID := f.seedCart(t, 100)
	resp, err := f.checkout.Checkout(context.Background(), &CheckoutRequest{
		UserID:        userID,
		PaymentMethod: method,
		UsePoints:     usePoints,
	})
	require.NoError(t, err)
	return resp, userID, productID
}
