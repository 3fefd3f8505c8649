// Package payment builds signed outbound payment requests and verifies signed
// inbound callbacks for each supported gateway.
package payment

import (
	"context"
	"net/url"
	"strings"
	"time"

	"checkout-service/internal/apperr"
)

const (
	GatewayCOD   = "cod"
	GatewayVNPay = "vnpay"
	GatewayMoMo  = "momo"
)

var (
	// ErrSignatureMismatch rejects a callback whose MAC does not match the canonical string.
	ErrSignatureMismatch = apperr.New(apperr.KindSignature, "signature_mismatch", "payment: signature mismatch")
	// ErrMalformedCallback indicates required callback fields are missing or unparseable.
	ErrMalformedCallback = apperr.New(apperr.KindValidation, "malformed_callback", "payment: malformed callback")
	// ErrAmountOutOfRange indicates the order total falls outside the gateway's limits.
	ErrAmountOutOfRange = apperr.New(apperr.KindValidation, "amount_out_of_range", "payment: amount out of gateway range")
	// ErrGatewayUnavailable indicates the gateway could not be reached or answered garbage.
	ErrGatewayUnavailable = apperr.New(apperr.KindExternal, "gateway_unavailable", "payment: gateway unavailable")
	// ErrGatewayRejected indicates the gateway refused to create the payment.
	ErrGatewayRejected = apperr.New(apperr.KindExternal, "gateway_rejected", "payment: gateway rejected request")
	// ErrUnsupportedGateway is returned when the registry has no gateway under the name.
	ErrUnsupportedGateway = apperr.New(apperr.KindValidation, "unsupported_gateway", "payment: unsupported gateway")
	// ErrNoCallback is returned by gateways that settle offline.
	ErrNoCallback = apperr.New(apperr.KindValidation, "no_callback", "payment: gateway does not accept callbacks")
)

// OutboundRequest is the order data a gateway needs to start a payment.
type OutboundRequest struct {
	OrderID   int64
	Amount    int64
	OrderInfo string
	ClientIP  string
	Now       time.Time
	ExpiresAt time.Time
}

// OutboundPayment is what the customer is sent to. RawPayload and Signature
// are kept for the audit trail.
type OutboundPayment struct {
	Gateway        string `json:"gateway"`
	RedirectURL    string `json:"redirect_url,omitempty"`
	QRCodeURL      string `json:"qr_code_url,omitempty"`
	Deeplink       string `json:"deeplink,omitempty"`
	RequestID      string `json:"request_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Signature      string `json:"-"`
	RawPayload     string `json:"-"`
}

// Callback is an inbound gateway message. Query-string callbacks fill Params,
// JSON webhooks fill Body.
type Callback struct {
	Params url.Values
	Body   []byte
}

// VerifiedResult is only produced after the signature has been checked.
type VerifiedResult struct {
	Gateway        string
	OrderID        int64
	TransactionID  string
	GatewayOrderID string
	RequestID      string
	Amount         int64
	ResultCode     string
	Message        string
	Success        bool
	Signature      string
	Raw            string
}

// Gateway is implemented once per payment method.
type Gateway interface {
	Name() string
	BuildRequest(ctx context.Context, req OutboundRequest) (*OutboundPayment, error)
	VerifyCallback(ctx context.Context, cb Callback) (*VerifiedResult, error)
}

// Registry resolves gateways by case-insensitive name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[strings.ToLower(g.Name())] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnsupportedGateway.Withf("payment: unsupported gateway %q", name)
	}
	return g, nil
}
