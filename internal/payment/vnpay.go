package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	vnpVersion        = "2.1.0"
	vnpCommand        = "pay"
	vnpCurrency       = "VND"
	vnpOrderType      = "other"
	vnpLocale         = "vn"
	vnpTimeLayout     = "20060102150405"
	vnpSuccessCode    = "00"
	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"
)

// vnpZone is the gateway's wall clock (GMT+7).
var vnpZone = time.FixedZone("ICT", 7*60*60)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// VNPay signs a sorted, form-encoded query string with HMAC-SHA512.
type VNPay struct {
	cfg VNPayConfig
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	return &VNPay{cfg: cfg}
}

func (g *VNPay) Name() string { return GatewayVNPay }

// BuildRequest returns a redirect URL. vnp_TxnRef is "<orderID>_<unix>" so a
// retried payment for the same order gets a fresh reference.
func (g *VNPay) BuildRequest(_ context.Context, req OutboundRequest) (*OutboundPayment, error) {
	if req.Amount <= 0 {
		return nil, ErrAmountOutOfRange.Withf("payment: vnpay amount %d must be positive", req.Amount)
	}

	txnRef := fmt.Sprintf("%d_%d", req.OrderID, req.Now.Unix())
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	info := req.OrderInfo
	if info == "" {
		info = fmt.Sprintf("Thanh toan don hang #%d", req.OrderID)
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    vnpCommand,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   vnpCurrency,
		"vnp_TxnRef":     txnRef,
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  vnpOrderType,
		"vnp_Locale":     vnpLocale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_CreateDate": req.Now.In(vnpZone).Format(vnpTimeLayout),
		"vnp_IpAddr":     ip,
	}
	if !req.ExpiresAt.IsZero() {
		params["vnp_ExpireDate"] = req.ExpiresAt.In(vnpZone).Format(vnpTimeLayout)
	}

	query := sortedQuery(params)
	signature := hmacSHA512(g.cfg.HashSecret, query)

	return &OutboundPayment{
		Gateway:        GatewayVNPay,
		RedirectURL:    g.cfg.PayURL + "?" + query + "&" + vnpSecureHash + "=" + signature,
		RequestID:      txnRef,
		GatewayOrderID: txnRef,
		Signature:      signature,
		RawPayload:     query,
	}, nil
}

// VerifyCallback handles both the browser return and the IPN, which carry the
// same field set.
func (g *VNPay) VerifyCallback(_ context.Context, cb Callback) (*VerifiedResult, error) {
	supplied := cb.Params.Get(vnpSecureHash)
	if supplied == "" {
		return nil, ErrSignatureMismatch.Withf("payment: vnpay callback carries no signature")
	}

	signed := signedVNPayParams(cb.Params)
	raw := sortedQuery(signed)
	if !signatureEqual(hmacSHA512(g.cfg.HashSecret, raw), supplied) {
		return nil, ErrSignatureMismatch
	}

	txnRef := signed["vnp_TxnRef"]
	orderID, err := parseTxnRef(txnRef)
	if err != nil {
		return nil, err
	}
	amount, err := strconv.ParseInt(signed["vnp_Amount"], 10, 64)
	if err != nil || amount%100 != 0 {
		return nil, ErrMalformedCallback.Withf("payment: vnpay amount %q", signed["vnp_Amount"])
	}

	code := signed["vnp_ResponseCode"]
	status := signed["vnp_TransactionStatus"]
	return &VerifiedResult{
		Gateway:        GatewayVNPay,
		OrderID:        orderID,
		TransactionID:  signed["vnp_TransactionNo"],
		GatewayOrderID: txnRef,
		RequestID:      txnRef,
		Amount:         amount / 100,
		ResultCode:     code,
		Success:        code == vnpSuccessCode && (status == "" || status == vnpSuccessCode),
		Signature:      supplied,
		Raw:            raw,
	}, nil
}

// signedVNPayParams keeps the first value of every vnp_ field except the
// signature fields themselves.
func signedVNPayParams(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if !strings.HasPrefix(k, "vnp_") || k == vnpSecureHash || k == vnpSecureHashType || len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	return out
}

func parseTxnRef(ref string) (int64, error) {
	head, _, _ := strings.Cut(ref, "_")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformedCallback.Withf("payment: vnpay txn ref %q", ref)
	}
	return id, nil
}
