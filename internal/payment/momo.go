package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

const (
	momoRequestType = "captureWallet"
	momoCreatePath  = "/v2/gateway/api/create"
	momoMinAmount   = 1000
	momoMaxAmount   = 100000000
)

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IpnURL      string
}

// MoMo signs a fixed, gateway-ordered field list with HMAC-SHA256 and creates
// payments through a JSON API.
type MoMo struct {
	cfg     MoMoConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*momoCreateResponse]
}

func NewMoMo(cfg MoMoConfig, client *http.Client) *MoMo {
	return &MoMo{
		cfg:     cfg,
		client:  client,
		breaker: util.NewCircuitBreaker[*momoCreateResponse]("momo-create"),
	}
}

func (g *MoMo) Name() string { return GatewayMoMo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	PartnerCode  string `json:"partnerCode"`
	RequestID    string `json:"requestId"`
	OrderID      string `json:"orderId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink"`
	QRCodeURL    string `json:"qrCodeUrl"`
}

// momoNotification is the IPN body; the browser return carries the same
// fields as query parameters.
type momoNotification struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func (g *MoMo) BuildRequest(ctx context.Context, req OutboundRequest) (*OutboundPayment, error) {
	ctx, span := util.StartSpan(ctx, "MoMo.BuildRequest")
	defer span.End()

	if req.Amount < momoMinAmount || req.Amount > momoMaxAmount {
		return nil, ErrAmountOutOfRange.Withf("payment: momo amount %d outside [%d, %d]", req.Amount, momoMinAmount, momoMaxAmount)
	}

	info := req.OrderInfo
	if info == "" {
		info = fmt.Sprintf("Thanh toan don hang #%d", req.OrderID)
	}
	body := momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		AccessKey:   g.cfg.AccessKey,
		RequestID:   uuid.New().String(),
		Amount:      req.Amount,
		OrderID:     fmt.Sprintf("MOMO%d", req.Now.UnixNano()),
		OrderInfo:   info,
		RedirectURL: g.cfg.RedirectURL,
		IpnURL:      g.cfg.IpnURL,
		ExtraData:   encodeExtraData(req.OrderID),
		RequestType: momoRequestType,
		Lang:        "vi",
	}
	raw := g.createRaw(body)
	body.Signature = hmacSHA256(g.cfg.SecretKey, raw)

	resp, err := g.breaker.Execute(func() (*momoCreateResponse, error) {
		return g.create(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrGatewayUnavailable.Wrap(err)
		}
		return nil, err
	}
	if resp.ResultCode != 0 || resp.PayURL == "" {
		return nil, ErrGatewayRejected.Withf("payment: momo rejected order %d: %d %s", req.OrderID, resp.ResultCode, resp.Message)
	}

	return &OutboundPayment{
		Gateway:        GatewayMoMo,
		RedirectURL:    resp.PayURL,
		QRCodeURL:      resp.QRCodeURL,
		Deeplink:       resp.Deeplink,
		RequestID:      body.RequestID,
		GatewayOrderID: body.OrderID,
		Signature:      body.Signature,
		RawPayload:     raw,
	}, nil
}

func (g *MoMo) create(ctx context.Context, body momoCreateRequest) (*momoCreateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal momo request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.Endpoint, "/")+momoCreatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build momo request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return nil, ErrGatewayUnavailable.Wrap(err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, ErrGatewayUnavailable.Wrap(err)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, ErrGatewayUnavailable.Withf("payment: momo returned HTTP %d", res.StatusCode)
	}

	var out momoCreateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, ErrGatewayUnavailable.Withf("payment: momo returned malformed body").Wrap(err)
	}
	return &out, nil
}

func (g *MoMo) VerifyCallback(_ context.Context, cb Callback) (*VerifiedResult, error) {
	n, err := parseMoMoNotification(cb)
	if err != nil {
		return nil, err
	}
	if n.Signature == "" {
		return nil, ErrSignatureMismatch.Withf("payment: momo callback carries no signature")
	}

	raw := g.notificationRaw(n)
	if !signatureEqual(hmacSHA256(g.cfg.SecretKey, raw), n.Signature) {
		return nil, ErrSignatureMismatch
	}

	orderID, err := decodeExtraData(n.ExtraData)
	if err != nil {
		return nil, err
	}

	return &VerifiedResult{
		Gateway:        GatewayMoMo,
		OrderID:        orderID,
		TransactionID:  strconv.FormatInt(n.TransID, 10),
		GatewayOrderID: n.OrderID,
		RequestID:      n.RequestID,
		Amount:         n.Amount,
		ResultCode:     strconv.Itoa(n.ResultCode),
		Message:        n.Message,
		Success:        n.ResultCode == 0,
		Signature:      n.Signature,
		Raw:            raw,
	}, nil
}

func (g *MoMo) createRaw(r momoCreateRequest) string {
	return orderedRaw([]field{
		{"accessKey", g.cfg.AccessKey},
		{"amount", strconv.FormatInt(r.Amount, 10)},
		{"extraData", r.ExtraData},
		{"ipnUrl", r.IpnURL},
		{"orderId", r.OrderID},
		{"orderInfo", r.OrderInfo},
		{"partnerCode", r.PartnerCode},
		{"redirectUrl", r.RedirectURL},
		{"requestId", r.RequestID},
		{"requestType", r.RequestType},
	})
}

func (g *MoMo) notificationRaw(n *momoNotification) string {
	return orderedRaw([]field{
		{"accessKey", g.cfg.AccessKey},
		{"amount", strconv.FormatInt(n.Amount, 10)},
		{"extraData", n.ExtraData},
		{"message", n.Message},
		{"orderId", n.OrderID},
		{"orderInfo", n.OrderInfo},
		{"orderType", n.OrderType},
		{"partnerCode", n.PartnerCode},
		{"payType", n.PayType},
		{"requestId", n.RequestID},
		{"responseTime", strconv.FormatInt(n.ResponseTime, 10)},
		{"resultCode", strconv.Itoa(n.ResultCode)},
		{"transId", strconv.FormatInt(n.TransID, 10)},
	})
}

func parseMoMoNotification(cb Callback) (*momoNotification, error) {
	var n momoNotification
	if len(cb.Body) > 0 {
		if err := json.Unmarshal(cb.Body, &n); err != nil {
			return nil, ErrMalformedCallback.Withf("payment: momo webhook body").Wrap(err)
		}
		return &n, nil
	}

	p := cb.Params
	ints := map[string]*int64{"amount": &n.Amount, "transId": &n.TransID, "responseTime": &n.ResponseTime}
	for key, dst := range ints {
		v, err := strconv.ParseInt(p.Get(key), 10, 64)
		if err != nil {
			return nil, ErrMalformedCallback.Withf("payment: momo %s %q", key, p.Get(key))
		}
		*dst = v
	}
	code, err := strconv.Atoi(p.Get("resultCode"))
	if err != nil {
		return nil, ErrMalformedCallback.Withf("payment: momo resultCode %q", p.Get("resultCode"))
	}
	n.ResultCode = code
	n.PartnerCode = p.Get("partnerCode")
	n.OrderID = p.Get("orderId")
	n.RequestID = p.Get("requestId")
	n.OrderInfo = p.Get("orderInfo")
	n.OrderType = p.Get("orderType")
	n.Message = p.Get("message")
	n.PayType = p.Get("payType")
	n.ExtraData = p.Get("extraData")
	n.Signature = p.Get("signature")
	return &n, nil
}

// encodeExtraData carries our order id through the gateway untouched.
func encodeExtraData(orderID int64) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(orderID, 10)))
}

func decodeExtraData(extra string) (int64, error) {
	b, err := base64.StdEncoding.DecodeString(extra)
	if err != nil {
		return 0, ErrMalformedCallback.Withf("payment: momo extraData %q", extra)
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformedCallback.Withf("payment: momo extraData %q", extra)
	}
	return id, nil
}
