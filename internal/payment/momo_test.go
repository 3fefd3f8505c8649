package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMoMoSecret = "MOMOSECRET"

func newTestMoMo(endpoint string) *MoMo {
	return NewMoMo(MoMoConfig{
		PartnerCode: "MOMOPC",
		AccessKey:   "ACCESS",
		SecretKey:   testMoMoSecret,
		Endpoint:    endpoint,
		RedirectURL: "https://shop.vn/return",
		IpnURL:      "https://shop.vn/ipn",
	}, &http.Client{Timeout: 2 * time.Second})
}

func TestMoMoBuildRequest(t *testing.T) {
	var got momoCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, momoCreatePath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": 0,
			"message":    "Successful.",
			"payUrl":     "https://test-payment.momo.vn/pay/abc",
			"qrCodeUrl":  "momo://qr/abc",
			"deeplink":   "momo://app/abc",
		})
	}))
	defer srv.Close()

	out, err := newTestMoMo(srv.URL).BuildRequest(context.Background(), OutboundRequest{
		OrderID:   42,
		Amount:    470000,
		OrderInfo: "Order 42",
		Now:       time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", out.RedirectURL)
	assert.Equal(t, "momo://qr/abc", out.QRCodeURL)
	assert.Equal(t, "MOMO1700000000000000000", out.GatewayOrderID)

	assert.Equal(t, "MOMOPC", got.PartnerCode)
	assert.Equal(t, int64(470000), got.Amount)
	assert.Equal(t, "NDI=", got.ExtraData)
	assert.Equal(t, "captureWallet", got.RequestType)
	assert.Equal(t, "vi", got.Lang)

	raw := "accessKey=ACCESS&amount=470000&extraData=NDI=&ipnUrl=https://shop.vn/ipn" +
		"&orderId=" + got.OrderID + "&orderInfo=Order 42&partnerCode=MOMOPC" +
		"&redirectUrl=https://shop.vn/return&requestId=" + got.RequestID + "&requestType=captureWallet"
	assert.Equal(t, raw, out.RawPayload)
	assert.Equal(t, hmacSHA256(testMoMoSecret, raw), got.Signature)
}

func TestMoMoBuildRequestAmountLimits(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	g := newTestMoMo(srv.URL)
	for _, amount := range []int64{0, 999, 100000001} {
		_, err := g.BuildRequest(context.Background(), OutboundRequest{OrderID: 1, Amount: amount, Now: time.Now()})
		assert.ErrorIs(t, err, ErrAmountOutOfRange, amount)
	}
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestMoMoBuildRequestRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"resultCode":11,"message":"Access denied"}`))
	}))
	defer srv.Close()

	_, err := newTestMoMo(srv.URL).BuildRequest(context.Background(), OutboundRequest{OrderID: 1, Amount: 50000, Now: time.Now()})
	assert.ErrorIs(t, err, ErrGatewayRejected)
}

func TestMoMoBuildRequestUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestMoMo(srv.URL).BuildRequest(context.Background(), OutboundRequest{OrderID: 1, Amount: 50000, Now: time.Now()})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestMoMoBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestMoMo(srv.URL)
	for i := 0; i < 8; i++ {
		_, err := g.BuildRequest(context.Background(), OutboundRequest{OrderID: 1, Amount: 50000, Now: time.Now()})
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func signedMoMoNotification(g *MoMo, n momoNotification) momoNotification {
	n.Signature = hmacSHA256(testMoMoSecret, g.notificationRaw(&n))
	return n
}

func successNotification() momoNotification {
	return momoNotification{
		PartnerCode:  "MOMOPC",
		OrderID:      "MOMO1700000000000000000",
		RequestID:    "req-1",
		Amount:       470000,
		OrderInfo:    "Order 42",
		OrderType:    "momo_wallet",
		TransID:      4088878653,
		ResultCode:   0,
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: 1700000100000,
		ExtraData:    encodeExtraData(42),
	}
}

func TestMoMoVerifyWebhook(t *testing.T) {
	g := newTestMoMo("")
	body, err := json.Marshal(signedMoMoNotification(g, successNotification()))
	require.NoError(t, err)

	res, err := g.VerifyCallback(context.Background(), Callback{Body: body})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int64(42), res.OrderID)
	assert.Equal(t, "4088878653", res.TransactionID)
	assert.Equal(t, int64(470000), res.Amount)
	assert.Equal(t, "MOMO1700000000000000000", res.GatewayOrderID)
}

func TestMoMoVerifyReturnQuery(t *testing.T) {
	g := newTestMoMo("")
	n := signedMoMoNotification(g, successNotification())

	params := url.Values{}
	params.Set("partnerCode", n.PartnerCode)
	params.Set("orderId", n.OrderID)
	params.Set("requestId", n.RequestID)
	params.Set("amount", strconv.FormatInt(n.Amount, 10))
	params.Set("orderInfo", n.OrderInfo)
	params.Set("orderType", n.OrderType)
	params.Set("transId", strconv.FormatInt(n.TransID, 10))
	params.Set("resultCode", "0")
	params.Set("message", n.Message)
	params.Set("payType", n.PayType)
	params.Set("responseTime", strconv.FormatInt(n.ResponseTime, 10))
	params.Set("extraData", n.ExtraData)
	params.Set("signature", n.Signature)

	res, err := g.VerifyCallback(context.Background(), Callback{Params: params})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(42), res.OrderID)
}

func TestMoMoVerifyRejectsTampering(t *testing.T) {
	g := newTestMoMo("")
	tamper := map[string]func(*momoNotification){
		"amount":    func(n *momoNotification) { n.Amount = 1000 },
		"message":   func(n *momoNotification) { n.Message = "ok" },
		"extraData": func(n *momoNotification) { n.ExtraData = encodeExtraData(43) },
		"transId":   func(n *momoNotification) { n.TransID++ },
	}

	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			n := signedMoMoNotification(g, successNotification())
			mutate(&n)
			body, _ := json.Marshal(n)

			res, err := g.VerifyCallback(context.Background(), Callback{Body: body})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrSignatureMismatch)
		})
	}
}

func TestMoMoVerifyFailureResult(t *testing.T) {
	g := newTestMoMo("")
	n := successNotification()
	n.ResultCode = 1006
	n.Message = "Transaction denied by user."
	body, _ := json.Marshal(signedMoMoNotification(g, n))

	res, err := g.VerifyCallback(context.Background(), Callback{Body: body})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "1006", res.ResultCode)
}

func TestMoMoVerifyMalformed(t *testing.T) {
	g := newTestMoMo("")

	_, err := g.VerifyCallback(context.Background(), Callback{Body: []byte("{not json")})
	assert.ErrorIs(t, err, ErrMalformedCallback)

	n := successNotification()
	n.ExtraData = "!!!"
	body, _ := json.Marshal(signedMoMoNotification(g, n))
	_, err = g.VerifyCallback(context.Background(), Callback{Body: body})
	assert.ErrorIs(t, err, ErrMalformedCallback)

	_, err = g.VerifyCallback(context.Background(), Callback{Params: url.Values{"amount": {"x"}}})
	assert.ErrorIs(t, err, ErrMalformedCallback)
}
