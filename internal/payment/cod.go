package payment

import (
	"context"
	"strconv"
)

// COD settles on delivery, so there is nothing to sign and no callback.
type COD struct{}

func NewCOD() *COD { return &COD{} }

func (COD) Name() string { return GatewayCOD }

func (COD) BuildRequest(_ context.Context, req OutboundRequest) (*OutboundPayment, error) {
	ref := "COD-" + strconv.FormatInt(req.OrderID, 10)
	return &OutboundPayment{Gateway: GatewayCOD, RequestID: ref, GatewayOrderID: ref}, nil
}

func (COD) VerifyCallback(context.Context, Callback) (*VerifiedResult, error) {
	return nil, ErrNoCallback
}
