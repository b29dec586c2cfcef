// internal/provider/provider.go
package provider

import (
	"context"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

// Gateway is the mobile-money collection gateway behind STK push.
type Gateway interface {
	// STKPush asks the customer's handset to approve req. It returns once the
	// gateway has accepted the request, not when the payment settles.
	STKPush(ctx context.Context, req domain.PaymentRequest, callbackURL string) (*domain.CheckoutSession, error)

	// STKQuery asks the gateway for the final result of an earlier push.
	STKQuery(ctx context.Context, checkoutRequestID string) (*QueryResult, error)
}

// QueryResult is the gateway's answer to a status query.
type QueryResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
}

func (q *QueryResult) Status() domain.Status {
	return domain.StatusForResultCode(q.ResultCode)
}
