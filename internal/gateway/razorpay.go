package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"paidquiz-service/internal/domain"
)

// Razorpay is the live gateway adapter. Orders are created through the
// Razorpay SDK; callbacks are verified with the documented
// HMAC-SHA256(orderID|paymentID) scheme.
type Razorpay struct {
	client  *razorpay.Client
	secret  string
	timeout time.Duration
}

func NewRazorpay(keyID, keySecret string, timeout time.Duration) *Razorpay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Razorpay{
		client:  razorpay.NewClient(keyID, keySecret),
		secret:  keySecret,
		timeout: timeout,
	}
}

// CreateOrder creates a capture-on-payment order for the given minor-unit
// amount. The SDK call is bounded by the adapter timeout; expiry or any SDK
// error surfaces as domain.ErrGatewayUnavailable and leaves the submission
// retriable.
func (g *Razorpay) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := g.client.Order.Create(map[string]interface{}{
			"amount":          amountPaise,
			"currency":        currency,
			"receipt":         receipt,
			"payment_capture": 1,
		}, nil)
		if err != nil {
			ch <- result{err: err}
			return
		}
		id, _ := body["id"].(string)
		if id == "" {
			ch <- result{err: fmt.Errorf("order id missing in gateway response")}
			return
		}
		ch <- result{id: id}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, res.err)
		}
		return res.id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
	}
}

// VerifySignature checks the callback signature Razorpay computes over
// "orderID|paymentID" with the key secret.
func (g *Razorpay) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
