package app

import (
	"context"

	"paidquiz-service/internal/domain"
)

// Store is the durable collection of tests, submissions, and coupons.
type Store interface {
	CreateTest(ctx context.Context, test domain.Test) error
	GetTest(ctx context.Context, id string) (domain.Test, error)
	ListTests(ctx context.Context) ([]domain.Test, error)

	CreateSubmission(ctx context.Context, sub domain.Submission) error
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	ListSubmissions(ctx context.Context, testID string) ([]domain.Submission, error)

	// UpdateSubmission runs fn against the current submission record under an
	// exclusive lock and commits the mutated record together with any coupon
	// side effects performed through the UpdateTx. If fn returns an error
	// nothing is written.
	UpdateSubmission(ctx context.Context, id string, fn func(*domain.Submission, UpdateTx) error) (domain.Submission, error)

	GetCoupon(ctx context.Context, code string) (domain.Coupon, error)
	ListCoupons(ctx context.Context) ([]domain.Coupon, error)
}

// UpdateTx exposes the coupon ledger and submission reads inside an atomic
// submission update. Implementations stage writes until the surrounding
// update commits.
type UpdateTx interface {
	// Submission reads another submission record (referrer lookups).
	Submission(id string) (domain.Submission, bool)
	// Coupon looks a coupon up without consuming it.
	Coupon(code string) (domain.Coupon, bool)
	// RedeemCoupon marks a coupon used. Fails with domain.ErrCouponNotFound
	// or domain.ErrCouponUsed.
	RedeemCoupon(code string) (domain.Coupon, error)
	// IssueCoupon creates a coupon for the (owner, referred) pair, or returns
	// the existing one without a new write. This conditional insert is the
	// sole de-duplication guard for referral rewards.
	IssueCoupon(ownerSubmissionID, referredSubmissionID string, discountPercent float64) (domain.Coupon, error)
}

// TestRepository serves test content, typically through a cache in front of
// the store.
type TestRepository interface {
	GetTest(ctx context.Context, id string) (domain.Test, error)
}

// Gateway is the payment capability the state machine depends on. The live
// implementation talks to Razorpay; the demo implementation never creates
// orders and accepts every signature.
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (string, error)
	VerifySignature(orderID, paymentID, signature string) bool
}
