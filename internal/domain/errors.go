package domain

import "errors"

var (
	// ErrValidation is returned when required registration fields are missing.
	ErrValidation = errors.New("invalid submission input")
	// ErrInvalidPricing indicates a negative price or a discount outside [0,100].
	ErrInvalidPricing = errors.New("invalid pricing input")
	// ErrCouponNotFound indicates the coupon code does not exist.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponUsed indicates the coupon was already redeemed.
	ErrCouponUsed = errors.New("coupon already used")
	// ErrGatewayUnavailable indicates order creation at the payment gateway failed.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSignatureInvalid indicates a payment callback failed verification.
	ErrSignatureInvalid = errors.New("payment signature invalid")
	// ErrPaymentRequired blocks quiz access until the submission is paid.
	ErrPaymentRequired = errors.New("payment required")
	// ErrTestNotFound indicates the test does not exist.
	ErrTestNotFound = errors.New("test not found")
	// ErrSubmissionNotFound indicates the submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrInvalidTransition indicates an operation that is not legal from the
	// submission's current status.
	ErrInvalidTransition = errors.New("invalid submission state transition")
)
