package domain

import "time"

// Status tracks where a submission sits in its lifecycle.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaymentSkipped Status = "PAYMENT_SKIPPED"
	StatusPaid           Status = "PAID"
	StatusAnswered       Status = "ANSWERED"
	StatusScored         Status = "SCORED"
)

// ReferralDiscountPercent is awarded to a referrer once the referred
// student's payment completes.
const ReferralDiscountPercent = 50.0

// Question is a single MCQ entry of a test's question bank.
// Ordinal is 1-based and defines answer-key indexing.
type Question struct {
	Ordinal int               `json:"ordinal"`
	Prompt  string            `json:"prompt"`
	Options map[string]string `json:"options"` // labels A-D
	Answer  string            `json:"answer"`  // correct label
}

// Test is a published quiz with a base price. Immutable once created
// except by administrative replace.
type Test struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	PriceINR  float64    `json:"priceInr"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AnswerKey extracts the ordinal -> correct-label mapping.
func (t Test) AnswerKey() map[int]string {
	key := make(map[int]string, len(t.Questions))
	for _, q := range t.Questions {
		key[q.Ordinal] = q.Answer
	}
	return key
}

// Submission is one student's registration for a test. Rows are never
// deleted; every transition appends to the record.
type Submission struct {
	ID          string         `json:"id"`
	TestID      string         `json:"testId"`
	Name        string         `json:"name"`
	Mobile      string         `json:"mobile"`
	Institute   string         `json:"institute,omitempty"`
	Address     string         `json:"address,omitempty"`
	Status      Status         `json:"status"`
	Paid        bool           `json:"paid"`
	PriceINR    float64        `json:"priceInr"`
	PayableINR  float64        `json:"payableInr"`
	OrderID     string         `json:"orderId,omitempty"`
	PaymentID   string         `json:"paymentId,omitempty"`
	Answers     map[int]string `json:"answers,omitempty"`
	Score       *int           `json:"score,omitempty"`
	Ref         string         `json:"ref,omitempty"`
	CouponCode  string         `json:"couponCode,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	PaidAt      *time.Time     `json:"paidAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Coupon is a referral reward. At most one coupon exists per
// (owner, referred) submission pair.
type Coupon struct {
	Code                 string    `json:"code"`
	OwnerSubmissionID    string    `json:"ownerSubmissionId"`
	ReferredSubmissionID string    `json:"referredSubmissionId"`
	DiscountPercent      float64   `json:"discountPercent"`
	Used                 bool      `json:"used"`
	CreatedAt            time.Time `json:"createdAt"`
}

// SubmissionEvent is the feed item broadcast to operator dashboards.
type SubmissionEvent struct {
	Type         string    `json:"type"` // registered | paid | scored
	TestID       string    `json:"testId"`
	SubmissionID string    `json:"submissionId"`
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	Score        *int      `json:"score,omitempty"`
	At           time.Time `json:"at"`
}
