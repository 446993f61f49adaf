package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"paidquiz-service/internal/domain"
)

// Currency is the only currency orders are created in.
const Currency = "INR"

// demoPaymentRef marks submissions auto-confirmed in demo mode.
const demoPaymentRef = "DEMO"

// RegisterInput carries the student fields of a registration request.
type RegisterInput struct {
	Name       string
	Mobile     string
	Institute  string
	Address    string
	Ref        string
	CouponCode string
}

// OrderPayload is returned when the client still has to complete payment
// through the gateway's checkout flow.
type OrderPayload struct {
	OrderID     string `json:"orderId"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// RegisterResult is the outcome of a registration: either an already-paid
// submission (demo mode or fully discounted) or a pending one with an order
// to pay.
type RegisterResult struct {
	Submission domain.Submission
	Order      *OrderPayload
}

// SubmissionService owns the submission lifecycle:
//
//	CREATED -> (PAYMENT_SKIPPED | PAYMENT_PENDING) -> PAID -> ANSWERED -> SCORED
//
// All transitions that touch coupons commit atomically with the submission
// record through Store.UpdateSubmission.
type SubmissionService struct {
	store Store
	tests TestRepository
	gw    Gateway
	demo  bool
	feed  *Feed
	now   func() time.Time
}

func NewSubmissionService(store Store, tests TestRepository, gw Gateway, demo bool, feed *Feed) *SubmissionService {
	return NewSubmissionServiceWithClock(store, tests, gw, demo, feed, time.Now)
}

// NewSubmissionServiceWithClock allows deterministic timestamps in tests.
func NewSubmissionServiceWithClock(store Store, tests TestRepository, gw Gateway, demo bool, feed *Feed, now func() time.Time) *SubmissionService {
	return &SubmissionService{store: store, tests: tests, gw: gw, demo: demo, feed: feed, now: now}
}

// Register creates a submission for a test, prices it against an optional
// coupon, and either marks it paid outright (payable <= 0) or creates a
// gateway order and leaves it pending.
func (s *SubmissionService) Register(ctx context.Context, testID string, in RegisterInput) (RegisterResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if in.Name == "" || in.Mobile == "" {
		return RegisterResult{}, fmt.Errorf("%w: name and mobile are required", domain.ErrValidation)
	}

	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return RegisterResult{}, err
	}

	sub := domain.Submission{
		ID:         uuid.NewString(),
		TestID:     test.ID,
		Name:       in.Name,
		Mobile:     in.Mobile,
		Institute:  strings.TrimSpace(in.Institute),
		Address:    strings.TrimSpace(in.Address),
		Status:     domain.StatusCreated,
		PriceINR:   test.PriceINR,
		Ref:        strings.TrimSpace(in.Ref),
		CouponCode: strings.TrimSpace(in.CouponCode),
		CreatedAt:  s.now(),
	}
	// Persist before pricing so the submission's own id is immediately
	// resolvable as a referral code.
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return RegisterResult{}, err
	}
	s.publish("registered", sub)

	// Coupons are only looked up here; redemption is deferred until the
	// payment actually completes so an abandoned checkout never burns one.
	discount := 0.0
	if sub.CouponCode != "" {
		if c, err := s.store.GetCoupon(ctx, sub.CouponCode); err == nil && !c.Used {
			discount = c.DiscountPercent
		} else if err != nil {
			log.Printf("coupon %s not applied to submission %s: %v", sub.CouponCode, sub.ID, err)
		}
	}

	payable, err := Payable(test.PriceINR, discount)
	if err != nil {
		return RegisterResult{}, err
	}
	if s.demo {
		payable = 0
	}

	if payable <= 0 {
		// A zero payable earned by a coupon must consume that coupon in the
		// same commit as the paid flip; losing the race for a single-use
		// coupon means losing the discount.
		couponFunded := !s.demo && discount > 0 && test.PriceINR > 0
		paid, err := s.store.UpdateSubmission(ctx, sub.ID, func(cur *domain.Submission, tx UpdateTx) error {
			if couponFunded {
				if _, err := tx.RedeemCoupon(cur.CouponCode); err != nil {
					return err
				}
			} else {
				s.redeemApplied(cur, tx)
			}
			cur.PayableINR = 0
			paymentRef := ""
			if s.demo {
				paymentRef = demoPaymentRef
			}
			s.markPaid(cur, tx, paymentRef, cur.OrderID, domain.StatusPaymentSkipped)
			return nil
		})
		switch {
		case err == nil:
			s.publish("paid", paid)
			return RegisterResult{Submission: paid}, nil
		case couponFunded && (errors.Is(err, domain.ErrCouponUsed) || errors.Is(err, domain.ErrCouponNotFound)):
			log.Printf("coupon %s consumed before redemption for submission %s, charging full price", sub.CouponCode, sub.ID)
			payable = test.PriceINR
		default:
			return RegisterResult{}, err
		}
	}

	orderID, err := s.gw.CreateOrder(ctx, MinorUnits(payable), Currency, sub.ID)
	if err != nil {
		// The submission stays CREATED; the caller may retry registration.
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return RegisterResult{}, err
		}
		return RegisterResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	pending, err := s.store.UpdateSubmission(ctx, sub.ID, func(cur *domain.Submission, _ UpdateTx) error {
		cur.Status = domain.StatusPaymentPending
		cur.OrderID = orderID
		cur.PriceINR = test.PriceINR
		cur.PayableINR = payable
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{
		Submission: pending,
		Order: &OrderPayload{
			OrderID:     orderID,
			AmountPaise: MinorUnits(payable),
			Currency:    Currency,
		},
	}, nil
}

// ConfirmPayment applies a gateway callback. The signature is verified
// before any lock is taken; a repeated callback for an already-paid
// submission is a no-op success and never re-redeems a coupon or awards a
// second referral reward.
func (s *SubmissionService) ConfirmPayment(ctx context.Context, submissionID, orderID, paymentID, signature string) (domain.Submission, error) {
	if !s.gw.VerifySignature(orderID, paymentID, signature) {
		return domain.Submission{}, domain.ErrSignatureInvalid
	}

	var transitioned bool
	paid, err := s.store.UpdateSubmission(ctx, submissionID, func(cur *domain.Submission, tx UpdateTx) error {
		if cur.Paid {
			return nil
		}
		if cur.Status != domain.StatusPaymentPending {
			return domain.ErrInvalidTransition
		}
		if cur.OrderID != orderID {
			return domain.ErrSignatureInvalid
		}
		// The coupon vanishing between pricing and confirmation does not
		// fail the payment; the order amount was already captured.
		s.redeemApplied(cur, tx)
		s.markPaid(cur, tx, paymentID, orderID, domain.StatusPaid)
		transitioned = true
		return nil
	})
	if err != nil {
		return domain.Submission{}, err
	}
	if transitioned {
		s.publish("paid", paid)
	}
	return paid, nil
}

// markPaid flips the submission to a paid state and awards the referral
// reward. Coupon redemption happens at the call sites so each transition
// decides whether a consumed coupon aborts it.
func (s *SubmissionService) markPaid(sub *domain.Submission, tx UpdateTx, paymentID, orderID string, status domain.Status) {
	now := s.now()
	sub.Paid = true
	sub.Status = status
	sub.PaymentID = paymentID
	sub.OrderID = orderID
	sub.PaidAt = &now
	s.awardReferral(sub, tx)
}

// redeemApplied consumes the submission's applied coupon if it is still
// available. Used on transitions that must stand even when the coupon was
// consumed elsewhere in the meantime.
func (s *SubmissionService) redeemApplied(sub *domain.Submission, tx UpdateTx) {
	if sub.CouponCode == "" {
		return
	}
	if _, err := tx.RedeemCoupon(sub.CouponCode); err != nil {
		log.Printf("coupon %s not redeemed for submission %s: %v", sub.CouponCode, sub.ID, err)
	}
}

// awardReferral issues the 50% reward to the referrer. Every failure mode
// (no code, dangling code, self-referral) is a silent no-op; the ledger's
// conditional insert keeps retried callbacks to one coupon per pair.
func (s *SubmissionService) awardReferral(sub *domain.Submission, tx UpdateTx) {
	if !sub.Paid || sub.Ref == "" {
		return
	}
	referrer, ok := tx.Submission(sub.Ref)
	if !ok {
		return
	}
	if referrer.Mobile == sub.Mobile {
		return
	}
	if _, err := tx.IssueCoupon(referrer.ID, sub.ID, domain.ReferralDiscountPercent); err != nil {
		log.Printf("referral coupon not issued for submission %s: %v", sub.ID, err)
	}
}

// SubmitAnswers records a student's answers. Requires a paid submission;
// re-submission overwrites prior answers until scoring is finalized, after
// which it is a no-op.
func (s *SubmissionService) SubmitAnswers(ctx context.Context, submissionID string, answers map[int]string) (domain.Submission, error) {
	normalized := make(map[int]string, len(answers))
	for ordinal, label := range answers {
		normalized[ordinal] = strings.ToUpper(strings.TrimSpace(label))
	}

	return s.store.UpdateSubmission(ctx, submissionID, func(cur *domain.Submission, _ UpdateTx) error {
		if !cur.Paid {
			return domain.ErrPaymentRequired
		}
		if cur.Status == domain.StatusScored {
			return nil
		}
		cur.Answers = normalized
		cur.Status = domain.StatusAnswered
		return nil
	})
}

// ScoreSubmission grades the recorded answers and finalizes the submission.
// SCORED is terminal: re-invocation returns the previously computed score
// without rescoring.
func (s *SubmissionService) ScoreSubmission(ctx context.Context, submissionID string) (int, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return 0, err
	}
	test, err := s.tests.GetTest(ctx, sub.TestID)
	if err != nil {
		return 0, err
	}
	key := test.AnswerKey()

	var transitioned bool
	scored, err := s.store.UpdateSubmission(ctx, submissionID, func(cur *domain.Submission, _ UpdateTx) error {
		if !cur.Paid {
			return domain.ErrPaymentRequired
		}
		if cur.Status == domain.StatusScored {
			return nil
		}
		score := Score(key, cur.Answers)
		now := s.now()
		cur.Score = &score
		cur.CompletedAt = &now
		cur.Status = domain.StatusScored
		transitioned = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if transitioned {
		s.publish("scored", scored)
	}
	if scored.Score == nil {
		return 0, fmt.Errorf("submission %s scored without a score", submissionID)
	}
	return *scored.Score, nil
}

// Questions returns a test's questions with the answer labels stripped.
// Access is gated on the submission having paid.
func (s *SubmissionService) Questions(ctx context.Context, testID, submissionID string) ([]domain.Question, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.TestID != testID {
		return nil, domain.ErrSubmissionNotFound
	}
	if !sub.Paid {
		return nil, domain.ErrPaymentRequired
	}
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	questions := make([]domain.Question, len(test.Questions))
	for i, q := range test.Questions {
		q.Answer = ""
		questions[i] = q
	}
	return questions, nil
}

// Submission is a read-only fetch for handlers.
func (s *SubmissionService) Submission(ctx context.Context, id string) (domain.Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// Submissions lists a test's submissions (diagnostic).
func (s *SubmissionService) Submissions(ctx context.Context, testID string) ([]domain.Submission, error) {
	return s.store.ListSubmissions(ctx, testID)
}

// Tests lists the published tests.
func (s *SubmissionService) Tests(ctx context.Context) ([]domain.Test, error) {
	return s.store.ListTests(ctx)
}

// Coupons lists the coupon ledger (diagnostic).
func (s *SubmissionService) Coupons(ctx context.Context) ([]domain.Coupon, error) {
	return s.store.ListCoupons(ctx)
}

func (s *SubmissionService) publish(eventType string, sub domain.Submission) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(domain.SubmissionEvent{
		Type:         eventType,
		TestID:       sub.TestID,
		SubmissionID: sub.ID,
		Name:         sub.Name,
		Status:       sub.Status,
		Score:        sub.Score,
		At:           s.now(),
	})
}
