package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"paidquiz-service/internal/app"
	"paidquiz-service/internal/domain"
	"paidquiz-service/internal/infra/memory"
)

type fakeGateway struct {
	mu         sync.Mutex
	orders     int
	failCreate bool
}

func (g *fakeGateway) CreateOrder(_ context.Context, _ int64, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreate {
		return "", domain.ErrGatewayUnavailable
	}
	g.orders++
	return fmt.Sprintf("order_%d", g.orders), nil
}

func (g *fakeGateway) VerifySignature(_, _, signature string) bool {
	return signature == "sig-ok"
}

type fixture struct {
	store *memory.Store
	gw    *fakeGateway
	feed  *app.Feed
	svc   *app.SubmissionService
}

func newFixture(t *testing.T, demo bool) *fixture {
	t.Helper()
	store := memory.NewStore()
	if err := store.CreateTest(context.Background(), sampleTest()); err != nil {
		t.Fatalf("create test: %v", err)
	}
	gw := &fakeGateway{}
	feed := app.NewFeed()
	tests := memory.NewTestRepository(store, 5*time.Minute)
	return &fixture{
		store: store,
		gw:    gw,
		feed:  feed,
		svc:   app.NewSubmissionService(store, tests, gw, demo, feed),
	}
}

func sampleTest() domain.Test {
	return domain.Test{
		ID:       "test-1",
		Title:    "Physics Mock 1",
		PriceINR: 100,
		Questions: []domain.Question{
			{Ordinal: 1, Prompt: "Q1", Options: options(), Answer: "A"},
			{Ordinal: 2, Prompt: "Q2", Options: options(), Answer: "C"},
			{Ordinal: 3, Prompt: "Q3", Options: options(), Answer: "D"},
		},
		CreatedAt: time.Now(),
	}
}

func options() map[string]string {
	return map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"}
}

func register(t *testing.T, f *fixture, in app.RegisterInput) app.RegisterResult {
	t.Helper()
	result, err := f.svc.Register(context.Background(), "test-1", in)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return result
}

// mintCoupon issues a coupon through the ledger's own conditional insert.
func mintCoupon(t *testing.T, f *fixture, ownerID, referredID string, pct float64) domain.Coupon {
	t.Helper()
	var coupon domain.Coupon
	_, err := f.store.UpdateSubmission(context.Background(), ownerID, func(_ *domain.Submission, tx app.UpdateTx) error {
		var err error
		coupon, err = tx.IssueCoupon(ownerID, referredID, pct)
		return err
	})
	if err != nil {
		t.Fatalf("mint coupon: %v", err)
	}
	return coupon
}

func TestRegisterRequiresNameAndMobile(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Register(context.Background(), "test-1", app.RegisterInput{Name: "  ", Mobile: "9999"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterUnknownTest(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Register(context.Background(), "nope", app.RegisterInput{Name: "Asha", Mobile: "9999"})
	if !errors.Is(err, domain.ErrTestNotFound) {
		t.Fatalf("expected test not found, got %v", err)
	}
}

func TestDemoModeSkipsGateway(t *testing.T) {
	f := newFixture(t, true)
	result := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"})

	sub := result.Submission
	if !sub.Paid || sub.Status != domain.StatusPaymentSkipped {
		t.Fatalf("expected paid skipped submission, got %+v", sub)
	}
	if sub.PayableINR != 0 || sub.PaymentID != "DEMO" {
		t.Fatalf("expected zero payable with DEMO reference, got payable=%v paymentID=%q", sub.PayableINR, sub.PaymentID)
	}
	if result.Order != nil {
		t.Fatalf("expected no order in demo mode")
	}
	if f.gw.orders != 0 {
		t.Fatalf("expected zero gateway orders, got %d", f.gw.orders)
	}
}

func TestRegisterCreatesPendingOrder(t *testing.T) {
	f := newFixture(t, false)
	result := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"})

	if result.Order == nil {
		t.Fatalf("expected an order payload")
	}
	if result.Order.AmountPaise != 10000 || result.Order.Currency != "INR" {
		t.Fatalf("expected 10000 paise INR order, got %+v", result.Order)
	}
	if result.Submission.Status != domain.StatusPaymentPending {
		t.Fatalf("expected PAYMENT_PENDING, got %s", result.Submission.Status)
	}
}

func TestGatewayFailureLeavesSubmissionCreated(t *testing.T) {
	f := newFixture(t, false)
	f.gw.failCreate = true

	_, err := f.svc.Register(context.Background(), "test-1", app.RegisterInput{Name: "Asha", Mobile: "9999"})
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	subs, _ := f.store.ListSubmissions(context.Background(), "test-1")
	if len(subs) != 1 || subs[0].Status != domain.StatusCreated {
		t.Fatalf("expected one CREATED submission, got %+v", subs)
	}
}

func TestCouponDiscountRedeemedWithPayment(t *testing.T) {
	f := newFixture(t, false)
	owner := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "1111"}).Submission
	coupon := mintCoupon(t, f, owner.ID, "ref-someone", 50)

	result := register(t, f, app.RegisterInput{Name: "Ravi", Mobile: "2222", CouponCode: coupon.Code})
	if result.Order == nil || result.Order.AmountPaise != 5000 {
		t.Fatalf("expected 5000 paise after 50%% coupon, got %+v", result.Order)
	}

	// The coupon is not consumed while payment is pending.
	c, err := f.store.GetCoupon(context.Background(), coupon.Code)
	if err != nil || c.Used {
		t.Fatalf("coupon must stay unused until payment completes: %+v err=%v", c, err)
	}

	sub, err := f.svc.ConfirmPayment(context.Background(), result.Submission.ID, result.Order.OrderID, "pay_1", "sig-ok")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !sub.Paid || sub.Status != domain.StatusPaid || sub.PaymentID != "pay_1" {
		t.Fatalf("expected PAID submission, got %+v", sub)
	}

	c, err = f.store.GetCoupon(context.Background(), coupon.Code)
	if err != nil || !c.Used {
		t.Fatalf("coupon must be used once payment completed: %+v err=%v", c, err)
	}
}

func TestFullDiscountSkipsPayment(t *testing.T) {
	f := newFixture(t, false)
	owner := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "1111"}).Submission
	coupon := mintCoupon(t, f, owner.ID, "ref-other", 100)

	result := register(t, f, app.RegisterInput{Name: "Ravi", Mobile: "2222", CouponCode: coupon.Code})
	sub := result.Submission
	if !sub.Paid || sub.Status != domain.StatusPaymentSkipped || result.Order != nil {
		t.Fatalf("expected skipped payment at 100%% discount, got %+v order=%+v", sub, result.Order)
	}
	if sub.PaymentID != "" {
		t.Fatalf("expected empty payment reference outside demo mode, got %q", sub.PaymentID)
	}
	if f.gw.orders != 0 {
		t.Fatalf("expected no gateway order, got %d", f.gw.orders)
	}

	c, _ := f.store.GetCoupon(context.Background(), coupon.Code)
	if !c.Used {
		t.Fatalf("expected coupon redeemed with the skipped payment")
	}
}

func TestUsedCouponGivesNoDiscount(t *testing.T) {
	f := newFixture(t, false)
	owner := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "1111"}).Submission
	coupon := mintCoupon(t, f, owner.ID, "ref-x", 50)
	_, err := f.store.UpdateSubmission(context.Background(), owner.ID, func(_ *domain.Submission, tx app.UpdateTx) error {
		_, err := tx.RedeemCoupon(coupon.Code)
		return err
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// Registration still succeeds, at full price.
	result := register(t, f, app.RegisterInput{Name: "Ravi", Mobile: "2222", CouponCode: coupon.Code})
	if result.Order == nil || result.Order.AmountPaise != 10000 {
		t.Fatalf("expected full price with used coupon, got %+v", result.Order)
	}
}

// couponGateStore holds every coupon read until released, so two
// registrations can price against the same unused coupon before either
// reaches the atomic update.
type couponGateStore struct {
	*memory.Store
	arrived chan struct{}
	release chan struct{}
}

func (s *couponGateStore) GetCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	c, err := s.Store.GetCoupon(ctx, code)
	s.arrived <- struct{}{}
	<-s.release
	return c, err
}

func TestConcurrentFullDiscountConsumesCouponOnce(t *testing.T) {
	inner := memory.NewStore()
	if err := inner.CreateTest(context.Background(), sampleTest()); err != nil {
		t.Fatalf("create test: %v", err)
	}
	store := &couponGateStore{
		Store:   inner,
		arrived: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	gw := &fakeGateway{}
	svc := app.NewSubmissionService(store, memory.NewTestRepository(inner, 5*time.Minute), gw, false, app.NewFeed())

	owner, err := svc.Register(context.Background(), "test-1", app.RegisterInput{Name: "Asha", Mobile: "1111"})
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	var coupon domain.Coupon
	_, err = inner.UpdateSubmission(context.Background(), owner.Submission.ID, func(_ *domain.Submission, tx app.UpdateTx) error {
		coupon, err = tx.IssueCoupon(owner.Submission.ID, "ref-z", 100)
		return err
	})
	if err != nil {
		t.Fatalf("mint coupon: %v", err)
	}

	results := make(chan app.RegisterResult, 2)
	for i, mobile := range []string{"2222", "3333"} {
		go func(name, mobile string) {
			res, err := svc.Register(context.Background(), "test-1", app.RegisterInput{
				Name:       name,
				Mobile:     mobile,
				CouponCode: coupon.Code,
			})
			if err != nil {
				t.Errorf("register with coupon: %v", err)
			}
			results <- res
		}(fmt.Sprintf("Student %d", i), mobile)
	}

	// Both registrations have read the unused coupon; let them race for
	// the redemption.
	<-store.arrived
	<-store.arrived
	close(store.release)

	var free, charged int
	for i := 0; i < 2; i++ {
		res := <-results
		switch {
		case res.Submission.Status == domain.StatusPaymentSkipped && res.Order == nil:
			free++
		case res.Submission.Status == domain.StatusPaymentPending && res.Order != nil && res.Order.AmountPaise == 10000:
			charged++
		default:
			t.Fatalf("unexpected outcome: %+v order=%+v", res.Submission, res.Order)
		}
	}
	if free != 1 || charged != 1 {
		t.Fatalf("expected one free and one full-price registration, got free=%d charged=%d", free, charged)
	}

	c, err := inner.GetCoupon(context.Background(), coupon.Code)
	if err != nil || !c.Used {
		t.Fatalf("expected the coupon consumed exactly once: %+v err=%v", c, err)
	}
}

func TestConfirmPaymentBadSignatureStaysPending(t *testing.T) {
	f := newFixture(t, false)
	result := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"})

	_, err := f.svc.ConfirmPayment(context.Background(), result.Submission.ID, result.Order.OrderID, "pay_1", "forged")
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}

	sub, _ := f.store.GetSubmission(context.Background(), result.Submission.ID)
	if sub.Paid || sub.Status != domain.StatusPaymentPending {
		t.Fatalf("expected submission still pending, got %+v", sub)
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	f := newFixture(t, false)
	referrer := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "1111"})
	_, err := f.svc.ConfirmPayment(context.Background(), referrer.Submission.ID, referrer.Order.OrderID, "pay_a", "sig-ok")
	if err != nil {
		t.Fatalf("confirm referrer: %v", err)
	}

	referred := register(t, f, app.RegisterInput{Name: "Ravi", Mobile: "2222", Ref: referrer.Submission.ID})
	for i := 0; i < 3; i++ {
		sub, err := f.svc.ConfirmPayment(context.Background(), referred.Submission.ID, referred.Order.OrderID, "pay_b", "sig-ok")
		if err != nil {
			t.Fatalf("confirm attempt %d: %v", i, err)
		}
		if !sub.Paid || sub.PaymentID != "pay_b" {
			t.Fatalf("attempt %d: expected paid with pay_b, got %+v", i, sub)
		}
	}

	coupons, _ := f.store.ListCoupons(context.Background())
	if len(coupons) != 1 {
		t.Fatalf("expected exactly one referral coupon after retries, got %d", len(coupons))
	}
	c := coupons[0]
	if c.OwnerSubmissionID != referrer.Submission.ID || c.ReferredSubmissionID != referred.Submission.ID {
		t.Fatalf("coupon pair wrong: %+v", c)
	}
	if c.DiscountPercent != 50 || c.Used {
		t.Fatalf("expected unused 50%% coupon, got %+v", c)
	}
}

func TestConcurrentConfirmAwardsOneCoupon(t *testing.T) {
	f := newFixture(t, false)
	a := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "1111"})
	if _, err := f.svc.ConfirmPayment(context.Background(), a.Submission.ID, a.Order.OrderID, "pay_a", "sig-ok"); err != nil {
		t.Fatalf("confirm referrer: %v", err)
	}
	b := register(t, f, app.RegisterInput{Name: "Ravi", Mobile: "2222", Ref: a.Submission.ID})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ConfirmPayment(context.Background(), b.Submission.ID, b.Order.OrderID, "pay_b", "sig-ok")
		}()
	}
	wg.Wait()

	coupons, _ := f.store.ListCoupons(context.Background())
	if len(coupons) != 1 {
		t.Fatalf("expected one coupon under concurrent confirms, got %d", len(coupons))
	}
}

func TestSelfReferralNeverAwards(t *testing.T) {
	f := newFixture(t, true)
	a := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "1111"})
	register(t, f, app.RegisterInput{Name: "Asha Again", Mobile: "1111", Ref: a.Submission.ID})

	coupons, _ := f.store.ListCoupons(context.Background())
	if len(coupons) != 0 {
		t.Fatalf("self-referral must not produce a coupon, got %d", len(coupons))
	}
}

func TestDanglingReferralIsSilentNoop(t *testing.T) {
	f := newFixture(t, true)
	result := register(t, f, app.RegisterInput{Name: "Ravi", Mobile: "2222", Ref: "not-a-submission"})
	if !result.Submission.Paid {
		t.Fatalf("registration must succeed despite dangling ref")
	}
	coupons, _ := f.store.ListCoupons(context.Background())
	if len(coupons) != 0 {
		t.Fatalf("dangling ref must not produce a coupon, got %d", len(coupons))
	}
}

func TestAnswersRequirePayment(t *testing.T) {
	f := newFixture(t, false)
	result := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"})

	_, err := f.svc.SubmitAnswers(context.Background(), result.Submission.ID, map[int]string{1: "A"})
	if !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("expected payment required, got %v", err)
	}
	if _, err := f.svc.Questions(context.Background(), "test-1", result.Submission.ID); !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("expected payment required for questions, got %v", err)
	}
}

func TestScoreFlowAndIdempotentRescore(t *testing.T) {
	f := newFixture(t, true)
	sub := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"}).Submission

	if _, err := f.svc.SubmitAnswers(context.Background(), sub.ID, map[int]string{1: "a", 2: "B"}); err != nil {
		t.Fatalf("submit answers: %v", err)
	}
	score, err := f.svc.ScoreSubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 3 {
		t.Fatalf("expected score 3 (+4 -1 +0), got %d", score)
	}

	// Scoring is terminal: later answers are ignored and the score is stable.
	if _, err := f.svc.SubmitAnswers(context.Background(), sub.ID, map[int]string{1: "A", 2: "C", 3: "D"}); err != nil {
		t.Fatalf("resubmit answers: %v", err)
	}
	again, err := f.svc.ScoreSubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if again != 3 {
		t.Fatalf("rescore changed the result: got %d, want 3", again)
	}

	stored, _ := f.store.GetSubmission(context.Background(), sub.ID)
	if stored.Status != domain.StatusScored || stored.Score == nil || *stored.Score != 3 {
		t.Fatalf("expected SCORED submission with score 3, got %+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
}

func TestLifecycleEventsPublishedOncePerTransition(t *testing.T) {
	f := newFixture(t, false)
	events, cancel := f.feed.Subscribe("test-1")
	defer cancel()

	result := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"})
	for i := 0; i < 3; i++ {
		if _, err := f.svc.ConfirmPayment(context.Background(), result.Submission.ID, result.Order.OrderID, "pay_1", "sig-ok"); err != nil {
			t.Fatalf("confirm attempt %d: %v", i, err)
		}
	}
	if _, err := f.svc.SubmitAnswers(context.Background(), result.Submission.ID, map[int]string{1: "A"}); err != nil {
		t.Fatalf("answers: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.ScoreSubmission(context.Background(), result.Submission.ID); err != nil {
			t.Fatalf("score attempt %d: %v", i, err)
		}
	}

	counts := map[string]int{}
drain:
	for {
		select {
		case ev := <-events:
			counts[ev.Type]++
		default:
			break drain
		}
	}
	if counts["registered"] != 1 || counts["paid"] != 1 || counts["scored"] != 1 {
		t.Fatalf("expected one event per transition, got %v", counts)
	}
}

func TestAnswersOverwriteUntilScored(t *testing.T) {
	f := newFixture(t, true)
	sub := register(t, f, app.RegisterInput{Name: "Asha", Mobile: "9999"}).Submission

	if _, err := f.svc.SubmitAnswers(context.Background(), sub.ID, map[int]string{1: "B"}); err != nil {
		t.Fatalf("first answers: %v", err)
	}
	if _, err := f.svc.SubmitAnswers(context.Background(), sub.ID, map[int]string{1: "A", 2: "C", 3: "D"}); err != nil {
		t.Fatalf("second answers: %v", err)
	}

	score, err := f.svc.ScoreSubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 12 {
		t.Fatalf("expected overwritten answers to score 12, got %d", score)
	}
}
