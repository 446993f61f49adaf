package memory

import (
	"context"
	"sync"
	"time"

	"paidquiz-service/internal/app"
	"paidquiz-service/internal/domain"
)

// Store is an in-process implementation of app.Store. A single mutex
// serializes every mutation, so an UpdateSubmission closure observes and
// commits a consistent view of all three collections.
type Store struct {
	mu          sync.RWMutex
	tests       map[string]domain.Test
	submissions map[string]domain.Submission
	coupons     map[string]domain.Coupon
	pairs       map[string]string // owner|referred -> coupon code
}

func NewStore() *Store {
	return &Store{
		tests:       make(map[string]domain.Test),
		submissions: make(map[string]domain.Submission),
		coupons:     make(map[string]domain.Coupon),
		pairs:       make(map[string]string),
	}
}

func (s *Store) CreateTest(_ context.Context, test domain.Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[test.ID] = test
	return nil
}

func (s *Store) GetTest(_ context.Context, id string) (domain.Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	test, ok := s.tests[id]
	if !ok {
		return domain.Test{}, domain.ErrTestNotFound
	}
	return test, nil
}

func (s *Store) ListTests(_ context.Context) ([]domain.Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tests := make([]domain.Test, 0, len(s.tests))
	for _, t := range s.tests {
		tests = append(tests, t)
	}
	return tests, nil
}

// LoadTest lets the store double as an app cache loader.
func (s *Store) LoadTest(ctx context.Context, id string) (domain.Test, error) {
	return s.GetTest(ctx, id)
}

func (s *Store) CreateSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
	return nil
}

func (s *Store) GetSubmission(_ context.Context, id string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *Store) ListSubmissions(_ context.Context, testID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]domain.Submission, 0)
	for _, sub := range s.submissions {
		if sub.TestID == testID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *Store) UpdateSubmission(_ context.Context, id string, fn func(*domain.Submission, app.UpdateTx) error) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}

	tx := &updateTx{store: s, staged: make(map[string]domain.Coupon)}
	if err := fn(&sub, tx); err != nil {
		return domain.Submission{}, err
	}

	// Commit: submission and staged coupon writes land together.
	s.submissions[id] = sub
	for code, c := range tx.staged {
		s.coupons[code] = c
	}
	for _, c := range tx.issued {
		s.coupons[c.Code] = c
		s.pairs[pairKey(c.OwnerSubmissionID, c.ReferredSubmissionID)] = c.Code
	}
	return sub, nil
}

func (s *Store) GetCoupon(_ context.Context, code string) (domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return c, nil
}

func (s *Store) ListCoupons(_ context.Context) ([]domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coupons := make([]domain.Coupon, 0, len(s.coupons))
	for _, c := range s.coupons {
		coupons = append(coupons, c)
	}
	return coupons, nil
}

// updateTx stages coupon mutations while the store mutex is held; the
// staged writes are discarded when the closure errors.
type updateTx struct {
	store  *Store
	staged map[string]domain.Coupon
	issued []domain.Coupon
}

func (tx *updateTx) Submission(id string) (domain.Submission, bool) {
	sub, ok := tx.store.submissions[id]
	return sub, ok
}

func (tx *updateTx) Coupon(code string) (domain.Coupon, bool) {
	if c, ok := tx.staged[code]; ok {
		return c, true
	}
	c, ok := tx.store.coupons[code]
	return c, ok
}

func (tx *updateTx) RedeemCoupon(code string) (domain.Coupon, error) {
	c, ok := tx.Coupon(code)
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if c.Used {
		return domain.Coupon{}, domain.ErrCouponUsed
	}
	c.Used = true
	tx.staged[code] = c
	return c, nil
}

func (tx *updateTx) IssueCoupon(ownerID, referredID string, discountPercent float64) (domain.Coupon, error) {
	key := pairKey(ownerID, referredID)
	if code, ok := tx.store.pairs[key]; ok {
		return tx.store.coupons[code], nil
	}
	for _, c := range tx.issued {
		if c.OwnerSubmissionID == ownerID && c.ReferredSubmissionID == referredID {
			return c, nil
		}
	}
	c := domain.Coupon{
		Code:                 domain.NewCouponCode(),
		OwnerSubmissionID:    ownerID,
		ReferredSubmissionID: referredID,
		DiscountPercent:      discountPercent,
		Used:                 false,
		CreatedAt:            time.Now(),
	}
	tx.issued = append(tx.issued, c)
	return c, nil
}

func pairKey(ownerID, referredID string) string {
	return ownerID + "|" + referredID
}
