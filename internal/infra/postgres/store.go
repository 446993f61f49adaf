package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"paidquiz-service/internal/app"
	"paidquiz-service/internal/domain"
)

// Store is the Postgres implementation of app.Store. Submission records are
// stored as JSONB rows; lifecycle transitions run inside a transaction with
// the submission row locked (SELECT ... FOR UPDATE) so coupon redemption,
// referral issuance, and the status flip commit together.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTest(ctx context.Context, test domain.Test) error {
	questions, err := json.Marshal(test.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tests (id, title, price_inr, questions, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, price_inr=EXCLUDED.price_inr, questions=EXCLUDED.questions`,
		test.ID, test.Title, test.PriceINR, questions, test.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

func (s *Store) GetTest(ctx context.Context, id string) (domain.Test, error) {
	var (
		test domain.Test
		raw  []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, title, price_inr, questions, created_at FROM tests WHERE id=$1`, id).
		Scan(&test.ID, &test.Title, &test.PriceINR, &raw, &test.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Test{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.Test{}, fmt.Errorf("load test: %w", err)
	}
	if err := json.Unmarshal(raw, &test.Questions); err != nil {
		return domain.Test{}, fmt.Errorf("unmarshal questions: %w", err)
	}
	return test, nil
}

func (s *Store) ListTests(ctx context.Context) ([]domain.Test, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, price_inr, questions, created_at FROM tests ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	tests := make([]domain.Test, 0)
	for rows.Next() {
		var (
			test domain.Test
			raw  []byte
		)
		if err := rows.Scan(&test.ID, &test.Title, &test.PriceINR, &raw, &test.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		if err := json.Unmarshal(raw, &test.Questions); err != nil {
			return nil, fmt.Errorf("unmarshal questions: %w", err)
		}
		tests = append(tests, test)
	}
	return tests, rows.Err()
}

// LoadTest lets the store back the cache layer.
func (s *Store) LoadTest(ctx context.Context, id string) (domain.Test, error) {
	return s.GetTest(ctx, id)
}

func (s *Store) CreateSubmission(ctx context.Context, sub domain.Submission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO submissions (id, test_id, data, created_at) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.TestID, raw, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM submissions WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("load submission: %w", err)
	}
	var sub domain.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return domain.Submission{}, fmt.Errorf("unmarshal submission: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, testID string) ([]domain.Submission, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM submissions WHERE test_id=$1 ORDER BY created_at`, testID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Submission, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		var sub domain.Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) UpdateSubmission(ctx context.Context, id string, fn func(*domain.Submission, app.UpdateTx) error) (domain.Submission, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT data FROM submissions WHERE id=$1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("lock submission: %w", err)
	}
	var sub domain.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return domain.Submission{}, fmt.Errorf("unmarshal submission: %w", err)
	}

	if err := fn(&sub, &updateTx{ctx: ctx, tx: tx}); err != nil {
		return domain.Submission{}, err
	}

	updated, err := json.Marshal(sub)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("marshal submission: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE submissions SET data=$2 WHERE id=$1`, id, updated); err != nil {
		return domain.Submission{}, fmt.Errorf("update submission: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Submission{}, fmt.Errorf("commit: %w", err)
	}
	return sub, nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	return scanCoupon(s.pool.QueryRow(ctx, `
		SELECT code, owner_submission_id, referred_submission_id, discount_percent, used, created_at
		FROM coupons WHERE code=$1`, code))
}

func (s *Store) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, owner_submission_id, referred_submission_id, discount_percent, used, created_at
		FROM coupons ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0)
	for rows.Next() {
		var c domain.Coupon
		if err := rows.Scan(&c.Code, &c.OwnerSubmissionID, &c.ReferredSubmissionID, &c.DiscountPercent, &c.Used, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// updateTx performs coupon ledger operations on the transaction that holds
// the submission row lock.
type updateTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (u *updateTx) Submission(id string) (domain.Submission, bool) {
	var raw []byte
	if err := u.tx.QueryRow(u.ctx, `SELECT data FROM submissions WHERE id=$1`, id).Scan(&raw); err != nil {
		return domain.Submission{}, false
	}
	var sub domain.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return domain.Submission{}, false
	}
	return sub, true
}

func (u *updateTx) Coupon(code string) (domain.Coupon, bool) {
	c, err := scanCoupon(u.tx.QueryRow(u.ctx, `
		SELECT code, owner_submission_id, referred_submission_id, discount_percent, used, created_at
		FROM coupons WHERE code=$1`, code))
	if err != nil {
		return domain.Coupon{}, false
	}
	return c, true
}

func (u *updateTx) RedeemCoupon(code string) (domain.Coupon, error) {
	c, err := scanCoupon(u.tx.QueryRow(u.ctx, `
		UPDATE coupons SET used=TRUE WHERE code=$1 AND used=FALSE
		RETURNING code, owner_submission_id, referred_submission_id, discount_percent, used, created_at`, code))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrCouponNotFound) {
		return domain.Coupon{}, err
	}
	// Distinguish a missing coupon from one that was already consumed.
	if existing, ok := u.Coupon(code); ok && existing.Used {
		return domain.Coupon{}, domain.ErrCouponUsed
	}
	return domain.Coupon{}, domain.ErrCouponNotFound
}

func (u *updateTx) IssueCoupon(ownerID, referredID string, discountPercent float64) (domain.Coupon, error) {
	c := domain.Coupon{
		Code:                 domain.NewCouponCode(),
		OwnerSubmissionID:    ownerID,
		ReferredSubmissionID: referredID,
		DiscountPercent:      discountPercent,
		CreatedAt:            time.Now(),
	}
	tag, err := u.tx.Exec(u.ctx, `
		INSERT INTO coupons (code, owner_submission_id, referred_submission_id, discount_percent, used, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (owner_submission_id, referred_submission_id) DO NOTHING`,
		c.Code, c.OwnerSubmissionID, c.ReferredSubmissionID, c.DiscountPercent, c.CreatedAt)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("issue coupon: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return c, nil
	}
	// Pair already rewarded; hand back the existing coupon.
	return scanCoupon(u.tx.QueryRow(u.ctx, `
		SELECT code, owner_submission_id, referred_submission_id, discount_percent, used, created_at
		FROM coupons WHERE owner_submission_id=$1 AND referred_submission_id=$2`, ownerID, referredID))
}

func scanCoupon(row pgx.Row) (domain.Coupon, error) {
	var c domain.Coupon
	err := row.Scan(&c.Code, &c.OwnerSubmissionID, &c.ReferredSubmissionID, &c.DiscountPercent, &c.Used, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("scan coupon: %w", err)
	}
	return c, nil
}
