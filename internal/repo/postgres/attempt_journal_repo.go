package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAttemptNotFound    = errors.New("purchase attempt not found")
	ErrPurchaseIDConflict = errors.New("purchase id already attached to another attempt")
)

// AttemptJournalRepo is the durable journal of purchase attempts. It lets a
// restarted process resume an in-flight attempt instead of creating a
// duplicate backend record, and it records the locally observed status with
// a compare-and-swap guard so the lifecycle stays monotonic.
type AttemptJournalRepo struct {
	pool *pgxpool.Pool
}

type AttemptRecord struct {
	AttemptKey     string
	PurchaseID     *string
	UserID         int64
	ProductID      string
	Method         string
	Status         string
	DueAmount      float64
	PaymentAddress *string
	PaymentAmount  *float64
	CheckoutURL    *string
	ExpiresAt      *time.Time
	ProofReference *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewAttemptJournalRepo(pool *pgxpool.Pool) *AttemptJournalRepo {
	return &AttemptJournalRepo{pool: pool}
}

func (r *AttemptJournalRepo) Create(ctx context.Context, attemptKey string, userID int64, productID, method string, dueAmount float64) (AttemptRecord, error) {
	if r.pool == nil {
		return AttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	attemptKey = strings.TrimSpace(attemptKey)
	if attemptKey == "" || userID <= 0 || strings.TrimSpace(productID) == "" || strings.TrimSpace(method) == "" {
		return AttemptRecord{}, fmt.Errorf("invalid attempt create payload")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
INSERT INTO purchase_attempts (
	attempt_key,
	user_id,
	product_id,
	method,
	status,
	due_amount,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, 'uninitiated', $5, NOW(), NOW())
ON CONFLICT (attempt_key) DO UPDATE SET updated_at = NOW()
RETURNING attempt_key, purchase_id, user_id, product_id, method, status, due_amount,
          payment_address, payment_amount, checkout_url, expires_at, proof_reference,
          created_at, updated_at
`, attemptKey, userID, strings.TrimSpace(productID), strings.ToLower(strings.TrimSpace(method)), dueAmount))
	if err != nil {
		return AttemptRecord{}, fmt.Errorf("create purchase attempt: %w", err)
	}

	return record, nil
}

// AttachInitiation records the backend-assigned purchase id together with the
// payment instructions, moving the attempt out of the uninitiated state.
func (r *AttemptJournalRepo) AttachInitiation(ctx context.Context, attemptKey, purchaseID, status string, dueAmount float64, paymentAddress, checkoutURL string, paymentAmount float64, expiresAt *time.Time) (AttemptRecord, error) {
	if r.pool == nil {
		return AttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	attemptKey = strings.TrimSpace(attemptKey)
	purchaseID = strings.TrimSpace(purchaseID)
	if attemptKey == "" || purchaseID == "" || strings.TrimSpace(status) == "" {
		return AttemptRecord{}, fmt.Errorf("invalid attempt initiation payload")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
UPDATE purchase_attempts
SET
	purchase_id = $2,
	status = $3,
	due_amount = $4,
	payment_address = NULLIF($5, ''),
	checkout_url = NULLIF($6, ''),
	payment_amount = NULLIF($7, 0),
	expires_at = $8,
	updated_at = NOW()
WHERE attempt_key = $1
RETURNING attempt_key, purchase_id, user_id, product_id, method, status, due_amount,
          payment_address, payment_amount, checkout_url, expires_at, proof_reference,
          created_at, updated_at
`, attemptKey, purchaseID, strings.ToLower(strings.TrimSpace(status)), dueAmount, paymentAddress, checkoutURL, paymentAmount, expiresAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AttemptRecord{}, ErrAttemptNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return AttemptRecord{}, ErrPurchaseIDConflict
		}
		return AttemptRecord{}, fmt.Errorf("attach initiation: %w", err)
	}

	return record, nil
}

// TransitionStatus performs a compare-and-swap from one status to another.
// It returns false without error when the row was already past the expected
// status, which callers treat as an idempotent no-op.
func (r *AttemptJournalRepo) TransitionStatus(ctx context.Context, purchaseID, from, to string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return false, fmt.Errorf("invalid status transition payload")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE purchase_attempts
SET status = $3, updated_at = NOW()
WHERE purchase_id = $1
  AND status = $2
`, purchaseID, strings.ToLower(strings.TrimSpace(from)), strings.ToLower(strings.TrimSpace(to)))
	if err != nil {
		return false, fmt.Errorf("transition attempt status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *AttemptJournalRepo) SetProofReference(ctx context.Context, purchaseID, proofReference string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	proofReference = strings.TrimSpace(proofReference)
	if purchaseID == "" || proofReference == "" {
		return fmt.Errorf("invalid proof reference payload")
	}

	// Resubmission overwrites the reference only while unconfirmed.
	tag, err := r.pool.Exec(ctx, `
UPDATE purchase_attempts
SET proof_reference = $2, updated_at = NOW()
WHERE purchase_id = $1
  AND status NOT IN ('confirmed', 'failed', 'expired')
`, purchaseID, proofReference)
	if err != nil {
		return fmt.Errorf("set proof reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *AttemptJournalRepo) FindByAttemptKey(ctx context.Context, attemptKey string) (AttemptRecord, error) {
	if r.pool == nil {
		return AttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	attemptKey = strings.TrimSpace(attemptKey)
	if attemptKey == "" {
		return AttemptRecord{}, fmt.Errorf("attempt key is required")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
SELECT attempt_key, purchase_id, user_id, product_id, method, status, due_amount,
       payment_address, payment_amount, checkout_url, expires_at, proof_reference,
       created_at, updated_at
FROM purchase_attempts
WHERE attempt_key = $1
LIMIT 1
`, attemptKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AttemptRecord{}, ErrAttemptNotFound
		}
		return AttemptRecord{}, fmt.Errorf("find attempt by key: %w", err)
	}

	return record, nil
}

func (r *AttemptJournalRepo) FindByPurchaseID(ctx context.Context, purchaseID string) (AttemptRecord, error) {
	if r.pool == nil {
		return AttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return AttemptRecord{}, fmt.Errorf("purchase id is required")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
SELECT attempt_key, purchase_id, user_id, product_id, method, status, due_amount,
       payment_address, payment_amount, checkout_url, expires_at, proof_reference,
       created_at, updated_at
FROM purchase_attempts
WHERE purchase_id = $1
LIMIT 1
`, purchaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AttemptRecord{}, ErrAttemptNotFound
		}
		return AttemptRecord{}, fmt.Errorf("find attempt by purchase id: %w", err)
	}

	return record, nil
}

// ListUnresolved returns attempts that still await a terminal status, newest
// first.
func (r *AttemptJournalRepo) ListUnresolved(ctx context.Context, userID int64) ([]AttemptRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT attempt_key, purchase_id, user_id, product_id, method, status, due_amount,
       payment_address, payment_amount, checkout_url, expires_at, proof_reference,
       created_at, updated_at
FROM purchase_attempts
WHERE user_id = $1
  AND status NOT IN ('confirmed', 'failed', 'expired')
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved attempts: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		record, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unresolved attempt: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved attempts: %w", err)
	}

	return records, nil
}

// ListUnresolvedUsers returns the users that still have attempts awaiting a
// terminal status; the reconciler iterates over them.
func (r *AttemptJournalRepo) ListUnresolvedUsers(ctx context.Context) ([]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT user_id
FROM purchase_attempts
WHERE status NOT IN ('confirmed', 'failed', 'expired')
  AND purchase_id IS NOT NULL
`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved users: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan unresolved user: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved users: %w", err)
	}

	return userIDs, nil
}

func scanAttempt(row pgx.Row) (AttemptRecord, error) {
	var record AttemptRecord
	if err := row.Scan(
		&record.AttemptKey,
		&record.PurchaseID,
		&record.UserID,
		&record.ProductID,
		&record.Method,
		&record.Status,
		&record.DueAmount,
		&record.PaymentAddress,
		&record.PaymentAmount,
		&record.CheckoutURL,
		&record.ExpiresAt,
		&record.ProofReference,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return AttemptRecord{}, err
	}
	return record, nil
}
