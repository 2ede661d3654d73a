package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

// uniqueViolation is the Postgres error code raised by the UNIQUE
// (user_id, reason, ref_key) index. It is the ledger's concurrency
// primitive: a retried write hits it and is absorbed as already applied.
const uniqueViolation = "23505"

type Repository struct {
	db    *sql.DB
	clock clock.Clock
}

func NewRepository(db *sql.DB, clk clock.Clock) *Repository {
	return &Repository{db: db, clock: clk}
}

// Balance is the sum of the user's entries. There is no cached counter to
// drift out of sync with the journal.
func (r *Repository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM point_ledger
		WHERE user_id = $1
	`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return balance, nil
}

// Spend appends a debit entry. It fails with ErrInsufficientBalance when the
// user's balance cannot cover the amount, and silently succeeds when an
// entry with the same (user, reason, refKey) already exists.
func (r *Repository) Spend(ctx context.Context, userID string, amount int64, reason domain.LedgerReason, refKey string) error {
	if amount <= 0 {
		return fmt.Errorf("spend amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Serializes concurrent spends for the same user; the append-only table
	// has no single row to lock.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 42))`, userID); err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO point_ledger (id, user_id, amount, reason, ref_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), userID, -amount, reason, refKey, r.clock.Now())
	if err != nil {
		if isUniqueViolation(err) {
			// Already applied by an earlier delivery of the same trigger.
			return nil
		}
		return fmt.Errorf("append debit entry: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM point_ledger WHERE user_id = $1
	`, userID).Scan(&balance); err != nil {
		return fmt.Errorf("recompute balance: %w", err)
	}
	if balance < 0 {
		return domain.ErrInsufficientBalance
	}

	return tx.Commit()
}

// Accrue appends a credit entry. A non-positive amount is a silent no-op so
// reward calculations that come out to zero never error. Duplicate keys are
// absorbed the same way Spend absorbs them.
func (r *Repository) Accrue(ctx context.Context, userID string, amount int64, reason domain.LedgerReason, refKey string) error {
	if amount <= 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO point_ledger (id, user_id, amount, reason, ref_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), userID, amount, reason, refKey, r.clock.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("append credit entry: %w", err)
	}
	return nil
}

// AccrueTx is Accrue inside a caller's transaction. The duplicate key is
// absorbed with ON CONFLICT rather than by catching the violation, which
// would abort the surrounding transaction.
func (r *Repository) AccrueTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, reason domain.LedgerReason, refKey string) error {
	if amount <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO point_ledger (id, user_id, amount, reason, ref_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, reason, ref_key) DO NOTHING
	`, uuid.New().String(), userID, amount, reason, refKey, r.clock.Now())
	if err != nil {
		return fmt.Errorf("append credit entry: %w", err)
	}
	return nil
}

// Entries returns the user's journal, newest first.
func (r *Repository) Entries(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, amount, reason, ref_key, created_at
		FROM point_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &e.RefKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RequestRedemption debits the points up front and records the request.
// The debit is keyed by the redemption id, so a retried request for the same
// id burns points once.
func (r *Repository) RequestRedemption(ctx context.Context, userID string, amount int64) (*domain.Redemption, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("redemption amount must be positive, got %d", amount)
	}

	red := &domain.Redemption{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Status:    domain.RedemptionRequested,
		CreatedAt: r.clock.Now(),
	}
	red.UpdatedAt = red.CreatedAt

	if err := r.Spend(ctx, userID, amount, domain.ReasonRedeemRequest, red.ID); err != nil {
		return nil, err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO point_redemptions (id, user_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, red.ID, red.UserID, red.Amount, red.Status, red.CreatedAt)
	if err != nil {
		// Give the points back; the request row never landed.
		if rErr := r.Accrue(ctx, userID, amount, domain.ReasonRedeemReject, red.ID); rErr != nil {
			return nil, errors.Join(err, rErr)
		}
		return nil, fmt.Errorf("record redemption: %w", err)
	}
	return red, nil
}

// ResolveRedemption moves a REQUESTED redemption to APPROVED or REJECTED.
// Rejection writes the offsetting credit. Resolving twice is a no-op for
// the same outcome and a conflict for a different one.
func (r *Repository) ResolveRedemption(ctx context.Context, id string, status domain.RedemptionStatus) (*domain.Redemption, error) {
	if status != domain.RedemptionApproved && status != domain.RedemptionRejected {
		return nil, fmt.Errorf("invalid resolution status %q", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	red := &domain.Redemption{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, amount, status, created_at, updated_at
		FROM point_redemptions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&red.ID, &red.UserID, &red.Amount, &red.Status, &red.CreatedAt, &red.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if red.Status != domain.RedemptionRequested {
		if red.Status == status {
			return red, nil
		}
		return nil, domain.ErrConflict
	}

	now := r.clock.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE point_redemptions SET status = $1, updated_at = $2 WHERE id = $3
	`, status, now, id); err != nil {
		return nil, err
	}

	if status == domain.RedemptionRejected {
		// The refund commits atomically with the status flip. A concurrent
		// duplicate resolve never reaches this insert: the row lock above
		// serializes it into the already-resolved branch.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO point_ledger (id, user_id, amount, reason, ref_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), red.UserID, red.Amount, domain.ReasonRedeemReject, red.ID, now)
		if err != nil {
			return nil, fmt.Errorf("append rejection credit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	red.Status = status
	red.UpdatedAt = now
	return red, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
