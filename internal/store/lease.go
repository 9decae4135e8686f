// internal/store/lease.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Acquire takes the per-session lease for owner. The lease is granted when
// nobody holds it, when it has expired, or when owner already holds it.
// Another live holder yields ErrSessionBusy without waiting.
func (s *SessionStore) Acquire(ctx context.Context, id, owner string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET lease_owner = ?, lease_expires_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires_at <= ?)
	`, owner, now.Add(ttl).UnixMilli(), id, owner, now.UnixMilli())
	if err != nil {
		if IsBusy(err) {
			return ErrSessionBusy
		}
		return &Error{Op: "acquire lease", Err: err}
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var holder sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT lease_owner FROM sessions WHERE id = ?`, id).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return &Error{Op: "acquire lease", Err: err}
	}
	s.logger.Debug("session lease held", zap.String("session_id", id), zap.String("holder", holder.String))
	return ErrSessionBusy
}

// Release drops the lease if owner still holds it
func (s *SessionStore) Release(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND lease_owner = ?
	`, id, owner)
	if err != nil {
		return &Error{Op: "release lease", Err: err}
	}
	return nil
}

type leaseKey struct{}

// WithLease marks ctx as acting under owner's lease. Session mutations made
// with such a context fail with ErrSessionBusy unless owner still holds an
// unexpired lease on the session.
func WithLease(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, leaseKey{}, owner)
}

// LeaseOwner returns the owner set by WithLease
func LeaseOwner(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(leaseKey{}).(string)
	return owner, ok
}

// checkLease runs inside every mutation transaction
func (s *SessionStore) checkLease(ctx context.Context, tx *sql.Tx, id string) error {
	owner, ok := LeaseOwner(ctx)
	if !ok {
		return nil
	}
	var holder sql.NullString
	var expires sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT lease_owner, lease_expires_at FROM sessions WHERE id = ?`, id).Scan(&holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if holder.String != owner || expires.Int64 <= s.now().UnixMilli() {
		s.logger.Debug("mutation without a live lease",
			zap.String("session_id", id),
			zap.String("owner", owner),
			zap.String("holder", holder.String))
		return fmt.Errorf("%w: lease lost", ErrSessionBusy)
	}
	return nil
}
