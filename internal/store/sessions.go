// internal/store/sessions.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/protocol"
)

// SessionStore persists diagnostic sessions and their append-only history.
// Each mutation runs in a single transaction so a session is never left
// with a status that disagrees with its turns.
type SessionStore struct {
	*DB
}

// NewSessionStore creates a session store on db
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{DB: db}
}

const sessionColumns = `id, plant_id, problem, status, finding, recommendation,
	failure_kind, failure_reason, created_at, updated_at`

// Load returns the open (in progress or pending) session for plant and problem
func (s *SessionStore) Load(ctx context.Context, plantID, problem string) (*protocol.Session, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM sessions
		WHERE plant_id = ? AND problem = ? AND status IN (?, ?)
	`, plantID, problem, protocol.StatusInProgress, protocol.StatusPendingUserInput).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "load", Err: err}
	}
	return s.Get(ctx, id)
}

// Create starts a new in-progress session. If an open session for the same
// plant and problem already exists, that session is returned instead.
func (s *SessionStore) Create(ctx context.Context, plantID, problem string) (*protocol.Session, error) {
	id := uuid.NewString()
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, plant_id, problem, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, plantID, problem, protocol.StatusInProgress, now, now)
	if isUniqueViolation(err) {
		s.logger.Debug("open session already exists", zap.String("plant_id", plantID))
		return s.Load(ctx, plantID, problem)
	}
	if err != nil {
		return nil, &Error{Op: "create", Err: err}
	}
	return s.Get(ctx, id)
}

// Get loads a session with its full turn, hypothesis and vitals history
func (s *SessionStore) Get(ctx context.Context, id string) (*protocol.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "get", Err: err}
	}

	if sess.Turns, err = s.turns(ctx, id); err != nil {
		return nil, &Error{Op: "get turns", Err: err}
	}
	if sess.Hypotheses, err = s.hypotheses(ctx, id); err != nil {
		return nil, &Error{Op: "get hypotheses", Err: err}
	}
	if sess.Vitals, err = s.vitals(ctx, id); err != nil {
		return nil, &Error{Op: "get vitals", Err: err}
	}
	return sess, nil
}

// AppendTurn appends a turn and moves the session to next in one transaction
func (s *SessionStore) AppendTurn(ctx context.Context, id string, role protocol.Role, text string, next protocol.Status) (protocol.Turn, error) {
	turn := protocol.Turn{Role: role, Text: text}
	err := s.withTx(ctx, "append turn", func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id); err != nil {
			return err
		}
		current, err := statusOf(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
		}
		if turn.Seq, err = nextSeq(ctx, tx, "turns", id); err != nil {
			return err
		}
		now := s.stamp()
		turn.CreatedAt = parseTime(now)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)
		`, id, turn.Seq, role, text, now); err != nil {
			return err
		}
		return setStatus(ctx, tx, id, current, next, now)
	})
	return turn, err
}

// AppendHypothesis appends a hypothesis entry to an in-progress session
func (s *SessionStore) AppendHypothesis(ctx context.Context, id, key, value string) (protocol.Hypothesis, error) {
	h := protocol.Hypothesis{Key: key, Value: value}
	err := s.withTx(ctx, "append hypothesis", func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id); err != nil {
			return err
		}
		if err := requireStatus(ctx, tx, id, protocol.StatusInProgress); err != nil {
			return err
		}
		var err error
		if h.Seq, err = nextSeq(ctx, tx, "hypotheses", id); err != nil {
			return err
		}
		now := s.stamp()
		h.CreatedAt = parseTime(now)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hypotheses (session_id, seq, key, value, created_at) VALUES (?, ?, ?, ?, ?)
		`, id, h.Seq, key, value, now); err != nil {
			return err
		}
		return touch(ctx, tx, id, now)
	})
	return h, err
}

// AppendVitals records a vitals snapshot fetched for an in-progress session
func (s *SessionStore) AppendVitals(ctx context.Context, id string, vitals protocol.PlantVitals, reason string) (protocol.VitalsSnapshot, error) {
	snap := protocol.VitalsSnapshot{Vitals: vitals, Reason: reason}
	err := s.withTx(ctx, "append vitals", func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id); err != nil {
			return err
		}
		if err := requireStatus(ctx, tx, id, protocol.StatusInProgress); err != nil {
			return err
		}
		data, err := json.Marshal(vitals)
		if err != nil {
			return err
		}
		if snap.Seq, err = nextSeq(ctx, tx, "vitals_snapshots", id); err != nil {
			return err
		}
		now := s.stamp()
		snap.CreatedAt = parseTime(now)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vitals_snapshots (session_id, seq, vitals, reason, created_at) VALUES (?, ?, ?, ?, ?)
		`, id, snap.Seq, string(data), reason, now); err != nil {
			return err
		}
		return touch(ctx, tx, id, now)
	})
	return snap, err
}

// SetStatus moves the session to next if the state machine allows it
func (s *SessionStore) SetStatus(ctx context.Context, id string, next protocol.Status) error {
	return s.withTx(ctx, "set status", func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id); err != nil {
			return err
		}
		current, err := statusOf(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
		}
		return setStatus(ctx, tx, id, current, next, s.stamp())
	})
}

// SetFinding records the conclusion and completes the session
func (s *SessionStore) SetFinding(ctx context.Context, id, finding, recommendation string) error {
	return s.withTx(ctx, "set finding", func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id); err != nil {
			return err
		}
		if err := requireStatus(ctx, tx, id, protocol.StatusInProgress); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, finding = ?, recommendation = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, protocol.StatusCompleted, finding, recommendation, s.stamp(), id, protocol.StatusInProgress)
		return err
	})
}

// MarkFailed fails the session, recording the reason in place of a finding.
// History written before the failure is kept.
func (s *SessionStore) MarkFailed(ctx context.Context, id string, failure protocol.Failure) error {
	return s.withTx(ctx, "mark failed", func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id); err != nil {
			return err
		}
		current, err := statusOf(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.CanTransition(protocol.StatusFailed) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, protocol.StatusFailed)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, failure_kind = ?, failure_reason = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, protocol.StatusFailed, failure.Kind, failure.Reason, s.stamp(), id, current)
		return err
	})
}

// ListForPlant returns summaries of every session for a plant, newest first
func (s *SessionStore) ListForPlant(ctx context.Context, plantID string) ([]protocol.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.plant_id, s.problem, s.status, s.finding, s.failure_kind, s.failure_reason,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id),
			s.created_at, s.updated_at
		FROM sessions s
		WHERE s.plant_id = ?
		ORDER BY s.created_at DESC, s.id
	`, plantID)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []protocol.SessionSummary
	for rows.Next() {
		var sum protocol.SessionSummary
		var finding, failureKind, failureReason sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&sum.ID, &sum.PlantID, &sum.Problem, &sum.Status, &finding,
			&failureKind, &failureReason, &sum.Turns, &createdAt, &updatedAt); err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		sum.Finding = finding.String
		if failureKind.Valid {
			sum.Failure = &protocol.Failure{Kind: protocol.FailureKind(failureKind.String), Reason: failureReason.String}
		}
		sum.CreatedAt = parseTime(createdAt)
		sum.UpdatedAt = parseTime(updatedAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return out, nil
}

// Delete removes a session and its history
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete", func(tx *sql.Tx) error {
		for _, table := range []string{"turns", "hypotheses", "vitals_snapshots"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*protocol.Session, error) {
	var sess protocol.Session
	var finding, recommendation, failureKind, failureReason sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.PlantID, &sess.Problem, &sess.Status, &finding, &recommendation,
		&failureKind, &failureReason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.Finding = finding.String
	sess.Recommendation = recommendation.String
	if failureKind.Valid {
		sess.Failure = &protocol.Failure{Kind: protocol.FailureKind(failureKind.String), Reason: failureReason.String}
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	sess.Turns = []protocol.Turn{}
	sess.Hypotheses = []protocol.Hypothesis{}
	sess.Vitals = []protocol.VitalsSnapshot{}
	return &sess, nil
}

func (s *SessionStore) turns(ctx context.Context, id string) ([]protocol.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, text, created_at FROM turns WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.Turn{}
	for rows.Next() {
		var t protocol.Turn
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Text, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SessionStore) hypotheses(ctx context.Context, id string) ([]protocol.Hypothesis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, key, value, created_at FROM hypotheses WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.Hypothesis{}
	for rows.Next() {
		var h protocol.Hypothesis
		var createdAt string
		if err := rows.Scan(&h.Seq, &h.Key, &h.Value, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SessionStore) vitals(ctx context.Context, id string) ([]protocol.VitalsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, vitals, reason, created_at FROM vitals_snapshots WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.VitalsSnapshot{}
	for rows.Next() {
		var v protocol.VitalsSnapshot
		var data, createdAt string
		var reason sql.NullString
		if err := rows.Scan(&v.Seq, &data, &reason, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &v.Vitals); err != nil {
			return nil, fmt.Errorf("decode vitals snapshot %d: %w", v.Seq, err)
		}
		v.Reason = reason.String
		v.CreatedAt = parseTime(createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

func statusOf(ctx context.Context, tx *sql.Tx, id string) (protocol.Status, error) {
	var status protocol.Status
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}

func requireStatus(ctx context.Context, tx *sql.Tx, id string, want protocol.Status) error {
	current, err := statusOf(ctx, tx, id)
	if err != nil {
		return err
	}
	if current != want {
		return fmt.Errorf("%w: session is %s, want %s", ErrInvalidTransition, current, want)
	}
	return nil
}

func setStatus(ctx context.Context, tx *sql.Tx, id string, from, to protocol.Status, now string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, now, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
	}
	return nil
}

func touch(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id)
	return err
}

// table is always one of the fixed history tables
func nextSeq(ctx context.Context, tx *sql.Tx, table, id string) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM `+table+` WHERE session_id = ?`, id).Scan(&seq)
	return seq, err
}
