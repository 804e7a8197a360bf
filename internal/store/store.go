// Package store is the single source of truth for durable daemon state:
// sessions, conversation turns, approval requests, and the commit-ordered
// event journal. Every mutating operation runs in one SQLite transaction
// that also appends the resulting journal rows, so callers can publish
// events to subscribers in exactly the order they were committed.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmarsh/overseer/internal/identity"
	"github.com/dmarsh/overseer/internal/schema"
	"github.com/dmarsh/overseer/internal/types"
)

// Store wraps the SQLite database holding all durable state.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating and migrating if necessary) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := schema.OpenDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := schema.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle for read-only queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// wrapDB converts a database error into the typed taxonomy. Row-misses
// become ErrNotFound; constraint violations on the pending-approval index
// become ErrConflict; everything else is a retryable storage failure.
func wrapDB(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	case strings.Contains(err.Error(), "UNIQUE constraint failed: approvals"):
		return fmt.Errorf("%s: pending approval already exists: %w", op, types.ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, types.ErrStorageUnavailable, err)
	}
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// insertEvent appends an event row inside tx and fills in the
// store-assigned fields (ID, Seq).
func insertEvent(tx *sql.Tx, evt *types.Event) error {
	if evt.ID == "" {
		evt.ID = identity.GenerateEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(evt.Payload) > 0 {
		payload = string(evt.Payload)
	}

	res, err := tx.Exec(
		`INSERT INTO events (event_id, type, session_id, timestamp, payload) VALUES (?, ?, ?, ?, ?)`,
		evt.ID, string(evt.Type), evt.SessionID, formatTime(evt.Timestamp), payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event sequence: %w", err)
	}
	evt.Seq = seq
	return nil
}

// CreateSession persists a new session and returns the committed
// session.created event. A non-empty ParentID must reference an existing
// session.
func (s *Store) CreateSession(sess *types.Session) (types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return types.Event{}, wrapDB("create session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if sess.ParentID != "" {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM sessions WHERE session_id = ?`, sess.ParentID).Scan(&exists)
		if err != nil {
			return types.Event{}, wrapDB("check parent session", err)
		}
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO sessions (session_id, parent_id, status, status_reason, work_dir, provider, model, prompt,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullable(sess.ParentID), string(sess.Status), sess.StatusReason,
		sess.WorkDir, sess.Provider, sess.Model, sess.Prompt,
		sess.Usage.Input, sess.Usage.Output, sess.Usage.CacheCreation, sess.Usage.CacheRead,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return types.Event{}, wrapDB("insert session", err)
	}

	evt, err := types.NewEvent(types.EventSessionCreated, sess.ID, types.SessionStatusPayload{
		Status:   sess.Status,
		ParentID: sess.ParentID,
	})
	if err != nil {
		return types.Event{}, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &evt); err != nil {
		return types.Event{}, wrapDB("create session", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Event{}, wrapDB("commit create session", err)
	}
	return evt, nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(id string) (*types.Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, parent_id, status, status_reason, work_dir, provider, model, prompt,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at, updated_at
		FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, wrapDB("get session", err)
	}
	return sess, nil
}

// ListSessions returns sessions matching the filter, newest first.
func (s *Store) ListSessions(filter types.SessionFilter) ([]*types.Session, error) {
	query := `
		SELECT session_id, parent_id, status, status_reason, work_dir, provider, model, prompt,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at, updated_at
		FROM sessions`
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if filter.Active {
		conds = append(conds, "status NOT IN ('completed', 'failed')")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY session_id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapDB("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapDB("scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate sessions", err)
	}
	return sessions, nil
}

// TransitionSession atomically moves a session from one status to
// another and returns the updated session plus the committed
// session.status event. Fails with ErrInvalidTransition when the stored
// status no longer matches from (a concurrent transition won).
func (s *Store) TransitionSession(id string, from, to types.SessionStatus, reason string) (*types.Session, types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, types.Event{}, wrapDB("transition session", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRow(`SELECT status FROM sessions WHERE session_id = ?`, id).Scan(&current); err != nil {
		return nil, types.Event{}, wrapDB("transition session", err)
	}
	if types.SessionStatus(current) != from {
		return nil, types.Event{}, fmt.Errorf(
			"transition session %s: status is %s, not %s: %w", id, current, from, types.ErrInvalidTransition)
	}

	now := formatTime(time.Now())
	if _, err := tx.Exec(
		`UPDATE sessions SET status = ?, status_reason = ?, updated_at = ? WHERE session_id = ?`,
		string(to), reason, now, id,
	); err != nil {
		return nil, types.Event{}, wrapDB("update session status", err)
	}

	evt, err := types.NewEvent(types.EventSessionStatus, id, types.SessionStatusPayload{
		Status: to,
		Reason: reason,
	})
	if err != nil {
		return nil, types.Event{}, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &evt); err != nil {
		return nil, types.Event{}, wrapDB("transition session", err)
	}

	sess, err := getSessionTx(tx, id)
	if err != nil {
		return nil, types.Event{}, wrapDB("reload session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, types.Event{}, wrapDB("commit transition", err)
	}
	return sess, evt, nil
}

// UpdateSession applies a partial mutation to a session atomically. Nil
// mutation fields leave the stored values unchanged; AddUsage increments
// the token counters. A status change commits a session.status event in
// the same transaction. Callers that need compare-and-swap semantics on
// the status use TransitionSession instead.
func (s *Store) UpdateSession(id string, mut types.SessionMutation) (*types.Session, []types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, wrapDB("update session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getSessionTx(tx, id); err != nil {
		return nil, nil, wrapDB("update session", err)
	}

	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}
	if mut.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*mut.Status))
	}
	if mut.StatusReason != nil {
		sets = append(sets, "status_reason = ?")
		args = append(args, *mut.StatusReason)
	}
	if mut.AddUsage != nil {
		sets = append(sets,
			"input_tokens = input_tokens + ?",
			"output_tokens = output_tokens + ?",
			"cache_creation_tokens = cache_creation_tokens + ?",
			"cache_read_tokens = cache_read_tokens + ?")
		args = append(args, mut.AddUsage.Input, mut.AddUsage.Output,
			mut.AddUsage.CacheCreation, mut.AddUsage.CacheRead)
	}
	args = append(args, id)

	if _, err := tx.Exec(
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`, args...,
	); err != nil {
		return nil, nil, wrapDB("update session", err)
	}

	sess, err := getSessionTx(tx, id)
	if err != nil {
		return nil, nil, wrapDB("reload session", err)
	}

	var events []types.Event
	if mut.Status != nil {
		evt, err := types.NewEvent(types.EventSessionStatus, id, types.SessionStatusPayload{
			Status: sess.Status,
			Reason: sess.StatusReason,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build event: %w", err)
		}
		if err := insertEvent(tx, &evt); err != nil {
			return nil, nil, wrapDB("update session", err)
		}
		events = append(events, evt)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, wrapDB("commit update session", err)
	}
	return sess, events, nil
}

// AppendTurn appends a conversation turn to a session, rolls its token
// usage up onto the session record, and returns the stored turn plus the
// committed turn.appended event. Turns are assigned the next sequence
// number inside the transaction, so concurrent appends cannot collide.
func (s *Store) AppendTurn(sessionID string, role types.TurnRole, content string, usage types.TokenUsage) (*types.ConversationTurn, types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, types.Event{}, wrapDB("append turn", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, types.Event{}, wrapDB("append turn", err)
	}

	var seq int64
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return nil, types.Event{}, wrapDB("next turn seq", err)
	}

	turn := &types.ConversationTurn{
		ID:        identity.GenerateTurnID(),
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		Usage:     usage,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := tx.Exec(`
		INSERT INTO turns (turn_id, session_id, seq, role, content,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Seq, string(turn.Role), turn.Content,
		usage.Input, usage.Output, usage.CacheCreation, usage.CacheRead,
		formatTime(turn.CreatedAt),
	); err != nil {
		return nil, types.Event{}, wrapDB("insert turn", err)
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cache_creation_tokens = cache_creation_tokens + ?,
			cache_read_tokens = cache_read_tokens + ?,
			updated_at = ?
		WHERE session_id = ?`,
		usage.Input, usage.Output, usage.CacheCreation, usage.CacheRead,
		formatTime(time.Now()), sessionID,
	); err != nil {
		return nil, types.Event{}, wrapDB("roll up usage", err)
	}

	evt, err := types.NewEvent(types.EventTurnAppended, sessionID, types.TurnAppendedPayload{
		TurnID: turn.ID,
		Seq:    turn.Seq,
		Role:   turn.Role,
		Usage:  turn.Usage,
	})
	if err != nil {
		return nil, types.Event{}, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &evt); err != nil {
		return nil, types.Event{}, wrapDB("append turn", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, types.Event{}, wrapDB("commit append turn", err)
	}
	return turn, evt, nil
}

// ListTurns returns a session's transcript in sequence order.
func (s *Store) ListTurns(sessionID string) ([]*types.ConversationTurn, error) {
	rows, err := s.db.Query(`
		SELECT turn_id, session_id, seq, role, content,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at
		FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, wrapDB("list turns", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		var role, createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &role, &t.Content,
			&t.Usage.Input, &t.Usage.Output, &t.Usage.CacheCreation, &t.Usage.CacheRead,
			&createdAt); err != nil {
			return nil, wrapDB("scan turn", err)
		}
		t.Role = types.TurnRole(role)
		t.CreatedAt = parseTime(createdAt)
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate turns", err)
	}
	return turns, nil
}

// CreateApproval persists a pending approval request and moves its
// session into waiting_approval in the same transaction. Fails with
// ErrConflict when a pending approval already exists for the session, and
// with ErrInvalidTransition when the session is not running.
func (s *Store) CreateApproval(req *types.ApprovalRequest) ([]types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapDB("create approval", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRow(`SELECT status FROM sessions WHERE session_id = ?`, req.SessionID).Scan(&current); err != nil {
		return nil, wrapDB("create approval", err)
	}
	if types.SessionStatus(current) != types.StatusRunning {
		return nil, fmt.Errorf("create approval: session %s is %s, not running: %w",
			req.SessionID, current, types.ErrInvalidTransition)
	}

	var pending int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM approvals WHERE session_id = ? AND status = 'pending'`, req.SessionID,
	).Scan(&pending)
	if err != nil {
		return nil, wrapDB("check pending approval", err)
	}
	if pending > 0 {
		return nil, fmt.Errorf("create approval: session %s already has a pending approval: %w",
			req.SessionID, types.ErrConflict)
	}

	req.Status = types.ApprovalPending
	req.CreatedAt = time.Now().UTC()

	var expiresAt any
	if req.ExpiresAt != nil {
		expiresAt = formatTime(*req.ExpiresAt)
	}

	if _, err := tx.Exec(`
		INSERT INTO approvals (approval_id, session_id, tool_name, call_id, payload, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, req.ToolName, req.CallID, req.Payload,
		string(req.Status), formatTime(req.CreatedAt), expiresAt,
	); err != nil {
		return nil, wrapDB("insert approval", err)
	}

	now := formatTime(time.Now())
	if _, err := tx.Exec(
		`UPDATE sessions SET status = ?, status_reason = '', updated_at = ? WHERE session_id = ?`,
		string(types.StatusWaitingApproval), now, req.SessionID,
	); err != nil {
		return nil, wrapDB("suspend session", err)
	}

	var events []types.Event

	reqEvt, err := types.NewEvent(types.EventApprovalRequested, req.SessionID, types.ApprovalPayload{
		ApprovalID: req.ID,
		ToolName:   req.ToolName,
		Status:     req.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &reqEvt); err != nil {
		return nil, wrapDB("create approval", err)
	}
	events = append(events, reqEvt)

	statusEvt, err := types.NewEvent(types.EventSessionStatus, req.SessionID, types.SessionStatusPayload{
		Status: types.StatusWaitingApproval,
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &statusEvt); err != nil {
		return nil, wrapDB("create approval", err)
	}
	events = append(events, statusEvt)

	if err := tx.Commit(); err != nil {
		return nil, wrapDB("commit create approval", err)
	}
	return events, nil
}

// ResolveOutcome describes the session-side effect of resolving an
// approval.
type ResolveOutcome struct {
	Approval      *types.ApprovalRequest
	Session       *types.Session
	SessionStatus types.SessionStatus // status after resolution
	Events        []types.Event
}

// ResolveApproval atomically records a terminal decision on a pending
// approval and applies the matching session transition: approved resumes
// the session to running, denied and expired fail it. The decision and
// the transition commit together. Fails with ErrConflict when the
// approval is not pending (double resolution keeps the first decision).
// When the session has already left waiting_approval (e.g. cancelled
// mid-wait), only the approval record is updated.
func (s *Store) ResolveApproval(id string, outcome types.ApprovalStatus, decider, reason string) (*ResolveOutcome, error) {
	if !outcome.Terminal() {
		return nil, fmt.Errorf("resolve approval: %q is not a terminal status: %w", outcome, types.ErrConflict)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapDB("resolve approval", err)
	}
	defer func() { _ = tx.Rollback() }()

	approval, err := getApprovalTx(tx, id)
	if err != nil {
		return nil, wrapDB("resolve approval", err)
	}
	if approval.Status != types.ApprovalPending {
		return nil, fmt.Errorf("resolve approval %s: already %s: %w", id, approval.Status, types.ErrConflict)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE approvals SET status = ?, decided_at = ?, decided_by = ? WHERE approval_id = ?`,
		string(outcome), formatTime(now), decider, id,
	); err != nil {
		return nil, wrapDB("update approval", err)
	}
	approval.Status = outcome
	approval.DecidedAt = &now
	approval.DecidedBy = decider

	var events []types.Event
	resolvedEvt, err := types.NewEvent(types.EventApprovalResolved, approval.SessionID, types.ApprovalPayload{
		ApprovalID: approval.ID,
		ToolName:   approval.ToolName,
		Status:     outcome,
		DecidedBy:  decider,
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &resolvedEvt); err != nil {
		return nil, wrapDB("resolve approval", err)
	}
	events = append(events, resolvedEvt)

	var sessionStatus string
	if err := tx.QueryRow(
		`SELECT status FROM sessions WHERE session_id = ?`, approval.SessionID,
	).Scan(&sessionStatus); err != nil {
		return nil, wrapDB("resolve approval", err)
	}

	newStatus := types.SessionStatus(sessionStatus)
	if newStatus == types.StatusWaitingApproval {
		switch outcome {
		case types.ApprovalApproved:
			newStatus = types.StatusRunning
		case types.ApprovalDenied, types.ApprovalExpired:
			newStatus = types.StatusFailed
		}

		if _, err := tx.Exec(
			`UPDATE sessions SET status = ?, status_reason = ?, updated_at = ? WHERE session_id = ?`,
			string(newStatus), reason, formatTime(now), approval.SessionID,
		); err != nil {
			return nil, wrapDB("resume session", err)
		}

		statusEvt, err := types.NewEvent(types.EventSessionStatus, approval.SessionID, types.SessionStatusPayload{
			Status: newStatus,
			Reason: reason,
		})
		if err != nil {
			return nil, fmt.Errorf("build event: %w", err)
		}
		if err := insertEvent(tx, &statusEvt); err != nil {
			return nil, wrapDB("resolve approval", err)
		}
		events = append(events, statusEvt)
	}

	sess, err := getSessionTx(tx, approval.SessionID)
	if err != nil {
		return nil, wrapDB("reload session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDB("commit resolve approval", err)
	}

	return &ResolveOutcome{
		Approval:      approval,
		Session:       sess,
		SessionStatus: newStatus,
		Events:        events,
	}, nil
}

// CancelSession fails a non-terminal session and denies any pending
// approval in the same transaction. Cancelling a terminal session is a
// no-op, not an error. Returns the (possibly unchanged) session and the
// committed events.
func (s *Store) CancelSession(id, reason string) (*types.Session, []types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, wrapDB("cancel session", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getSessionTx(tx, id)
	if err != nil {
		return nil, nil, wrapDB("cancel session", err)
	}
	if sess.Status.Terminal() {
		// Idempotent: already done.
		return sess, nil, nil
	}

	now := time.Now().UTC()
	var events []types.Event

	// Deny any pending approval so it cannot be decided later.
	var approvalID string
	err = tx.QueryRow(
		`SELECT approval_id FROM approvals WHERE session_id = ? AND status = 'pending'`, id,
	).Scan(&approvalID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, wrapDB("cancel session", err)
	}
	if approvalID != "" {
		if _, err := tx.Exec(
			`UPDATE approvals SET status = ?, decided_at = ?, decided_by = ? WHERE approval_id = ?`,
			string(types.ApprovalDenied), formatTime(now), "system:cancel", approvalID,
		); err != nil {
			return nil, nil, wrapDB("deny pending approval", err)
		}
		evt, err := types.NewEvent(types.EventApprovalResolved, id, types.ApprovalPayload{
			ApprovalID: approvalID,
			Status:     types.ApprovalDenied,
			DecidedBy:  "system:cancel",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build event: %w", err)
		}
		if err := insertEvent(tx, &evt); err != nil {
			return nil, nil, wrapDB("cancel session", err)
		}
		events = append(events, evt)
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET status = ?, status_reason = ?, updated_at = ? WHERE session_id = ?`,
		string(types.StatusFailed), reason, formatTime(now), id,
	); err != nil {
		return nil, nil, wrapDB("fail session", err)
	}

	statusEvt, err := types.NewEvent(types.EventSessionStatus, id, types.SessionStatusPayload{
		Status: types.StatusFailed,
		Reason: reason,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build event: %w", err)
	}
	if err := insertEvent(tx, &statusEvt); err != nil {
		return nil, nil, wrapDB("cancel session", err)
	}
	events = append(events, statusEvt)

	sess, err = getSessionTx(tx, id)
	if err != nil {
		return nil, nil, wrapDB("reload session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, wrapDB("commit cancel session", err)
	}
	return sess, events, nil
}

// GetApproval returns the approval with the given id.
func (s *Store) GetApproval(id string) (*types.ApprovalRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapDB("get approval", err)
	}
	defer func() { _ = tx.Rollback() }()

	approval, err := getApprovalTx(tx, id)
	if err != nil {
		return nil, wrapDB("get approval", err)
	}
	return approval, nil
}

// GetPendingApproval returns the pending approval for a session, or
// ErrNotFound when the session has none.
func (s *Store) GetPendingApproval(sessionID string) (*types.ApprovalRequest, error) {
	row := s.db.QueryRow(approvalColumns+` WHERE session_id = ? AND status = 'pending'`, sessionID)
	approval, err := scanApproval(row)
	if err != nil {
		return nil, wrapDB("get pending approval", err)
	}
	return approval, nil
}

// ListApprovals returns approvals, optionally filtered by session and
// status, newest first.
func (s *Store) ListApprovals(sessionID string, status types.ApprovalStatus) ([]*types.ApprovalRequest, error) {
	query := approvalColumns
	var conds []string
	var args []any
	if sessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, sessionID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY approval_id DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapDB("list approvals", err)
	}
	defer func() { _ = rows.Close() }()

	var approvals []*types.ApprovalRequest
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, wrapDB("scan approval", err)
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate approvals", err)
	}
	return approvals, nil
}

// EventsSince returns journal events with seq greater than sinceSeq, in
// commit order. An empty sessionID matches all sessions. This is the
// replay path for subscribers whose delivery queue overflowed.
func (s *Store) EventsSince(sinceSeq int64, sessionID string, limit int) ([]types.Event, error) {
	query := `SELECT seq, event_id, type, session_id, timestamp, payload FROM events WHERE seq > ?`
	args := []any{sinceSeq}
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY seq"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapDB("events since", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.Event
	for rows.Next() {
		var evt types.Event
		var typ, timestamp string
		var payload sql.NullString
		if err := rows.Scan(&evt.Seq, &evt.ID, &typ, &evt.SessionID, &timestamp, &payload); err != nil {
			return nil, wrapDB("scan event", err)
		}
		evt.Type = types.EventType(typ)
		evt.Timestamp = parseTime(timestamp)
		if payload.Valid {
			evt.Payload = []byte(payload.String)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate events", err)
	}
	return events, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var sess types.Session
	var parentID sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&sess.ID, &parentID, &status, &sess.StatusReason,
		&sess.WorkDir, &sess.Provider, &sess.Model, &sess.Prompt,
		&sess.Usage.Input, &sess.Usage.Output, &sess.Usage.CacheCreation, &sess.Usage.CacheRead,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		sess.ParentID = parentID.String
	}
	sess.Status = types.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func getSessionTx(tx *sql.Tx, id string) (*types.Session, error) {
	row := tx.QueryRow(`
		SELECT session_id, parent_id, status, status_reason, work_dir, provider, model, prompt,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at, updated_at
		FROM sessions WHERE session_id = ?`, id)
	return scanSession(row)
}

const approvalColumns = `SELECT approval_id, session_id, tool_name, call_id, payload, status, created_at, expires_at, decided_at, decided_by FROM approvals`

func scanApproval(row scanner) (*types.ApprovalRequest, error) {
	var a types.ApprovalRequest
	var status, createdAt string
	var expiresAt, decidedAt sql.NullString

	err := row.Scan(&a.ID, &a.SessionID, &a.ToolName, &a.CallID, &a.Payload,
		&status, &createdAt, &expiresAt, &decidedAt, &a.DecidedBy)
	if err != nil {
		return nil, err
	}
	a.Status = types.ApprovalStatus(status)
	a.CreatedAt = parseTime(createdAt)
	if expiresAt.Valid {
		t := parseTime(expiresAt.String)
		a.ExpiresAt = &t
	}
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		a.DecidedAt = &t
	}
	return &a, nil
}

func getApprovalTx(tx *sql.Tx, id string) (*types.ApprovalRequest, error) {
	row := tx.QueryRow(approvalColumns+` WHERE approval_id = ?`, id)
	return scanApproval(row)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
