package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

const selectColumns = `link_id, tab_index, tab_name, host, port, user, backend, status, error, created_at, updated_at, closed_at`

// DefaultHistoryLimit caps List when the caller passes no limit.
const DefaultHistoryLimit = 100

// SessionRepository provides data access for session history.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new history row.
func (r *SessionRepository) Create(ctx context.Context, rec *model.SessionRecord) error {
	query := `
		INSERT INTO session_history (link_id, tab_index, tab_name, host, port, user, backend, status, error, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.LinkID,
		rec.TabIndex,
		rec.TabName,
		rec.Host,
		rec.Port,
		rec.User,
		rec.Backend,
		rec.Status,
		nullString(rec.Error),
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{}
	var errText sql.NullString
	var closedAt sql.NullTime

	err := s.Scan(
		&rec.LinkID,
		&rec.TabIndex,
		&rec.TabName,
		&rec.Host,
		&rec.Port,
		&rec.User,
		&rec.Backend,
		&rec.Status,
		&errText,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}
	if errText.Valid {
		rec.Error = errText.String
	}
	if closedAt.Valid {
		t := closedAt.Time
		rec.ClosedAt = &t
	}
	return rec, nil
}

// GetByID retrieves a record by link ID.
func (r *SessionRepository) GetByID(ctx context.Context, linkID string) (*model.SessionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM session_history WHERE link_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, linkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	return rec, nil
}

// List returns the newest records first. A limit <= 0 uses DefaultHistoryLimit.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `SELECT ` + selectColumns + ` FROM session_history ORDER BY created_at DESC LIMIT ?`
	return r.query(ctx, query, limit)
}

// ListByTab returns the records of one tab, newest first.
func (r *SessionRepository) ListByTab(ctx context.Context, tabIndex string) ([]*model.SessionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM session_history WHERE tab_index = ? ORDER BY created_at DESC`
	return r.query(ctx, query, tabIndex)
}

func (r *SessionRepository) query(ctx context.Context, query string, args ...any) ([]*model.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []*model.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session records: %w", err)
	}
	return records, nil
}

// UpdateStatus sets the status and error text of a record. Closed and failed
// statuses also stamp closed_at.
func (r *SessionRepository) UpdateStatus(ctx context.Context, linkID string, status model.SessionStatus, errText string) error {
	now := time.Now()
	var closedAt *time.Time
	if status != model.SessionStatusConnected {
		closedAt = &now
	}

	query := `
		UPDATE session_history
		SET status = ?, error = ?, updated_at = ?, closed_at = COALESCE(closed_at, ?)
		WHERE link_id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, nullString(errText), now, closedAt, linkID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// Delete removes a record.
func (r *SessionRepository) Delete(ctx context.Context, linkID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM session_history WHERE link_id = ?`, linkID)
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// CountByStatus returns how many records are in the given status.
func (r *SessionRepository) CountByStatus(ctx context.Context, status model.SessionStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_history WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session records: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
