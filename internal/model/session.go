package model

import "time"

// SessionStatus represents the lifecycle stage of a recorded session.
type SessionStatus string

const (
	SessionStatusConnected SessionStatus = "connected"
	SessionStatusClosed    SessionStatus = "closed"
	SessionStatusFailed    SessionStatus = "failed"
)

// SessionRecord is one row of session history. Credentials are never stored.
type SessionRecord struct {
	LinkID    string        `json:"linkId"`
	TabIndex  string        `json:"tabIndex"`
	TabName   string        `json:"tabName"`
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	User      string        `json:"user"`
	Backend   string        `json:"backend"`
	Status    SessionStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	ClosedAt  *time.Time    `json:"closedAt,omitempty"`
}

// NewSessionRecord builds a connected record for a link.
func NewSessionRecord(linkID, tabIndex, tabName, backend string, info ConnectionDescriptor) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		LinkID:    linkID,
		TabIndex:  tabIndex,
		TabName:   tabName,
		Host:      info.Host,
		Port:      info.Port,
		User:      info.User,
		Backend:   backend,
		Status:    SessionStatusConnected,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Duration returns how long the session has been (or was) open.
func (s *SessionRecord) Duration() time.Duration {
	if s.ClosedAt != nil {
		return s.ClosedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}
