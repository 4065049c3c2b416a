// Package state indexes recorded exploration sessions.
package state

import (
	"time"
)

// SessionRecord summarises one exploration run. The artifacts themselves
// live in Dir.
type SessionRecord struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	URL         string    `json:"url"`
	Dir         string    `json:"dir"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Actions     int       `json:"actions"`
	APIsSeen    int       `json:"apis_seen"`
	AuthSignals int       `json:"auth_signals"`
	Reason      string    `json:"reason,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *SessionRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists session records.
type Store interface {
	Put(rec *SessionRecord) error
	Get(id string) (*SessionRecord, error)
	// List returns records newest first.
	List() ([]*SessionRecord, error)
	Close() error
}
