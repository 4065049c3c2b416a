package explorer

import (
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/metrics"
)

// ActionWithIntent is one executed step as recorded in session.json.
type ActionWithIntent struct {
	Step       int       `json:"step"`
	Action     string    `json:"action"`
	Ref        string    `json:"ref,omitempty"`
	Text       string    `json:"text,omitempty"`
	URL        string    `json:"url,omitempty"`
	Key        string    `json:"key,omitempty"`
	Reasoning  string    `json:"reasoning"`
	Intention  string    `json:"intention"`
	Confidence string    `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// FailedAPI is an API call that was rejected before a login.
type FailedAPI struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// AuthSignal records one completed human login.
type AuthSignal struct {
	LoginURL              string      `json:"loginUrl"`
	CompletionSignal      string      `json:"completionSignal"`
	NewCookies            []string    `json:"newCookies"`
	FailedAPIsBeforeLogin []FailedAPI `json:"failedApisBeforeLogin"`
	Timestamp             time.Time   `json:"timestamp"`
}

// Reasons a run ended.
const (
	ReasonDone         = "done"
	ReasonStepBudget   = "step budget exhausted"
	ReasonBlocked      = "blocked"
	ReasonLoginAborted = "login aborted"
	ReasonCancelled    = "cancelled"
)

// Result is what a run produced. Lists are copies taken at loop exit.
type Result struct {
	SessionID   string             `json:"sessionId"`
	HARPath     string             `json:"harPath"`
	SessionDir  string             `json:"sessionDir"`
	Actions     []ActionWithIntent `json:"actions"`
	APIsSeen    []apilog.Call      `json:"apisSeen"`
	AuthSignals []AuthSignal       `json:"authSignals"`
	Reason      string             `json:"reason"`
	Stats       *metrics.Snapshot  `json:"stats,omitempty"`
}

// sessionFile is the layout of session.json.
type sessionFile struct {
	ID          string             `json:"id"`
	Task        string             `json:"task"`
	URL         string             `json:"url"`
	Actions     []ActionWithIntent `json:"actions"`
	APIsSeen    []apilog.Call      `json:"apisSeen"`
	AuthSignals []AuthSignal       `json:"authSignals"`
	Reason      string             `json:"reason"`
	CreatedAt   time.Time          `json:"createdAt"`
}
