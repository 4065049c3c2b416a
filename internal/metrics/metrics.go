// Package metrics counts what happened during an exploration run.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	stepsTotal       atomic.Int64
	actionsTotal     atomic.Int64
	actionFailures   atomic.Int64
	decisionsTotal   atomic.Int64
	decisionFailures atomic.Int64
	blockedPages     atomic.Int64
	loginDetections  atomic.Int64
	loginPauses      atomic.Int64
	loginCompletions atomic.Int64
	loginTimeouts    atomic.Int64
	apiCalls         atomic.Int64
	stepErrors       atomic.Int64

	// Decision latency tracking
	decisionTimeSum atomic.Int64
	decisionTimeNum atomic.Int64

	// Histogram buckets for decision latency in ms
	decisionBuckets [8]atomic.Int64 // <250, <500, <1000, <2500, <5000, <10000, <30000, >=30000

	// Breakdowns
	mu           sync.RWMutex
	actionCounts map[string]int64
	errorCounts  map[string]int64
	loginSignals map[string]int64

	startTime time.Time
	now       func() time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	c := &Collector{
		actionCounts: make(map[string]int64),
		errorCounts:  make(map[string]int64),
		loginSignals: make(map[string]int64),
		now:          time.Now,
	}
	c.startTime = c.now()
	return c
}

// RecordStep counts one loop iteration.
func (c *Collector) RecordStep() {
	c.stepsTotal.Add(1)
}

// RecordAction counts an executed action; failed actions are counted too.
func (c *Collector) RecordAction(action string, failed bool) {
	c.actionsTotal.Add(1)
	if failed {
		c.actionFailures.Add(1)
	}
	c.mu.Lock()
	c.actionCounts[action]++
	c.mu.Unlock()
}

// RecordDecision records a decision-provider call and its latency.
func (c *Collector) RecordDecision(d time.Duration, failed bool) {
	c.decisionsTotal.Add(1)
	if failed {
		c.decisionFailures.Add(1)
	}
	ms := d.Milliseconds()
	c.decisionTimeSum.Add(ms)
	c.decisionTimeNum.Add(1)
	c.decisionBuckets[bucket(ms)].Add(1)
}

func bucket(ms int64) int {
	switch {
	case ms < 250:
		return 0
	case ms < 500:
		return 1
	case ms < 1000:
		return 2
	case ms < 2500:
		return 3
	case ms < 5000:
		return 4
	case ms < 10000:
		return 5
	case ms < 30000:
		return 6
	default:
		return 7
	}
}

// RecordBlocked counts a page classified as blocking automation.
func (c *Collector) RecordBlocked() {
	c.blockedPages.Add(1)
}

// RecordLoginDetected counts a positive login-page detection.
func (c *Collector) RecordLoginDetected() {
	c.loginDetections.Add(1)
}

// RecordLoginPause records the outcome of one pause. signal is the
// completion signal, or "timeout".
func (c *Collector) RecordLoginPause(completed bool, signal string) {
	c.loginPauses.Add(1)
	if completed {
		c.loginCompletions.Add(1)
	} else {
		c.loginTimeouts.Add(1)
	}
	c.mu.Lock()
	c.loginSignals[signal]++
	c.mu.Unlock()
}

// RecordAPICall counts an observed API response.
func (c *Collector) RecordAPICall() {
	c.apiCalls.Add(1)
}

// RecordError counts a step error by type.
func (c *Collector) RecordError(errorType string) {
	c.stepErrors.Add(1)
	c.mu.Lock()
	c.errorCounts[errorType]++
	c.mu.Unlock()
}

// AverageDecisionTime returns the mean decision latency.
func (c *Collector) AverageDecisionTime() time.Duration {
	sum := c.decisionTimeSum.Load()
	num := c.decisionTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           c.now(),
		Uptime:              c.now().Sub(c.startTime),
		StepsTotal:          c.stepsTotal.Load(),
		ActionsTotal:        c.actionsTotal.Load(),
		ActionFailures:      c.actionFailures.Load(),
		DecisionsTotal:      c.decisionsTotal.Load(),
		DecisionFailures:    c.decisionFailures.Load(),
		BlockedPages:        c.blockedPages.Load(),
		LoginDetections:     c.loginDetections.Load(),
		LoginPauses:         c.loginPauses.Load(),
		LoginCompletions:    c.loginCompletions.Load(),
		LoginTimeouts:       c.loginTimeouts.Load(),
		APICalls:            c.apiCalls.Load(),
		StepErrors:          c.stepErrors.Load(),
		AverageDecisionTime: c.AverageDecisionTime(),
		ActionCounts:        make(map[string]int64),
		ErrorCounts:         make(map[string]int64),
		LoginSignals:        make(map[string]int64),
		DecisionHist:        make([]int64, len(c.decisionBuckets)),
	}

	c.mu.RLock()
	for k, v := range c.actionCounts {
		s.ActionCounts[k] = v
	}
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v
	}
	for k, v := range c.loginSignals {
		s.LoginSignals[k] = v
	}
	c.mu.RUnlock()

	for i := range c.decisionBuckets {
		s.DecisionHist[i] = c.decisionBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	StepsTotal          int64            `json:"steps_total"`
	ActionsTotal        int64            `json:"actions_total"`
	ActionFailures      int64            `json:"action_failures"`
	DecisionsTotal      int64            `json:"decisions_total"`
	DecisionFailures    int64            `json:"decision_failures"`
	BlockedPages        int64            `json:"blocked_pages"`
	LoginDetections     int64            `json:"login_detections"`
	LoginPauses         int64            `json:"login_pauses"`
	LoginCompletions    int64            `json:"login_completions"`
	LoginTimeouts       int64            `json:"login_timeouts"`
	APICalls            int64            `json:"api_calls"`
	StepErrors          int64            `json:"step_errors"`
	AverageDecisionTime time.Duration    `json:"average_decision_time"`
	ActionCounts        map[string]int64 `json:"action_counts"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	LoginSignals        map[string]int64 `json:"login_signals"`
	DecisionHist        []int64          `json:"decision_histogram"`
}

// ActionFailureRate returns failed actions / actions.
func (s *Snapshot) ActionFailureRate() float64 {
	if s.ActionsTotal == 0 {
		return 0
	}
	return float64(s.ActionFailures) / float64(s.ActionsTotal)
}

// Summary returns the fields reported at the end of a run.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              s.Uptime.String(),
		"steps":               s.StepsTotal,
		"actions":             s.ActionsTotal,
		"action_failure_rate": s.ActionFailureRate(),
		"decisions":           s.DecisionsTotal,
		"avg_decision_ms":     s.AverageDecisionTime.Milliseconds(),
		"blocked_pages":       s.BlockedPages,
		"login_pauses":        s.LoginPauses,
		"login_completions":   s.LoginCompletions,
		"api_calls":           s.APICalls,
		"step_errors":         s.StepErrors,
	}
}
