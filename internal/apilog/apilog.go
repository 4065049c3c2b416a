// Package apilog classifies browser network responses as API traffic and
// keeps the append-only log the login detector and watcher read from.
package apilog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Response is the metadata the driver reports for one network response.
// Bodies and headers other than content type are never carried.
type Response struct {
	URL         string
	Method      string
	Status      int
	ContentType string
}

// Call is one observed API-like response.
type Call struct {
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	Status      int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsAuthFailure reports whether the call was rejected with 401 or 403.
func (c Call) IsAuthFailure() bool {
	return c.Status == 401 || c.Status == 403
}

// Path returns the URL path, or "" if the URL does not parse.
func (c Call) Path() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

var staticAsset = regexp.MustCompile(`(?i)\.(css|js|png|jpg|gif|svg|woff|ico|map)(\?|$)`)

var skipDomains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"facebook.com",
	"sentry.io",
	"mixpanel.com",
	"segment.io",
	"hotjar.com",
	"cdn.jsdelivr.net",
	"unpkg.com",
	"cdnjs.cloudflare.com",
}

var apiPathMarkers = []string{"/api/", "/graphql", "/v1/", "/v2/"}

// IsAPIResponse reports whether a response looks like API traffic rather
// than a document, asset or tracker beacon.
func IsAPIResponse(rawURL string, status int, contentType string) bool {
	if staticAsset.MatchString(rawURL) {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	for _, d := range skipDomains {
		if strings.Contains(host, d) {
			return false
		}
	}

	if status < 200 || status >= 600 {
		return false
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return true
	case strings.Contains(ct, "text/html"),
		strings.Contains(ct, "text/css"),
		strings.Contains(ct, "javascript"):
		return false
	}

	for _, marker := range apiPathMarkers {
		if strings.Contains(rawURL, marker) {
			return true
		}
	}
	return false
}

// Log is the session's append-only record of API calls. The driver's event
// goroutine appends while the exploration loop reads.
type Log struct {
	mu    sync.RWMutex
	calls []Call
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append records a call.
func (l *Log) Append(c Call) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

// Len returns the number of recorded calls.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.calls)
}

// All returns a snapshot copy of every recorded call.
func (l *Log) All() []Call {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// Failed returns the calls rejected with 401 or 403.
func (l *Log) Failed() []Call {
	return AuthFailures(l.All())
}

// AuthFailures filters calls down to 401/403 responses.
func AuthFailures(calls []Call) []Call {
	var out []Call
	for _, c := range calls {
		if c.IsAuthFailure() {
			out = append(out, c)
		}
	}
	return out
}

// SummaryLine is one deduplicated endpoint in a summary.
type SummaryLine struct {
	Method string
	URL    string // without query string
	Status int    // status of the first sighting
	Count  int
}

func (s SummaryLine) String() string {
	return fmt.Sprintf("%s %s (%d) x%d", s.Method, s.URL, s.Status, s.Count)
}

// Summarize groups calls by method and URL without query, in first-seen
// order.
func Summarize(calls []Call) []SummaryLine {
	index := make(map[string]int)
	var lines []SummaryLine
	for _, c := range calls {
		base, _, _ := strings.Cut(c.URL, "?")
		key := c.Method + " " + base
		if i, ok := index[key]; ok {
			lines[i].Count++
			continue
		}
		index[key] = len(lines)
		lines = append(lines, SummaryLine{Method: c.Method, URL: base, Status: c.Status, Count: 1})
	}
	return lines
}
