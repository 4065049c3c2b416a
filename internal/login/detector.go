package login

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

// Confidence grades a detection score.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// LoginThreshold is the score at which a page is treated as a login page.
const LoginThreshold = 30

// AuthFailureWindow bounds how old a 401/403 may be to count as evidence.
const AuthFailureWindow = 30 * time.Second

// Signal is one fired rule.
type Signal struct {
	Rule   string `json:"rule"`
	Weight int    `json:"weight"`
	Reason string `json:"reason"`
}

// Detection is the verdict for one page.
type Detection struct {
	IsLoginPage bool       `json:"isLoginPage"`
	Confidence  Confidence `json:"confidence"`
	Score       int        `json:"score"`
	Signals     []Signal   `json:"signals"`
}

// Reasons returns the human-readable signal list in firing order.
func (d Detection) Reasons() []string {
	out := make([]string, len(d.Signals))
	for i, s := range d.Signals {
		out[i] = s.Reason
	}
	return out
}

// Evidence is everything a rule may look at. URL and Facts are nil when the
// corresponding probe failed.
type Evidence struct {
	URL          *url.URL
	Facts        *PageFacts
	Calls        []apilog.Call
	TargetDomain string
	Now          time.Time
}

// Rule is one row of the scoring table. Check returns the reason text and
// whether the rule fired.
type Rule struct {
	Name   string
	Weight int
	Check  func(ev *Evidence) (string, bool)
}

// Rules is the additive scoring table, evaluated in order.
var Rules = []Rule{
	{Name: "login_path", Weight: 25, Check: checkLoginPath},
	{Name: "sso_domain", Weight: 25, Check: checkSSODomain},
	{Name: "redirect_param", Weight: 5, Check: checkRedirectParam},
	{Name: "password_field", Weight: 40, Check: checkPasswordField},
	{Name: "login_button", Weight: 10, Check: checkLoginButton},
	{Name: "oauth_invite", Weight: 15, Check: checkOAuthInvite},
	{Name: "small_form", Weight: 5, Check: checkSmallForm},
	{Name: "login_heading", Weight: 15, Check: checkLoginHeading},
	{Name: "login_text", Weight: 15, Check: checkLoginText},
	{Name: "auth_failures", Weight: 20, Check: checkAuthFailures},
}

func checkLoginPath(ev *Evidence) (string, bool) {
	if ev.URL == nil {
		return "", false
	}
	if p, ok := MatchLoginPath(ev.URL.Path); ok {
		return "URL path matches login pattern: " + p, true
	}
	return "", false
}

func checkSSODomain(ev *Evidence) (string, bool) {
	if ev.URL == nil {
		return "", false
	}
	full := ev.URL.Hostname() + ev.URL.Path
	for _, prefix := range ssoPrefixes {
		if strings.HasPrefix(full, prefix) {
			return "Known SSO domain: " + prefix, true
		}
	}
	return "", false
}

func checkRedirectParam(ev *Evidence) (string, bool) {
	if ev.URL == nil {
		return "", false
	}
	q := ev.URL.Query()
	for _, p := range redirectParams {
		if q.Has(p) {
			return "Redirect param present: " + p, true
		}
	}
	return "", false
}

func checkPasswordField(ev *Evidence) (string, bool) {
	if ev.Facts == nil || !ev.Facts.PasswordFields.Present() {
		return "", false
	}
	return "Password field present", true
}

func checkLoginButton(ev *Evidence) (string, bool) {
	if ev.Facts == nil {
		return "", false
	}
	for _, label := range ev.Facts.Buttons {
		if loginButtonPattern.MatchString(strings.TrimSpace(label)) {
			return "Login/submit button detected", true
		}
	}
	return "", false
}

func checkOAuthInvite(ev *Evidence) (string, bool) {
	if ev.Facts == nil || !oauthInvitePattern.MatchString(strings.ToLower(ev.Facts.BodyText)) {
		return "", false
	}
	return "OAuth/SSO button detected", true
}

func checkSmallForm(ev *Evidence) (string, bool) {
	if ev.Facts == nil {
		return "", false
	}
	n := ev.Facts.VisibleFields
	if n < 1 || n > 3 {
		return "", false
	}
	return fmt.Sprintf("Small form (%d fields)", n), true
}

func checkLoginHeading(ev *Evidence) (string, bool) {
	if ev.Facts == nil {
		return "", false
	}
	if loginHeadingPattern.MatchString(ev.Facts.Title) || loginHeadingPattern.MatchString(ev.Facts.Heading) {
		return "Login-related title/heading", true
	}
	return "", false
}

func checkLoginText(ev *Evidence) (string, bool) {
	if ev.Facts == nil || !loginTextPattern.MatchString(ev.Facts.BodyText) {
		return "", false
	}
	return "Body text contains login/sign-in phrases", true
}

func checkAuthFailures(ev *Evidence) (string, bool) {
	if ev.TargetDomain == "" {
		return "", false
	}
	n := 0
	for _, c := range ev.Calls {
		if c.IsAuthFailure() && strings.Contains(c.URL, ev.TargetDomain) && ev.Now.Sub(c.Timestamp) < AuthFailureWindow {
			n++
		}
	}
	if n == 0 {
		return "", false
	}
	return fmt.Sprintf("Recent 401/403 from target domain (%d calls)", n), true
}

// Score runs every rule against ev and grades the total.
func Score(ev *Evidence) Detection {
	d := Detection{Signals: []Signal{}}
	for _, r := range Rules {
		reason, ok := r.Check(ev)
		if !ok {
			continue
		}
		d.Score += r.Weight
		d.Signals = append(d.Signals, Signal{Rule: r.Name, Weight: r.Weight, Reason: reason})
	}
	d.Confidence = Grade(d.Score)
	d.IsLoginPage = d.Score >= LoginThreshold
	return d
}

// Grade maps a score to a confidence level.
func Grade(score int) Confidence {
	switch {
	case score >= 50:
		return ConfidenceHigh
	case score >= 30:
		return ConfidenceMedium
	case score >= 15:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// Detector scores pages. Probe failures only remove evidence; they never
// abort a detection.
type Detector struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewDetector creates a detector.
func NewDetector(l *logger.Logger) *Detector {
	if l == nil {
		l = logger.Nop()
	}
	return &Detector{logger: l.WithComponent("login"), now: time.Now}
}

// Detect scores the page's current state.
func (d *Detector) Detect(ctx context.Context, page Page, calls []apilog.Call, targetDomain string) Detection {
	ev := &Evidence{
		Calls:        calls,
		TargetDomain: targetDomain,
		Now:          d.now(),
	}

	if raw, err := page.URL(); err != nil {
		d.logger.Debugf("url unavailable: %v", err)
	} else if u, err := url.Parse(raw); err == nil {
		ev.URL = u
	}

	if facts, err := page.Facts(ctx); err != nil {
		d.logger.Debugf("page probe failed: %v", err)
	} else {
		ev.Facts = facts
	}

	return Score(ev)
}
