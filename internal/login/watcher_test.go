package login

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
)

const loginURL = "https://app.example.com/login"

func fastWatcher() *Watcher {
	w := NewWatcher(nil)
	w.PollInterval = 5 * time.Millisecond
	w.PopupGrace = 5 * time.Millisecond
	return w
}

// loginFacts is a login form that never completes on its own.
func loginFacts() *PageFacts {
	return &PageFacts{PasswordFields: 1, TextLength: 40, Interactive: 3}
}

var failedMe = []apilog.Call{{URL: "https://app.example.com/api/me", Method: "GET", Status: 401}}

// =============================================================================
// Signal Tests
// =============================================================================

func TestWatch_APIRecovered(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{cookies: []string{"csrf"}}
	page.onURL = func(n int) {
		if n == 1 {
			bc.setCookies("csrf", "session_id")
			bc.respond(apilog.Response{URL: "https://app.example.com/api/me?fresh=1", Status: 200})
		}
	}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, failedMe, time.Second)

	if !c.Completed || c.Signal != SignalAPIRecovered {
		t.Fatalf("Watch() = %+v, want api_recovered", c)
	}
	if !reflect.DeepEqual(c.NewCookies, []string{"session_id"}) {
		t.Errorf("NewCookies = %v, want [session_id]", c.NewCookies)
	}
	if !bc.balanced() {
		t.Error("subscriptions were not released")
	}
}

func TestWatch_RecoveryNeedsStatus200AndKnownPath(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{}
	page.onURL = func(n int) {
		bc.respond(apilog.Response{URL: "https://app.example.com/api/me", Status: 204})
		bc.respond(apilog.Response{URL: "https://app.example.com/api/other", Status: 200})
	}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, failedMe, 40*time.Millisecond)

	if c.Completed || c.Signal != SignalTimeout {
		t.Errorf("Watch() = %+v, want timeout", c)
	}
}

func TestWatch_RecoveryIgnoredWithoutFailedCalls(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{}
	page.onURL = func(n int) {
		bc.respond(apilog.Response{URL: "https://app.example.com/api/me", Status: 200})
	}

	notAuth := []apilog.Call{{URL: "https://app.example.com/api/me", Status: 500}}
	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, notAuth, 40*time.Millisecond)

	if c.Signal != SignalTimeout {
		t.Errorf("Signal = %s, want timeout", c.Signal)
	}
}

func TestWatch_PriorityAPIOverPopup(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{}
	page.onURL = func(n int) {
		if n == 1 {
			bc.closePopup()
			bc.respond(apilog.Response{URL: "https://app.example.com/api/me", Status: 200})
		}
	}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, failedMe, time.Second)

	if c.Signal != SignalAPIRecovered {
		t.Errorf("Signal = %s, want api_recovered when both latches are set", c.Signal)
	}
}

func TestWatch_OAuthPopupClosed(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{}
	page.onURL = func(n int) {
		if n == 1 {
			bc.closePopup()
		}
	}

	w := fastWatcher()
	w.PopupGrace = 30 * time.Millisecond
	c := w.Watch(context.Background(), page, bc, loginURL, nil, time.Second)

	if !c.Completed || c.Signal != SignalOAuthPopupClosed {
		t.Fatalf("Watch() = %+v, want oauth_popup_closed", c)
	}
	if c.Duration < 30*time.Millisecond {
		t.Errorf("Duration = %v, want at least the popup grace", c.Duration)
	}
}

func TestWatch_PageNavigated(t *testing.T) {
	page := &fakePage{urlErr: errGone}
	bc := &fakeContext{}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, nil, time.Second)

	if !c.Completed || c.Signal != SignalPageNavigated {
		t.Errorf("Watch() = %+v, want page_navigated", c)
	}
	if !bc.balanced() {
		t.Error("subscriptions were not released")
	}
}

func TestWatch_URLChanged(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		textLength int
		wantSignal string
	}{
		{"away with content", "https://app.example.com/dashboard", 150, SignalURLChanged},
		{"away but half rendered", "https://app.example.com/dashboard", 80, SignalTimeout},
		{"other login pattern", "https://app.example.com/oauth/callback", 900, SignalTimeout},
		{"same login path with query", "https://app.example.com/login?step=2", 900, SignalTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{
				url:   tt.url,
				facts: &PageFacts{PasswordFields: 1, TextLength: tt.textLength, Interactive: 20},
			}
			c := fastWatcher().Watch(context.Background(), page, &fakeContext{}, loginURL, nil, 40*time.Millisecond)
			if c.Signal != tt.wantSignal {
				t.Errorf("Signal = %s, want %s", c.Signal, tt.wantSignal)
			}
		})
	}
}

func TestWatch_PasswordFieldGone(t *testing.T) {
	tests := []struct {
		name       string
		facts      PageFacts
		wantSignal string
	}{
		{"spa swapped content", PageFacts{TextLength: 800, Interactive: 12}, SignalPasswordFieldGone},
		{"blank shell", PageFacts{TextLength: 20, Interactive: 1}, SignalTimeout},
		{"text but few controls", PageFacts{TextLength: 800, Interactive: 5}, SignalTimeout},
		{"controls but short text", PageFacts{TextLength: 500, Interactive: 30}, SignalTimeout},
		{"password still there", PageFacts{PasswordFields: 1, TextLength: 800, Interactive: 12}, SignalTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.facts
			page := &fakePage{url: loginURL, facts: &f}
			c := fastWatcher().Watch(context.Background(), page, &fakeContext{}, loginURL, nil, 40*time.Millisecond)
			if c.Signal != tt.wantSignal {
				t.Errorf("Signal = %s, want %s", c.Signal, tt.wantSignal)
			}
		})
	}
}

func TestWatch_ProbeFailureIsNotCompletion(t *testing.T) {
	page := &fakePage{url: "https://app.example.com/home", factsErr: errors.New("eval failed")}
	c := fastWatcher().Watch(context.Background(), page, &fakeContext{}, loginURL, nil, 30*time.Millisecond)

	if c.Signal != SignalTimeout {
		t.Errorf("Signal = %s, want timeout when the page cannot be probed", c.Signal)
	}
}

// =============================================================================
// Timeout and Lifecycle Tests
// =============================================================================

func TestWatch_Timeout(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{cookies: []string{"a"}}
	w := fastWatcher()
	w.PollInterval = 10 * time.Millisecond
	timeout := 50 * time.Millisecond

	c := w.Watch(context.Background(), page, bc, loginURL, failedMe, timeout)

	if c.Completed || c.Signal != SignalTimeout {
		t.Fatalf("Watch() = %+v, want timeout", c)
	}
	if c.Duration < timeout {
		t.Errorf("Duration = %v, want >= %v", c.Duration, timeout)
	}
	if c.Duration > timeout+w.PollInterval+200*time.Millisecond {
		t.Errorf("Duration = %v, overshoots timeout by more than one poll", c.Duration)
	}
	if c.NewCookies == nil || len(c.NewCookies) != 0 {
		t.Errorf("NewCookies = %v, want empty", c.NewCookies)
	}
	if !bc.balanced() {
		t.Error("subscriptions were not released on timeout")
	}
}

func TestWatch_ContextCancelled(t *testing.T) {
	page := &fakePage{url: loginURL, facts: loginFacts()}
	bc := &fakeContext{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	c := fastWatcher().Watch(ctx, page, bc, loginURL, nil, time.Minute)

	if c.Signal != SignalTimeout || c.Completed {
		t.Errorf("Watch() = %+v, want timeout on cancellation", c)
	}
	if time.Since(start) > time.Second {
		t.Error("Watch() did not return promptly after cancellation")
	}
	if !bc.balanced() {
		t.Error("subscriptions were not released on cancellation")
	}
}

// =============================================================================
// Cookie Diff Tests
// =============================================================================

func TestWatch_CookieDiffOnlyNewNames(t *testing.T) {
	page := &fakePage{urlErr: errGone}
	bc := &fakeContext{cookies: []string{"a", "b"}}
	page.onURL = func(n int) {
		bc.setCookies("b", "x", "x", "y")
	}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, nil, time.Second)

	if !reflect.DeepEqual(c.NewCookies, []string{"x", "y"}) {
		t.Errorf("NewCookies = %v, want [x y]", c.NewCookies)
	}
}

func TestWatch_CookieDiffIdempotent(t *testing.T) {
	bc := &fakeContext{cookies: []string{"sid", "csrf"}}
	for i := 0; i < 2; i++ {
		page := &fakePage{urlErr: errGone}
		c := fastWatcher().Watch(context.Background(), page, bc, loginURL, nil, time.Second)
		if len(c.NewCookies) != 0 {
			t.Errorf("run %d NewCookies = %v, want []", i, c.NewCookies)
		}
	}
}

func TestWatch_CookieReadFailure(t *testing.T) {
	page := &fakePage{urlErr: errGone}
	bc := &fakeContext{cookieErr: errors.New("browser gone")}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, nil, time.Second)

	if !c.Completed || len(c.NewCookies) != 0 {
		t.Errorf("Watch() = %+v, want completion with no cookies", c)
	}
}

func TestWatch_NoBaselineNoNewCookies(t *testing.T) {
	page := &fakePage{urlErr: errGone}
	bc := &fakeContext{cookies: []string{"existing_sid", "csrf"}, cookieFail: 1}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, nil, time.Second)

	if !c.Completed {
		t.Fatalf("Completed = false, want true")
	}
	if c.NewCookies == nil || len(c.NewCookies) != 0 {
		t.Errorf("NewCookies = %v, want []", c.NewCookies)
	}
}

func TestWatch_ExitReadFailureNoNewCookies(t *testing.T) {
	page := &fakePage{urlErr: errGone}
	bc := &fakeContext{cookies: []string{"sid"}}
	page.onURL = func(n int) {
		bc.mu.Lock()
		bc.cookies = []string{"sid", "session_token"}
		bc.cookieFail = 1
		bc.mu.Unlock()
	}

	c := fastWatcher().Watch(context.Background(), page, bc, loginURL, nil, time.Second)

	if len(c.NewCookies) != 0 {
		t.Errorf("NewCookies = %v, want []", c.NewCookies)
	}
}

func TestDiffNames(t *testing.T) {
	tests := []struct {
		before, after, want []string
	}{
		{nil, nil, []string{}},
		{[]string{"a"}, []string{"a"}, []string{}},
		{[]string{"a", "b"}, []string{"a"}, []string{}},
		{nil, []string{"a", "a", "b"}, []string{"a", "b"}},
		{[]string{"a"}, []string{"c", "a", "d"}, []string{"c", "d"}},
	}

	for _, tt := range tests {
		if got := diffNames(tt.before, tt.after); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("diffNames(%v, %v) = %v, want %v", tt.before, tt.after, got, tt.want)
		}
	}
}
