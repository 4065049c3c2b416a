package login

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

// Completion signals, in the order they are checked.
const (
	SignalAPIRecovered      = "api_recovered"
	SignalOAuthPopupClosed  = "oauth_popup_closed"
	SignalPageNavigated     = "page_navigated"
	SignalURLChanged        = "url_changed"
	SignalPasswordFieldGone = "password_field_gone"
	SignalTimeout           = "timeout"
)

// Default watcher timings.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPopupGrace   = 2 * time.Second
)

const (
	minChangedText  = 100
	minSettledText  = 500
	minSettledInter = 5
)

// Completion is the outcome of one watch.
type Completion struct {
	Completed  bool          `json:"completed"`
	Signal     string        `json:"signal"`
	Duration   time.Duration `json:"-"`
	NewCookies []string      `json:"newCookies"`
}

// DurationMs returns the watch duration in milliseconds.
func (c Completion) DurationMs() int64 {
	return c.Duration.Milliseconds()
}

// Watcher waits for a human to finish signing in.
type Watcher struct {
	PollInterval time.Duration
	PopupGrace   time.Duration

	logger *logger.Logger
	now    func() time.Time
}

// NewWatcher creates a watcher with the default timings.
func NewWatcher(l *logger.Logger) *Watcher {
	if l == nil {
		l = logger.Nop()
	}
	return &Watcher{
		PollInterval: DefaultPollInterval,
		PopupGrace:   DefaultPopupGrace,
		logger:       l.WithComponent("login"),
		now:          time.Now,
	}
}

// Watch polls until a completion signal fires or timeout elapses. Exhausting
// the timeout, or ctx being cancelled, yields Completed=false with signal
// "timeout". Event subscriptions are released on every return path.
func (w *Watcher) Watch(ctx context.Context, page Page, bc BrowserContext, loginURL string, failed []apilog.Call, timeout time.Duration) Completion {
	start := w.now()
	before, haveBaseline := w.cookieNames(ctx, bc)

	failedPaths := make(map[string]bool)
	for _, c := range apilog.AuthFailures(failed) {
		if p := c.Path(); p != "" {
			failedPaths[p] = true
		}
	}

	var apiRecovered, popupClosed atomic.Bool

	releaseResp, err := bc.OnResponse(func(r apilog.Response) {
		if r.Status != 200 || len(failedPaths) == 0 {
			return
		}
		if u, err := url.Parse(r.URL); err == nil && failedPaths[u.Path] {
			apiRecovered.Store(true)
		}
	})
	if err != nil {
		w.logger.Warnf("response subscription failed: %v", err)
	} else {
		defer releaseResp()
	}

	releasePopup, err := bc.OnPopupClosed(func() {
		popupClosed.Store(true)
	})
	if err != nil {
		w.logger.Warnf("popup subscription failed: %v", err)
	} else {
		defer releasePopup()
	}

	loginPath := ""
	if u, err := url.Parse(loginURL); err == nil {
		loginPath = u.Path
	}

	finish := func(signal string) Completion {
		c := Completion{
			Completed:  signal != SignalTimeout,
			Signal:     signal,
			Duration:   w.now().Sub(start),
			NewCookies: []string{},
		}
		// Without a baseline every existing cookie would look new.
		if haveBaseline {
			if after, ok := w.cookieNames(context.WithoutCancel(ctx), bc); ok {
				c.NewCookies = diffNames(before, after)
			}
		}
		w.logger.Event(logger.InfoLevel).
			Str("signal", c.Signal).
			Dur("duration", c.Duration).
			Strs("new_cookies", c.NewCookies).
			Msg("Login watch finished")
		return c
	}

	for w.now().Sub(start) < timeout {
		if !sleep(ctx, w.PollInterval) {
			break
		}

		if apiRecovered.Load() {
			return finish(SignalAPIRecovered)
		}

		if popupClosed.Load() {
			sleep(ctx, w.PopupGrace)
			return finish(SignalOAuthPopupClosed)
		}

		current, err := page.URL()
		if err != nil {
			return finish(SignalPageNavigated)
		}

		var facts *PageFacts
		probe := func() *PageFacts {
			if facts == nil {
				f, err := page.Facts(ctx)
				if err != nil {
					f = &PageFacts{PasswordFields: -1}
				}
				facts = f
			}
			return facts
		}

		if cu, err := url.Parse(current); err == nil {
			_, stillOnLogin := MatchLoginPath(cu.Path)
			if !stillOnLogin && cu.Path != loginPath && probe().TextLength > minChangedText {
				return finish(SignalURLChanged)
			}
		}

		if f := probe(); f.PasswordFields == 0 && f.TextLength > minSettledText && f.Interactive > minSettledInter {
			return finish(SignalPasswordFieldGone)
		}
	}

	return finish(SignalTimeout)
}

// cookieNames reads the cookie names, reporting whether the read worked.
func (w *Watcher) cookieNames(ctx context.Context, bc BrowserContext) ([]string, bool) {
	names, err := bc.CookieNames(ctx)
	if err != nil {
		w.logger.Debugf("cookie read failed: %v", err)
		return nil, false
	}
	return names, true
}

// diffNames returns the names in after that are absent from before, in
// order and without duplicates.
func diffNames(before, after []string) []string {
	known := make(map[string]bool, len(before)+len(after))
	for _, n := range before {
		known[n] = true
	}
	out := []string{}
	for _, n := range after {
		if known[n] {
			continue
		}
		known[n] = true
		out = append(out, n)
	}
	return out
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
