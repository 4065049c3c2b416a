package explorer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/browser"
	"github.com/PentesterFlow/OpenExplorer/internal/llm"
	"github.com/PentesterFlow/OpenExplorer/internal/login"
)

// fakeDriver serves scripted pages and records every interaction.
type fakeDriver struct {
	mu sync.Mutex

	url      string
	snap     *browser.Snapshot
	snapErrs []error // consumed one per Snapshot call
	stats    []*browser.PageStats
	statsN   int

	// onNavigate fires responses into subscribers, as the page would
	onNavigate []apilog.Response

	navigations []string
	clicks      []string
	fills       []string
	scrolls     []int
	presses     []string
	waits       int
	settles     int
	closed      int

	subs map[int]func(apilog.Response)
	next int
}

func newFakeDriver(url string) *fakeDriver {
	return &fakeDriver{
		url: url,
		snap: &browser.Snapshot{
			Tree: "- document \"Shop\"\n- link \"Orders\" [ref=e1]\n- textbox \"Search\" [ref=e2]\n- textbox \"Password\" [type=password] [ref=e3]",
			Refs: map[string]browser.Ref{
				"e1": {Selector: "a:nth-of-type(1)", Role: "link", Name: "Orders"},
				"e2": {Selector: "#q", Role: "textbox", Name: "Search"},
				"e3": {Selector: "#pw", Role: "textbox", Name: "Password", Password: true},
			},
		},
		subs: make(map[int]func(apilog.Response)),
	}
}

func (d *fakeDriver) URL() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) setURL(u string) {
	d.mu.Lock()
	d.url = u
	d.mu.Unlock()
}

func (d *fakeDriver) Facts(ctx context.Context) (*login.PageFacts, error) {
	return &login.PageFacts{}, nil
}

func (d *fakeDriver) CookieNames(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (d *fakeDriver) OnResponse(fn func(apilog.Response)) (login.Release, error) {
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}, nil
}

func (d *fakeDriver) OnPopupClosed(fn func()) (login.Release, error) {
	return func() {}, nil
}

func (d *fakeDriver) subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.navigations = append(d.navigations, url)
	d.url = url
	fns := make([]func(apilog.Response), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	responses := d.onNavigate
	d.mu.Unlock()

	for _, r := range responses {
		for _, fn := range fns {
			fn(r)
		}
	}
	return nil
}

func (d *fakeDriver) WaitSettle(ctx context.Context, quiet, timeout time.Duration) error {
	d.mu.Lock()
	d.settles++
	d.mu.Unlock()
	return ctx.Err()
}

func (d *fakeDriver) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.snapErrs) > 0 {
		err := d.snapErrs[0]
		d.snapErrs = d.snapErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return d.snap, nil
}

// Stats serves the scripted stats in order; the last one repeats.
func (d *fakeDriver) Stats(ctx context.Context) (*browser.PageStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stats) == 0 {
		return &browser.PageStats{URL: d.url, Links: 3, Interactive: 5, TextLength: 800}, nil
	}
	i := d.statsN
	if i >= len(d.stats) {
		i = len(d.stats) - 1
	}
	d.statsN++
	s := *d.stats[i]
	return &s, nil
}

func (d *fakeDriver) Click(ctx context.Context, ref browser.Ref) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, ref.Name)
	return nil
}

func (d *fakeDriver) Fill(ctx context.Context, ref browser.Ref, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fills = append(d.fills, ref.Name)
	return nil
}

func (d *fakeDriver) Scroll(ctx context.Context, px int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls = append(d.scrolls, px)
	return nil
}

func (d *fakeDriver) Press(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presses = append(d.presses, key)
	return nil
}

func (d *fakeDriver) Wait(ctx context.Context, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits++
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func blockedStats() *browser.PageStats {
	return &browser.PageStats{TextLength: 20, IsLikelyBlocked: true, BlockReason: "empty page"}
}

func okStats() *browser.PageStats {
	return &browser.PageStats{Links: 4, Interactive: 12, TextLength: 2400}
}

// scriptedDecider returns decisions in order, then done. A nil entry
// panics, an entry with Action "error" fails.
type scriptedDecider struct {
	mu      sync.Mutex
	script  []*llm.Decision
	prompts []string
	system  string
}

var errDecide = errors.New("provider unavailable")

func (s *scriptedDecider) Decide(ctx context.Context, system, user string) (*llm.Decision, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, user)
	s.system = system
	if len(s.script) == 0 {
		s.mu.Unlock()
		return &llm.Decision{Done: true, Reasoning: "nothing left"}, nil
	}
	d := s.script[0]
	s.script = s.script[1:]
	s.mu.Unlock()

	if d == nil {
		panic("decider exploded")
	}
	if d.Action == "error" {
		return nil, errDecide
	}
	return d, nil
}

func (s *scriptedDecider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// scriptedDetector returns detections in order, then negatives.
type scriptedDetector struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (s *scriptedDetector) Detect(ctx context.Context, page login.Page, calls []apilog.Call, targetDomain string) login.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.results) && s.results[i] {
		return login.Detection{
			IsLoginPage: true,
			Confidence:  login.ConfidenceHigh,
			Score:       65,
			Signals:     []login.Signal{{Rule: "password_field", Weight: 40, Reason: "password field present"}},
		}
	}
	return login.Detection{Confidence: login.ConfidenceNone}
}

// alwaysLogin detects a login page on every call.
type alwaysLogin struct{ scriptedDetector }

func (a *alwaysLogin) Detect(ctx context.Context, page login.Page, calls []apilog.Call, targetDomain string) login.Detection {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return login.Detection{IsLoginPage: true, Confidence: login.ConfidenceMedium, Score: 40}
}

// fakeWatcher completes (or not) and runs onWatch to move the page.
type fakeWatcher struct {
	mu        sync.Mutex
	completed bool
	cookies   []string
	onWatch   func()
	calls     int
	failed    [][]apilog.Call
}

func (w *fakeWatcher) Watch(ctx context.Context, page login.Page, bc login.BrowserContext, loginURL string, failed []apilog.Call, timeout time.Duration) login.Completion {
	w.mu.Lock()
	w.calls++
	w.failed = append(w.failed, failed)
	hook := w.onWatch
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !w.completed {
		return login.Completion{Signal: login.SignalTimeout, Duration: timeout}
	}
	return login.Completion{
		Completed:  true,
		Signal:     login.SignalAPIRecovered,
		Duration:   3 * time.Second,
		NewCookies: w.cookies,
	}
}
