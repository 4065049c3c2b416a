// Package explorer runs the exploration loop: observe the page, ask the
// decision provider for an action, perform it, and hand control to a human
// whenever the site asks for a login.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/browser"
	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
	"github.com/PentesterFlow/OpenExplorer/internal/llm"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
	"github.com/PentesterFlow/OpenExplorer/internal/login"
	"github.com/PentesterFlow/OpenExplorer/internal/metrics"
	"github.com/PentesterFlow/OpenExplorer/internal/output"
	"github.com/PentesterFlow/OpenExplorer/internal/state"
)

// Driver is the browser as the loop uses it. *browser.Session implements it.
type Driver interface {
	login.Page
	login.BrowserContext

	Navigate(ctx context.Context, url string) error
	WaitSettle(ctx context.Context, quiet, timeout time.Duration) error
	Snapshot(ctx context.Context) (*browser.Snapshot, error)
	Stats(ctx context.Context) (*browser.PageStats, error)
	Click(ctx context.Context, ref browser.Ref) error
	Fill(ctx context.Context, ref browser.Ref, text string) error
	Scroll(ctx context.Context, px int) error
	Press(ctx context.Context, key string) error
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

// Launcher starts a browser. cfg.HARPath is set to the session's HAR file.
type Launcher func(cfg browser.Config, l *logger.Logger) (Driver, error)

// LoginDetector decides whether the current page is a login page.
type LoginDetector interface {
	Detect(ctx context.Context, page login.Page, calls []apilog.Call, targetDomain string) login.Detection
}

// LoginWatcher waits for a human to finish signing in.
type LoginWatcher interface {
	Watch(ctx context.Context, page login.Page, bc login.BrowserContext, loginURL string, failed []apilog.Call, timeout time.Duration) login.Completion
}

// Explorer is the main exploration orchestrator.
type Explorer struct {
	config   *Config
	launch   Launcher
	decider  llm.Decider
	detector LoginDetector
	watcher  LoginWatcher
	store    state.Store
	logger   *logger.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// New creates a new explorer with the given options.
func New(opts ...Option) (*Explorer, error) {
	e := &Explorer{
		config: DefaultConfig(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if e.logger == nil {
		level := logger.WarnLevel
		if e.config.Debug {
			level = logger.DebugLevel
		} else if e.config.Verbose {
			level = logger.InfoLevel
		}
		e.logger = logger.New(logger.Config{
			Level:     level,
			Pretty:    true,
			Component: "explorer",
		})
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.launch == nil {
		e.launch = launchBrowser
	}
	if e.detector == nil {
		e.detector = login.NewDetector(e.logger)
	}
	if e.watcher == nil {
		e.watcher = login.NewWatcher(e.logger)
	}

	return e, nil
}

func launchBrowser(cfg browser.Config, l *logger.Logger) (Driver, error) {
	s, err := browser.Launch(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns a copy of the configuration.
func (e *Explorer) Config() *Config {
	return e.config.Clone()
}

// ensureDecider builds the OpenAI provider unless one was supplied. The key
// is read from the environment only.
func (e *Explorer) ensureDecider() error {
	if e.decider != nil {
		return nil
	}
	cfg := e.config.LLM
	if cfg.APIKey == "" && cfg.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(cfg.APIKeyEnv)
	}
	d, err := llm.NewDecider(cfg, e.logger)
	if err != nil {
		return err
	}
	e.decider = d
	return nil
}

func newSessionID(t time.Time) string {
	return fmt.Sprintf("session-%d-%s", t.UnixMilli(), uuid.NewString()[:8])
}

// Run explores until the task is done, the step budget runs out, the site
// blocks automation, a login cannot be completed, or ctx is cancelled. Each
// of these returns a Result; an error means no session could be started.
func (e *Explorer) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, errs.NewConfigError(err.Error())
	}
	if err := e.ensureDecider(); err != nil {
		return nil, err
	}

	started := e.now()
	id := newSessionID(started)
	bundle, err := output.NewBundle(e.config.SessionsDir, id)
	if err != nil {
		return nil, err
	}
	defer bundle.Close()

	bcfg := e.config.Browser
	bcfg.HARPath = bundle.HARPath()
	drv, err := e.launch(bcfg, e.logger)
	if err != nil {
		_ = bundle.AppendRunLog("Browser launch failed: %v", err)
		return nil, err
	}

	r := &run{
		e:       e,
		cfg:     e.config,
		drv:     drv,
		bundle:  bundle,
		apis:    apilog.NewLog(),
		target:  e.config.TargetDomain(),
		started: started,
		logger:  e.logger.WithSession(id),
	}
	r.observer = apilog.NewObserver(r.apis, r.logger)

	release, err := drv.OnResponse(func(resp apilog.Response) {
		if r.observer.Observe(resp) {
			e.metrics.RecordAPICall()
		}
	})
	if err != nil {
		r.logger.WithError(err).Warn("Response events unavailable, API calls will not be recorded")
	} else {
		defer release()
	}

	r.index("")
	reason := r.explore(ctx)
	return r.finish(reason), nil
}

// stepOutcome tells the loop what to do after a step.
type stepOutcome int

const (
	stepNext stepOutcome = iota
	stepRepeat
	stepDone
	stepBlocked
	stepLoginAborted
)

// run is the state of one exploration.
type run struct {
	e        *Explorer
	cfg      *Config
	drv      Driver
	bundle   *output.Bundle
	apis     *apilog.Log
	observer *apilog.Observer
	logger   *logger.Logger
	target   string
	started  time.Time

	actions     []ActionWithIntent
	authSignals []AuthSignal
	pauses      int
	blocked     int
}

func (r *run) runLog(format string, args ...interface{}) {
	if err := r.bundle.AppendRunLog(format, args...); err != nil {
		r.logger.WithError(err).Debug("run log append failed")
	}
}

func (r *run) explore(ctx context.Context) string {
	r.logger.WithURL(r.cfg.URL).Infof("Session %s started", r.bundle.Dir)
	r.runLog("Explore started: task=%q url=%q", r.cfg.Task, r.cfg.URL)

	if err := r.drv.Navigate(ctx, r.cfg.URL); err != nil {
		r.logger.WithError(err).Warn("Initial navigation failed")
		r.runLog("Initial navigation failed: %v", err)
		if ctx.Err() != nil {
			return ReasonCancelled
		}
	}
	r.settle(ctx, settleAfterAction)

	if r.pauses < r.cfg.MaxLoginPauses {
		det := r.e.detector.Detect(ctx, r.drv, r.apis.All(), r.target)
		if det.IsLoginPage {
			r.pauses++
			if !r.pause(ctx, det) {
				return r.abortReason(ctx)
			}
		}
	}

	system := loadSystemPrompt(r.cfg.PromptPath, r.logger)

	for step := 0; step < r.cfg.MaxSteps; {
		if ctx.Err() != nil {
			return ReasonCancelled
		}
		switch r.guardedStep(ctx, step, system) {
		case stepRepeat:
			// login completed; re-observe without spending the step
		case stepDone:
			return ReasonDone
		case stepBlocked:
			return ReasonBlocked
		case stepLoginAborted:
			return r.abortReason(ctx)
		default:
			step++
		}
	}
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ReasonStepBudget
}

func (r *run) abortReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ReasonLoginAborted
}

// guardedStep runs one step. Errors and panics are logged and the loop
// moves on to the next step.
func (r *run) guardedStep(ctx context.Context, step int, system string) (out stepOutcome) {
	log := r.logger.WithStep(step)
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Step panicked: %v", p)
			r.e.metrics.RecordError("panic")
			out = stepNext
		}
	}()

	out, err := r.step(ctx, step, system)
	if err != nil {
		if ctx.Err() != nil {
			return stepNext
		}
		r.e.metrics.RecordError(errs.GetErrorType(err).String())
		log.WithError(err).Warn("Step failed")
		r.runLog("Step %d error: %v", step+1, err)
		return stepNext
	}
	return out
}

func (r *run) step(ctx context.Context, step int, system string) (stepOutcome, error) {
	r.e.metrics.RecordStep()

	snap, err := r.drv.Snapshot(ctx)
	if err != nil {
		return stepNext, err
	}
	stats, err := r.drv.Stats(ctx)
	if err != nil {
		return stepNext, err
	}
	if err := r.bundle.RecordPageStats(step, stats); err != nil {
		r.logger.WithError(err).Debug("page stats not recorded")
	}

	statsLine := browser.FormatStats(stats)
	ss := snap.Stats()
	r.logger.StepEvent(step, ss.Refs, ss.Tokens, statsLine).Msg("Snapshot")

	if stats.IsLikelyBlocked {
		r.blocked++
		r.e.metrics.RecordBlocked()
		r.runLog("Step %d: blocked detection - %s", step+1, stats.BlockReason)
		if r.blocked >= BlockedLimit {
			r.logger.Warnf("Blocked page detected (%dx consecutive): %s; the site appears to be blocking automation",
				r.blocked, stats.BlockReason)
			r.runLog("Exploration stopped: consecutive blocked page detections")
			return stepBlocked, nil
		}
	} else {
		r.blocked = 0
	}

	if !stats.IsLikelyBlocked && r.pauses < r.cfg.MaxLoginPauses {
		det := r.e.detector.Detect(ctx, r.drv, r.apis.All(), r.target)
		if det.IsLoginPage {
			r.pauses++
			if !r.pause(ctx, det) {
				r.runLog("Exploration stopped: login required but could not complete")
				return stepLoginAborted, nil
			}
			return stepRepeat, nil
		}
	}

	prompt := buildPrompt(r.cfg.Task, statsLine, snap.Tree, r.actions, r.cfg.HistoryWindow, r.apis.All())
	d, err := r.decide(ctx, system, prompt)
	if err != nil {
		return stepNext, err
	}

	label := d.Action
	if d.Done {
		label = "DONE"
	}
	r.logger.ActionEvent(step, label, d.Ref, d.Reasoning)
	if d.Done {
		return stepDone, nil
	}

	if err := r.act(ctx, snap, d); err != nil {
		r.e.metrics.RecordAction(d.Action, true)
		if errors.Is(err, errs.ErrPasswordField) {
			r.logger.WithStep(step).Warnf("Refused to type into password field @%s", d.Ref)
			d.Text = ""
		} else {
			r.logger.WithStep(step).WithError(err).Warnf("%s failed", d.Action)
		}
	} else {
		r.e.metrics.RecordAction(d.Action, false)
	}

	r.settle(ctx, settleAfterAction)

	action := d.Action
	if action == "" {
		action = llm.ActionWait
	}
	r.actions = append(r.actions, ActionWithIntent{
		Step:       step,
		Action:     action,
		Ref:        d.Ref,
		Text:       d.Text,
		URL:        d.URL,
		Key:        d.Key,
		Reasoning:  d.Reasoning,
		Intention:  d.Intention,
		Confidence: string(d.Confidence),
		Timestamp:  r.e.now(),
	})
	return stepNext, nil
}

func (r *run) decide(ctx context.Context, system, prompt string) (*llm.Decision, error) {
	start := time.Now()
	d, err := r.e.decider.Decide(ctx, system, prompt)
	r.e.metrics.RecordDecision(time.Since(start), err != nil)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errs.NewDecisionError("empty decision", nil)
	}
	return d, nil
}

// act performs a decision. Missing arguments make the action a no-op.
func (r *run) act(ctx context.Context, snap *browser.Snapshot, d *llm.Decision) error {
	switch d.Action {
	case llm.ActionClick:
		if d.Ref == "" {
			return nil
		}
		ref, ok := snap.Lookup(d.Ref)
		if !ok {
			return errs.NewInteractionError("click", d.Ref, errs.ErrRefNotFound)
		}
		return r.drv.Click(ctx, ref)

	case llm.ActionType:
		if d.Ref == "" || d.Text == "" {
			return nil
		}
		ref, ok := snap.Lookup(d.Ref)
		if !ok {
			return errs.NewInteractionError("type", d.Ref, errs.ErrRefNotFound)
		}
		if ref.Password {
			return errs.NewInteractionError("type", d.Ref, errs.ErrPasswordField)
		}
		return r.drv.Fill(ctx, ref, d.Text)

	case llm.ActionScroll:
		return r.drv.Scroll(ctx, ScrollPixels)

	case llm.ActionNavigate:
		if d.URL == "" {
			return nil
		}
		return r.drv.Navigate(ctx, d.URL)

	case llm.ActionWait, "":
		return r.drv.Wait(ctx, WaitAction)

	case llm.ActionPress:
		if d.Key == "" {
			return nil
		}
		return r.drv.Press(ctx, d.Key)
	}
	return nil
}

func (r *run) settle(ctx context.Context, w [2]time.Duration) {
	if err := r.drv.WaitSettle(ctx, w[0], w[1]); err != nil {
		r.logger.WithError(err).Debug("settle interrupted")
	}
}

// pause hands the browser to the user until the login completes. It
// reports whether exploration may continue.
func (r *run) pause(ctx context.Context, det login.Detection) bool {
	r.e.metrics.RecordLoginDetected()

	loginURL, err := r.drv.URL()
	if err != nil {
		loginURL = r.cfg.URL
	}
	reasons := det.Reasons()

	if r.cfg.Browser.Headless {
		r.logger.LoginEvent("Login required but running headless; run `openexplorer login <url>` first",
			loginURL, string(det.Confidence), reasons)
		r.runLog("Login detected (headless), aborting: %s", loginURL)
		return false
	}

	r.logger.LoginEvent("Login required; sign in using the open browser window, exploration resumes afterwards",
		loginURL, string(det.Confidence), reasons)
	r.runLog("Login pause: %s - signals: %s", loginURL, strings.Join(reasons, ", "))

	failed := r.apis.Failed()
	c := r.e.watcher.Watch(ctx, r.drv, r.drv, loginURL, failed, r.cfg.LoginTimeout)
	r.e.metrics.RecordLoginPause(c.Completed, c.Signal)

	if !c.Completed {
		r.logger.Warnf("Login timed out; run `openexplorer login %s` to sign in first, then retry", r.cfg.URL)
		r.runLog("Login timeout after %ds", int(r.cfg.LoginTimeout.Seconds()))
		return false
	}

	log := r.logger.WithField("signal", c.Signal).WithDuration(c.Duration)
	if len(c.NewCookies) > 0 {
		log = log.WithField("new_cookies", c.NewCookies)
	}
	log.Info("Login completed")
	r.runLog("Login complete: signal=%s newCookies=[%s]", c.Signal, strings.Join(c.NewCookies, ","))

	sig := AuthSignal{
		LoginURL:              loginURL,
		CompletionSignal:      c.Signal,
		NewCookies:            append([]string{}, c.NewCookies...),
		FailedAPIsBeforeLogin: make([]FailedAPI, 0, len(failed)),
		Timestamp:             r.e.now(),
	}
	for _, f := range failed {
		sig.FailedAPIsBeforeLogin = append(sig.FailedAPIsBeforeLogin, FailedAPI{URL: f.URL, Status: f.Status})
	}
	r.authSignals = append(r.authSignals, sig)

	r.settle(ctx, settleAfterLogin)
	if cur, err := r.drv.URL(); err != nil || !strings.Contains(cur, r.target) {
		if err := r.drv.Navigate(ctx, r.cfg.URL); err != nil {
			r.logger.WithError(err).Warn("Could not return to the target after login")
		} else {
			r.settle(ctx, settleAfterAction)
		}
	}
	return true
}

// finish closes the browser, writes session.json and indexes the session.
func (r *run) finish(reason string) *Result {
	if err := r.drv.Close(); err != nil {
		r.logger.WithError(err).Warn("Browser close failed")
	}

	calls := r.apis.All()
	if calls == nil {
		calls = []apilog.Call{}
	}
	actions := append([]ActionWithIntent{}, r.actions...)
	signals := append([]AuthSignal{}, r.authSignals...)

	err := r.bundle.WriteSession(sessionFile{
		ID:          r.bundle.ID,
		Task:        r.cfg.Task,
		URL:         r.cfg.URL,
		Actions:     actions,
		APIsSeen:    calls,
		AuthSignals: signals,
		Reason:      reason,
		CreatedAt:   r.e.now().UTC(),
	})
	if err != nil {
		r.logger.WithError(err).Error("session.json not written")
	}

	r.runLog("Explore complete: %d actions, %d APIs observed", len(actions), len(calls))
	r.logger.Infof("Explore complete: %d actions, %d APIs observed (%s)", len(actions), len(calls), reason)
	r.index(reason)

	snap := r.e.metrics.Snapshot()
	r.logger.StatsEvent(snap.Summary())

	return &Result{
		SessionID:   r.bundle.ID,
		HARPath:     r.bundle.HARPath(),
		SessionDir:  r.bundle.Dir,
		Actions:     actions,
		APIsSeen:    calls,
		AuthSignals: signals,
		Reason:      reason,
		Stats:       snap,
	}
}

// index records the session in the store, if any. An empty reason marks
// a running session.
func (r *run) index(reason string) {
	if r.e.store == nil {
		return
	}
	rec := &state.SessionRecord{
		ID:          r.bundle.ID,
		Task:        r.cfg.Task,
		URL:         r.cfg.URL,
		Dir:         r.bundle.Dir,
		StartedAt:   r.started,
		Actions:     len(r.actions),
		APIsSeen:    r.apis.Len(),
		AuthSignals: len(r.authSignals),
		Reason:      reason,
	}
	if reason != "" {
		rec.FinishedAt = r.e.now()
	}
	if err := r.e.store.Put(rec); err != nil {
		r.logger.WithError(err).Warn("Session index not updated")
	}
}
