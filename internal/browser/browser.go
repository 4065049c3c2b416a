// Package browser drives a single Chrome tab via Rod for an exploration
// session.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
	"github.com/PentesterFlow/OpenExplorer/internal/login"
)

// Config defines browser configuration.
type Config struct {
	Headless          bool              `yaml:"headless" json:"headless"`
	ChromePath        string            `yaml:"chrome_path" json:"chrome_path"`
	ProfileDir        string            `yaml:"profile_dir" json:"profile_dir"` // persistent profile; empty means a throwaway one
	Stealth           bool              `yaml:"stealth" json:"stealth"`
	UserAgent         string            `yaml:"user_agent" json:"user_agent"`
	ViewportWidth     int               `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int               `yaml:"viewport_height" json:"viewport_height"`
	ExtraHeaders      map[string]string `yaml:"extra_headers" json:"extra_headers"`
	IgnoreHTTPSErrors bool              `yaml:"ignore_https_errors" json:"ignore_https_errors"`
	NavigationTimeout time.Duration     `yaml:"navigation_timeout" json:"navigation_timeout"`
	ActionTimeout     time.Duration     `yaml:"action_timeout" json:"action_timeout"`
	HARPath           string            `yaml:"-" json:"-"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:          false,
		Stealth:           true,
		ViewportWidth:     1280,
		ViewportHeight:    900,
		NavigationTimeout: 30 * time.Second,
		ActionTimeout:     10 * time.Second,
	}
}

// Session is one launched browser with the tab being explored.
type Session struct {
	cfg      Config
	logger   *logger.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	har      *HARRecorder

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[int]func(apilog.Response)
	nextSub int

	closeOnce sync.Once
	closeErr  error
}

// Launch starts Chrome and opens the exploration tab.
func Launch(cfg Config, l *logger.Logger) (*Session, error) {
	if l == nil {
		l = logger.Nop()
	}
	log := l.WithComponent("browser")

	ln := launcher.New().Headless(cfg.Headless)
	if cfg.ChromePath != "" {
		ln = ln.Bin(cfg.ChromePath)
	}
	if cfg.ProfileDir != "" {
		ln = ln.UserDataDir(cfg.ProfileDir)
	}
	if cfg.IgnoreHTTPSErrors {
		ln = ln.Set("ignore-certificate-errors")
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, errs.NewBrowserError("", "launch", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, errs.NewBrowserError("", "connect", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, errs.NewBrowserError("", "open page", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		logger:   log,
		launcher: ln,
		browser:  b,
		page:     page,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]func(apilog.Response)),
	}
	if cfg.HARPath != "" {
		s.har = NewHARRecorder()
	}

	if err := s.prepare(); err != nil {
		_ = s.Close()
		return nil, err
	}

	log.Info("Browser launched")
	return s, nil
}

func (s *Session) prepare() error {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return errs.NewBrowserError("", "enable network", err)
	}
	_ = proto.TargetSetDiscoverTargets{Discover: true}.Call(s.browser)

	if s.cfg.ViewportWidth > 0 && s.cfg.ViewportHeight > 0 {
		_ = s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  s.cfg.ViewportWidth,
			Height: s.cfg.ViewportHeight,
		})
	}

	if s.cfg.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: s.cfg.UserAgent}.Call(s.page)
	}

	if len(s.cfg.ExtraHeaders) > 0 {
		headers := make(proto.NetworkHeaders)
		for k, v := range s.cfg.ExtraHeaders {
			headers[k] = gson.New(v)
		}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(s.page)
	}

	if s.cfg.Stealth {
		if _, err := s.page.EvalOnNewDocument(stealthScript); err != nil {
			s.logger.Warnf("stealth script not installed: %v", err)
		}
	}
	if _, err := s.page.EvalOnNewDocument(networkMonitorScript); err != nil {
		return errs.NewBrowserError("", "install network monitor", err)
	}

	s.pumpNetworkEvents()
	return nil
}

// pumpNetworkEvents feeds the HAR recorder and response subscribers for the
// session lifetime.
func (s *Session) pumpNetworkEvents() {
	methods := make(map[proto.NetworkRequestID]string)

	wait := s.page.Context(s.ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request != nil {
				methods[e.RequestID] = e.Request.Method
			}
			if s.har != nil {
				s.har.OnRequest(e)
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if s.har != nil {
				s.har.OnResponse(e)
			}
			if e.Response == nil {
				return
			}
			method := methods[e.RequestID]
			delete(methods, e.RequestID)
			s.dispatch(apilog.Response{
				URL:         e.Response.URL,
				Method:      method,
				Status:      e.Response.Status,
				ContentType: contentType(e.Response),
			})
		},
		func(e *proto.NetworkLoadingFinished) {
			if s.har != nil {
				s.har.OnFinished(e)
			}
		},
		func(e *proto.NetworkLoadingFailed) {
			delete(methods, e.RequestID)
			if s.har != nil {
				s.har.OnFailed(e)
			}
		},
	)
	go wait()
}

func contentType(r *proto.NetworkResponse) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, "content-type") {
			return v.Str()
		}
	}
	return r.MIMEType
}

func (s *Session) dispatch(r apilog.Response) {
	s.mu.Lock()
	fns := make([]func(apilog.Response), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}

// OnResponse calls fn for every network response until released.
func (s *Session) OnResponse(fn func(apilog.Response)) (login.Release, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// OnPopupClosed calls fn whenever a tab opened after subscribing is closed.
func (s *Session) OnPopupClosed(fn func()) (login.Release, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	opened := make(map[proto.TargetTargetID]bool)

	wait := s.browser.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			info := e.TargetInfo
			if info != nil && info.Type == proto.TargetTargetInfoTypePage && info.TargetID != s.page.TargetID {
				opened[info.TargetID] = true
			}
		},
		func(e *proto.TargetTargetDestroyed) {
			if opened[e.TargetID] {
				delete(opened, e.TargetID)
				fn()
			}
		},
	)
	go wait()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// URL returns the tab's current URL. It fails once the tab is gone.
func (s *Session) URL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", fmt.Errorf("page info unavailable")
	}
	return info.URL, nil
}

// CookieNames lists the names of every cookie in the browser context.
func (s *Session) CookieNames(ctx context.Context) ([]string, error) {
	cookies, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, errs.NewBrowserError("", "read cookies", err)
	}
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names, nil
}

// Navigate loads url and waits for DOMContentLoaded.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if s.cfg.NavigationTimeout > 0 {
		p = p.Timeout(s.cfg.NavigationTimeout)
		defer p.CancelTimeout()
	}

	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return errs.NewNavigationError(url, err)
	}
	wait()
	return nil
}

// Wait pauses for d unless ctx ends first.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close stops event pumps, writes the HAR file and shuts Chrome down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		if s.har != nil {
			if err := s.har.WriteFile(s.cfg.HARPath); err != nil {
				s.logger.Warnf("HAR not written: %v", err)
				s.closeErr = errs.NewStorageError("write har", err)
			}
		}

		if err := s.browser.Close(); err != nil && s.closeErr == nil {
			s.closeErr = errs.NewBrowserError("", "close", err)
		}
		// A throwaway profile is removed; a persistent one must survive.
		if s.cfg.ProfileDir == "" {
			s.launcher.Cleanup()
		}
	})
	return s.closeErr
}
