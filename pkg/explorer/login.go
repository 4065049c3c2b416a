package explorer

import (
	"context"
	"net/url"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
	"github.com/PentesterFlow/OpenExplorer/internal/login"
)

// LoginResult is the outcome of an interactive login session.
type LoginResult struct {
	URL        string           `json:"url"`
	Detection  login.Detection  `json:"detection"`
	Completion login.Completion `json:"completion"`
}

// Login opens target in a visible browser and waits for the user to sign
// in, so later runs sharing the profile start authenticated. If no login
// page is detected it returns at once with a zero Completion.
func (e *Explorer) Login(ctx context.Context, target string) (*LoginResult, error) {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return nil, errs.NewConfigError("login URL " + target + " has no host")
	}

	bcfg := e.config.Browser
	bcfg.Headless = false
	bcfg.HARPath = ""
	drv, err := e.launch(bcfg, e.logger)
	if err != nil {
		return nil, err
	}
	defer drv.Close()

	log := e.logger.WithURL(target)
	calls := apilog.NewLog()
	observer := apilog.NewObserver(calls, e.logger)
	if release, err := drv.OnResponse(func(r apilog.Response) { observer.Observe(r) }); err == nil {
		defer release()
	}

	if err := drv.Navigate(ctx, target); err != nil {
		return nil, err
	}
	if err := drv.WaitSettle(ctx, settleAfterAction[0], settleAfterAction[1]); err != nil {
		return nil, err
	}

	res := &LoginResult{URL: target}
	res.Detection = e.detector.Detect(ctx, drv, calls.All(), u.Hostname())
	if !res.Detection.IsLoginPage {
		log.Info("No login page detected; the profile may already be signed in")
		return res, nil
	}

	loginURL, err := drv.URL()
	if err != nil {
		loginURL = target
	}
	log.LoginEvent("Sign in using the open browser window", loginURL,
		string(res.Detection.Confidence), res.Detection.Reasons())

	res.Completion = e.watcher.Watch(ctx, drv, drv, loginURL, calls.Failed(), e.config.LoginTimeout)
	e.metrics.RecordLoginPause(res.Completion.Completed, res.Completion.Signal)
	if !res.Completion.Completed {
		if ctx.Err() != nil {
			return res, errs.NewCancelledError(target, "login")
		}
		return res, errs.ErrLoginAborted
	}

	// let the site finish writing session cookies before the profile closes
	_ = drv.WaitSettle(ctx, settleAfterLogin[0], settleAfterLogin[1])
	return res, nil
}
