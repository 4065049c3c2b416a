package browser

import (
	"context"
	"time"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
	"github.com/PentesterFlow/OpenExplorer/internal/login"
)

// networkMonitorScript counts in-flight XHR and fetch calls so WaitSettle
// can tell when the page has gone quiet. Installed on every new document.
const networkMonitorScript = `
(function() {
	if (window.__networkMonitorInjected) return;
	window.__networkMonitorInjected = true;
	window.__pendingRequests = 0;
	window.__lastNetworkActivity = Date.now();

	const done = () => {
		window.__pendingRequests = Math.max(0, window.__pendingRequests - 1);
		window.__lastNetworkActivity = Date.now();
	};

	const origOpen = XMLHttpRequest.prototype.open;
	const origSend = XMLHttpRequest.prototype.send;
	XMLHttpRequest.prototype.open = function() {
		this.__monitored = true;
		return origOpen.apply(this, arguments);
	};
	XMLHttpRequest.prototype.send = function() {
		if (this.__monitored) {
			window.__pendingRequests++;
			window.__lastNetworkActivity = Date.now();
			this.addEventListener('loadend', done);
		}
		return origSend.apply(this, arguments);
	};

	if (window.fetch) {
		const origFetch = window.fetch;
		window.fetch = function() {
			window.__pendingRequests++;
			window.__lastNetworkActivity = Date.now();
			return origFetch.apply(this, arguments).finally(done);
		};
	}
})();
`

const stealthScript = `
(function() {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	if (!window.chrome) {
		window.chrome = { runtime: {}, loadTimes: function() {}, csi: function() {}, app: {} };
	}
	const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
	if (originalQuery) {
		window.navigator.permissions.query = (parameters) => (
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters)
		);
	}
})();
`

// loginButtonSelector matches the elements whose labels feed the login-text
// rules: buttons, submit inputs and role=button.
const loginButtonSelector = `button, input[type="submit"], [role="button"]`

// factsScript never reads the value of a text, email or password input. The
// full body text is returned so text rules see the whole page.
const factsScript = `() => {
	const body = document.body;
	const text = (body && body.innerText || '').trim();
	const buttons = [];
	document.querySelectorAll('` + loginButtonSelector + `').forEach(el => {
		if (buttons.length >= 200) return;
		const label = (el.textContent || '').trim();
		if (label) buttons.push(label.slice(0, 120));
		const isSubmit = el.tagName === 'INPUT' && el.type === 'submit';
		if ((el.tagName === 'BUTTON' || isSubmit) && el.value) buttons.push(String(el.value).slice(0, 120));
	});
	const h1 = document.querySelector('h1');
	return {
		title: document.title || '',
		heading: (h1 && h1.textContent || '').trim().slice(0, 500),
		bodyText: text,
		textLength: text.length,
		buttons: buttons,
		passwordFields: document.querySelectorAll('input[type="password"]').length,
		visibleFields: document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"])').length,
		interactive: document.querySelectorAll('button, a, input, select, textarea, [role="button"], [role="link"]').length,
	};
}`

type rawFacts struct {
	Title          string   `json:"title"`
	Heading        string   `json:"heading"`
	BodyText       string   `json:"bodyText"`
	TextLength     int      `json:"textLength"`
	Buttons        []string `json:"buttons"`
	PasswordFields int      `json:"passwordFields"`
	VisibleFields  int      `json:"visibleFields"`
	Interactive    int      `json:"interactive"`
}

// Facts probes the page for login evidence.
func (s *Session) Facts(ctx context.Context) (*login.PageFacts, error) {
	res, err := s.page.Context(ctx).Eval(factsScript)
	if err != nil {
		return nil, errs.NewSnapshotError("", "login probe", err)
	}
	var raw rawFacts
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil, errs.NewParseError("", "login probe", err)
	}
	return &login.PageFacts{
		Title:          raw.Title,
		Heading:        raw.Heading,
		BodyText:       raw.BodyText,
		TextLength:     raw.TextLength,
		Buttons:        raw.Buttons,
		PasswordFields: login.FieldCount(raw.PasswordFields),
		VisibleFields:  login.FieldCount(raw.VisibleFields),
		Interactive:    raw.Interactive,
	}, nil
}

const statsScript = `() => {
	const body = document.body;
	const text = (body && body.innerText || '').trim();
	let captchaFrames = 0;
	document.querySelectorAll('iframe').forEach(f => {
		const src = (f.src || '').toLowerCase();
		if (src.includes('captcha') || src.includes('challenges.cloudflare.com') || src.includes('turnstile')) captchaFrames++;
	});
	return {
		url: location.href,
		title: document.title || '',
		links: document.querySelectorAll('a[href]').length,
		interactive: document.querySelectorAll('button, a, input, select, textarea, [role="button"], [role="link"]').length,
		iframes: document.querySelectorAll('iframe').length,
		images: document.querySelectorAll('img').length,
		textLength: text.length,
		sample: text.slice(0, 3000).toLowerCase(),
		captchaFrames: captchaFrames,
	};
}`

// Stats collects page statistics and classifies blocked pages.
func (s *Session) Stats(ctx context.Context) (*PageStats, error) {
	res, err := s.page.Context(ctx).Eval(statsScript)
	if err != nil {
		return nil, errs.NewSnapshotError("", "page stats", err)
	}
	var raw RawStats
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil, errs.NewParseError("", "page stats", err)
	}
	return Classify(raw), nil
}

// WaitSettle waits until no XHR/fetch has been in flight for quiet, giving
// up silently after timeout. Only ctx cancellation is reported.
func (s *Session) WaitSettle(ctx context.Context, quiet, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	idleSince := time.Time{}
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if s.idle(ctx) {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if time.Since(idleSince) >= quiet {
				return nil
			}
		} else {
			idleSince = time.Time{}
		}

		if time.Now().After(deadline) {
			s.logger.Debugf("network did not settle within %v", timeout)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (s *Session) idle(ctx context.Context) bool {
	res, err := s.page.Context(ctx).Eval(`() => {
		if (document.readyState === 'loading') return false;
		if (window.__pendingRequests && window.__pendingRequests > 0) return false;
		if (window.jQuery && window.jQuery.active > 0) return false;
		return true;
	}`)
	if err != nil {
		// mid-navigation: the old document is gone and the new one is not ready
		return false
	}
	return res.Value.Bool()
}
