// Package login decides whether the current page wants a human to sign in
// and watches for that human to finish, without ever seeing credentials.
package login

import (
	"context"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
)

// FieldCount is how many form fields of some kind a page has. It is the only
// thing this package learns about form fields: the type has no room for
// field content, so values cannot leak through it.
type FieldCount int

// Present reports whether at least one such field exists.
func (c FieldCount) Present() bool {
	return c > 0
}

// PageFacts is what a page probe may report. Button labels are the visible
// text of button-like elements or the value of submit/button inputs; no
// other input value is ever collected.
type PageFacts struct {
	Title          string
	Heading        string // text of the first h1
	BodyText       string // rendered body text, possibly truncated
	TextLength     int    // trimmed length of the full rendered text
	Buttons        []string
	PasswordFields FieldCount
	VisibleFields  FieldCount // inputs that are not hidden, submit or button
	Interactive    int        // buttons, links, inputs, selects, textareas, role=button|link
}

// Page is the read-only view of the current tab the detector and watcher
// need. URL must fail once the page is closed or unusable.
type Page interface {
	URL() (string, error)
	Facts(ctx context.Context) (*PageFacts, error)
}

// Release ends a subscription. It is safe to call more than once.
type Release func()

// BrowserContext is the cookie jar and event source shared by every tab of
// the session.
type BrowserContext interface {
	// CookieNames lists the names of all cookies in the context.
	CookieNames(ctx context.Context) ([]string, error)
	// OnResponse calls fn for each network response until released.
	OnResponse(fn func(apilog.Response)) (Release, error)
	// OnPopupClosed calls fn when a tab opened after subscribing is closed.
	OnPopupClosed(fn func()) (Release, error)
}
