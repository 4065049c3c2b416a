package login

import (
	"context"
	"errors"
	"sync"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
)

var errGone = errors.New("target closed")

// fakePage serves scripted URL and facts values. Hooks run on every poll.
type fakePage struct {
	mu       sync.Mutex
	url      string
	urlErr   error
	facts    *PageFacts
	factsErr error
	onURL    func(n int)
	urlReads int
}

func (p *fakePage) URL() (string, error) {
	p.mu.Lock()
	p.urlReads++
	n := p.urlReads
	hook := p.onURL
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.urlErr
}

func (p *fakePage) Facts(ctx context.Context) (*PageFacts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.factsErr != nil {
		return nil, p.factsErr
	}
	if p.facts == nil {
		return &PageFacts{}, nil
	}
	f := *p.facts
	return &f, nil
}

func (p *fakePage) set(url string, facts *PageFacts) {
	p.mu.Lock()
	p.url = url
	p.facts = facts
	p.mu.Unlock()
}

// fakeContext records subscriptions so tests can fire events and check that
// every subscription was released.
type fakeContext struct {
	mu         sync.Mutex
	cookies    []string
	cookieErr  error
	cookieFail int // reads that fail before cookies are served
	onResponse []func(apilog.Response)
	onPopup    []func()
	subscribed int
	released   int
}

func (c *fakeContext) CookieNames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookieErr != nil {
		return nil, c.cookieErr
	}
	if c.cookieFail > 0 {
		c.cookieFail--
		return nil, errors.New("cookie store unavailable")
	}
	return append([]string(nil), c.cookies...), nil
}

func (c *fakeContext) setCookies(names ...string) {
	c.mu.Lock()
	c.cookies = names
	c.mu.Unlock()
}

func (c *fakeContext) release() Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.released++
			c.mu.Unlock()
		})
	}
}

func (c *fakeContext) OnResponse(fn func(apilog.Response)) (Release, error) {
	c.mu.Lock()
	c.onResponse = append(c.onResponse, fn)
	c.subscribed++
	c.mu.Unlock()
	return c.release(), nil
}

func (c *fakeContext) OnPopupClosed(fn func()) (Release, error) {
	c.mu.Lock()
	c.onPopup = append(c.onPopup, fn)
	c.subscribed++
	c.mu.Unlock()
	return c.release(), nil
}

func (c *fakeContext) respond(r apilog.Response) {
	c.mu.Lock()
	fns := append([]func(apilog.Response){}, c.onResponse...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (c *fakeContext) closePopup() {
	c.mu.Lock()
	fns := append([]func(){}, c.onPopup...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *fakeContext) balanced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed == c.released
}
