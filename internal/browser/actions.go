package browser

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
)

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"space":      input.Space,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
}

// KeyFor maps a key name such as "Enter" or a single character to a rod key.
func KeyFor(name string) (input.Key, bool) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, true
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return input.Key(r), true
	}
	return 0, false
}

// element finds ref under the action timeout. done releases the timeout.
func (s *Session) element(ctx context.Context, ref Ref) (el *rod.Element, done func(), err error) {
	if s.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ActionTimeout)
		done = cancel
	} else {
		done = func() {}
	}
	el, err = s.page.Context(ctx).Element(ref.Selector)
	if err != nil {
		done()
		return nil, nil, err
	}
	return el, done, nil
}

// Click scrolls the element into view and clicks it.
func (s *Session) Click(ctx context.Context, ref Ref) error {
	el, done, err := s.element(ctx, ref)
	if err != nil {
		return errs.NewInteractionError("click", ref.Selector, err)
	}
	defer done()

	_ = el.ScrollIntoView()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return errs.NewInteractionError("click", ref.Selector, err)
	}
	return nil
}

// Fill replaces the element's text. Password inputs are refused.
func (s *Session) Fill(ctx context.Context, ref Ref, text string) error {
	if ref.Password {
		return errs.ErrPasswordField
	}
	el, done, err := s.element(ctx, ref)
	if err != nil {
		return errs.NewInteractionError("type", ref.Selector, err)
	}
	defer done()

	// The snapshot may be stale; check the live element too.
	if typ, err := el.Property("type"); err == nil && strings.EqualFold(typ.Str(), "password") {
		return errs.ErrPasswordField
	}

	if err := el.SelectAllText(); err != nil {
		return errs.NewInteractionError("type", ref.Selector, err)
	}
	if err := el.Input(text); err != nil {
		return errs.NewInteractionError("type", ref.Selector, err)
	}
	return nil
}

// Scroll moves the viewport down by px pixels.
func (s *Session) Scroll(ctx context.Context, px int) error {
	if _, err := s.page.Context(ctx).Eval(`(px) => window.scrollBy(0, px)`, px); err != nil {
		return errs.NewInteractionError("scroll", "", err)
	}
	return nil
}

// Press sends one key press to the focused element.
func (s *Session) Press(ctx context.Context, key string) error {
	k, ok := KeyFor(key)
	if !ok {
		return errs.NewInteractionError("press", key, fmt.Errorf("unsupported key %q", key))
	}
	if err := s.page.Context(ctx).Keyboard.Press(k); err != nil {
		return errs.NewInteractionError("press", key, err)
	}
	return nil
}
