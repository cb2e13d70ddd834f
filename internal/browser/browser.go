// Package browser is the boundary to the automation capability that drives
// the device dashboard. The core only depends on the Session interface; the
// chromedp implementation in chrome.go is deliberately thin.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that an element was not found (or not visible) within
// its bounded wait. The navigation machine treats it as "step not applicable"
// on optional steps and as a navigation failure on required ones.
var ErrNotFound = errors.New("element not found")

// Locator identifies a page element, either by CSS selector or XPath.
type Locator struct {
	Query string
	XPath bool
}

// CSS builds a CSS-selector locator.
func CSS(query string) Locator { return Locator{Query: query} }

// XPath builds an XPath locator.
func XPath(query string) Locator { return Locator{Query: query, XPath: true} }

func (l Locator) String() string {
	if l.XPath {
		return "xpath:" + l.Query
	}
	return "css:" + l.Query
}

// Session is one isolated automation session. Every blocking call takes a
// context and every wait is bounded; a Session must be Closed on all exit
// paths before the next user's check starts.
type Session interface {
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
	// WaitVisible waits until the element is visible, failing with
	// ErrNotFound once the timeout elapses.
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	// Click clicks the first element matching the locator.
	Click(ctx context.Context, loc Locator) error
	// ClickNth clicks the n-th (0-based) element matching a CSS locator.
	ClickNth(ctx context.Context, loc Locator, n int) error
	// Type sends keystrokes to the element.
	Type(ctx context.Context, loc Locator, text string) error
	// ReadValue returns the form value of the element.
	ReadValue(ctx context.Context, loc Locator) (string, error)
	// SetValue replaces the form value and dispatches an input event so
	// framework-bound editors notice the change.
	SetValue(ctx context.Context, loc Locator, text string) error
	// Texts returns the text content of every element matching the locator,
	// in document order.
	Texts(ctx context.Context, loc Locator) ([]string, error)
	// Attributes returns the given attribute of every element matching the
	// locator, in document order; missing attributes yield "".
	Attributes(ctx context.Context, loc Locator, attr string) ([]string, error)
	// Back navigates one step back in history.
	Back(ctx context.Context) error
	// Close releases the session and all browser resources.
	Close() error
}

// NotFoundf wraps ErrNotFound with a locator description.
func NotFoundf(loc Locator, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return fmt.Errorf("%w: %s: %v", ErrNotFound, loc, err)
}
