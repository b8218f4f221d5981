package interfaces

import (
	"context"
	"time"
)

// Cookie is a browser cookie in transport-neutral form, used to bridge the
// automated session's cookies into a plain HTTP client.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
}

// Browser is the narrow capability surface the pipeline needs from an
// automated browser session. Any automation library satisfying it is
// substitutable, which also enables deterministic testing via a fake.
type Browser interface {
	// Navigate loads the given URL in the session's tab.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the tab's current location.
	CurrentURL(ctx context.Context) (string, error)

	// WaitVisible blocks until the selector matches a visible element or
	// the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// SendKeys types the value into the element matching the selector.
	SendKeys(ctx context.Context, selector, value string) error

	// Click clicks the element matching the selector.
	Click(ctx context.Context, selector string) error

	// ClickJS scrolls the element into view and invokes its click handler
	// programmatically. Fallback for clicks intercepted by overlays.
	ClickJS(ctx context.Context, selector string) error

	// PageSource returns the current page's rendered HTML.
	PageSource(ctx context.Context) (string, error)

	// Cookies returns the session's current cookies.
	Cookies(ctx context.Context) ([]Cookie, error)

	// UserAgent returns the session's user agent string.
	UserAgent(ctx context.Context) (string, error)

	// AcceptLanguage returns the session's preferred language.
	AcceptLanguage(ctx context.Context) (string, error)

	// Close tears down the session. Safe to call on every exit path.
	Close() error
}
