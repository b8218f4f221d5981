// Package browsertest provides a scriptable fake Browser implementation for
// deterministic pipeline tests without a real Chrome instance.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/billhound/billhound/internal/interfaces"
)

// FakeBrowser is a scriptable in-memory Browser. Tests configure pages keyed
// by URL and register click handlers that mutate the fake's state, which is
// enough to exercise login flows, pagination and download triggering.
type FakeBrowser struct {
	mu sync.Mutex

	// Pages maps URL -> page source served on Navigate
	Pages map[string]string

	// Redirects maps a navigated URL to the URL the fake ends up on
	Redirects map[string]string

	// VisibleSelectors lists selectors WaitVisible succeeds for
	VisibleSelectors map[string]bool

	// ClickHandlers maps selector -> handler invoked on Click
	ClickHandlers map[string]func()

	// ClickErrors maps selector -> error returned by Click (before any
	// handler runs); used to simulate intercepted clicks
	ClickErrors map[string]error

	// JSClickHandlers maps selector -> handler invoked on ClickJS
	JSClickHandlers map[string]func()

	// NavigateHook, when set, runs on every Navigate call
	NavigateHook func(url string)

	// SessionCookies returned by Cookies
	SessionCookies []interfaces.Cookie

	currentURL string
	source     string
	typed      map[string]string
	closed     bool
}

var _ interfaces.Browser = (*FakeBrowser)(nil)

// NewFakeBrowser creates an empty scriptable browser
func NewFakeBrowser() *FakeBrowser {
	return &FakeBrowser{
		Pages:            make(map[string]string),
		Redirects:        make(map[string]string),
		VisibleSelectors: make(map[string]bool),
		ClickHandlers:    make(map[string]func()),
		ClickErrors:      make(map[string]error),
		JSClickHandlers:  make(map[string]func()),
		typed:            make(map[string]string),
	}
}

// SetSource replaces the current page source directly, simulating a
// client-side page change without navigation.
func (f *FakeBrowser) SetSource(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = source
}

// Typed returns what was typed into the selector
func (f *FakeBrowser) Typed(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[selector]
}

// Closed reports whether Close was called
func (f *FakeBrowser) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeBrowser) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	hook := f.NavigateHook
	target := url
	if redirect, ok := f.Redirects[url]; ok {
		target = redirect
	}
	f.currentURL = target
	f.source = f.Pages[target]
	f.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return nil
}

func (f *FakeBrowser) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, nil
}

func (f *FakeBrowser) WaitVisible(_ context.Context, selector string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VisibleSelectors[selector] {
		return nil
	}
	return fmt.Errorf("element %q not visible within %s", selector, timeout)
}

func (f *FakeBrowser) SendKeys(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[selector] = value
	return nil
}

func (f *FakeBrowser) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	err := f.ClickErrors[selector]
	handler := f.ClickHandlers[selector]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if handler != nil {
		handler()
		return nil
	}
	return fmt.Errorf("no click handler for %q", selector)
}

func (f *FakeBrowser) ClickJS(_ context.Context, selector string) error {
	f.mu.Lock()
	handler := f.JSClickHandlers[selector]
	f.mu.Unlock()

	if handler != nil {
		handler()
		return nil
	}
	return fmt.Errorf("no scripted click handler for %q", selector)
}

func (f *FakeBrowser) PageSource(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source, nil
}

func (f *FakeBrowser) Cookies(context.Context) ([]interfaces.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SessionCookies, nil
}

func (f *FakeBrowser) UserAgent(context.Context) (string, error) {
	return "FakeBrowser/1.0", nil
}

func (f *FakeBrowser) AcceptLanguage(context.Context) (string, error) {
	return "de-DE", nil
}

func (f *FakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
