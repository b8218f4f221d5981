// -----------------------------------------------------------------------
// Session Controller - Authenticates the automated browser session
// -----------------------------------------------------------------------

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
)

// Two-step sign-in form selectors. Fixed markup contract with the site;
// a layout change here surfaces as an authentication timeout.
const (
	identifierField = "#ap_email"
	continueButton  = "#continue"
	passwordField   = "#ap_password"
	submitButton    = "#signInSubmit"

	signInURLMarker = "ap/signin"

	urlPollInterval = 500 * time.Millisecond
)

// State tracks the authentication state machine
type State int

const (
	StateUnauthenticated State = iota
	StateAuthInProgress
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthInProgress:
		return "auth_in_progress"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Config holds the session controller parameters
type Config struct {
	ReportURL       string        // target report page, also the post-login landing check
	ReportURLMarker string        // substring identifying the report page URL
	AuthWait        time.Duration // bound on every wait in the login flow
}

// Controller drives the login state machine over the browser session
type Controller struct {
	browser interfaces.Browser
	config  Config
	logger  arbor.ILogger
	sink    interfaces.LogSink
	state   State
}

// NewController creates a session controller
func NewController(browser interfaces.Browser, config Config, logger arbor.ILogger, sink interfaces.LogSink) *Controller {
	return &Controller{
		browser: browser,
		config:  config,
		logger:  logger,
		sink:    sink,
		state:   StateUnauthenticated,
	}
}

// State returns the current authentication state
func (c *Controller) State() State {
	return c.state
}

// Login navigates to the report URL and authenticates if the site redirects
// to its sign-in flow. Any timeout is terminal for the run: a failed login
// may reflect a lockout or markup change that retrying would not fix.
func (c *Controller) Login(ctx context.Context, identifier, secret string) error {
	c.state = StateUnauthenticated

	if err := c.browser.Navigate(ctx, c.config.ReportURL); err != nil {
		return fmt.Errorf("failed to open report page: %w: %w", err, models.ErrAuthentication)
	}

	currentURL, err := c.browser.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current URL: %w: %w", err, models.ErrAuthentication)
	}

	if !strings.Contains(currentURL, signInURLMarker) {
		// Session already valid, e.g. from persisted browser cookies
		c.state = StateAuthenticated
		c.emit("Already signed in.")
		return nil
	}

	c.state = StateAuthInProgress
	c.emit("Sign-in required.")

	if err := c.browser.WaitVisible(ctx, identifierField, c.config.AuthWait); err != nil {
		return fmt.Errorf("identifier field did not appear: %w: %w", err, models.ErrAuthentication)
	}
	if err := c.browser.SendKeys(ctx, identifierField, identifier); err != nil {
		return fmt.Errorf("failed to enter identifier: %w: %w", err, models.ErrAuthentication)
	}
	if err := c.browser.Click(ctx, continueButton); err != nil {
		return fmt.Errorf("failed to submit identifier: %w: %w", err, models.ErrAuthentication)
	}

	if err := c.browser.WaitVisible(ctx, passwordField, c.config.AuthWait); err != nil {
		return fmt.Errorf("password field did not appear: %w: %w", err, models.ErrAuthentication)
	}
	if err := c.browser.SendKeys(ctx, passwordField, secret); err != nil {
		return fmt.Errorf("failed to enter password: %w: %w", err, models.ErrAuthentication)
	}
	if err := c.browser.Click(ctx, submitButton); err != nil {
		return fmt.Errorf("failed to submit password: %w: %w", err, models.ErrAuthentication)
	}

	if err := c.waitForURLContains(ctx, c.config.ReportURLMarker, c.config.AuthWait); err != nil {
		return fmt.Errorf("report page did not load after sign-in: %w: %w", err, models.ErrAuthentication)
	}

	c.state = StateAuthenticated
	c.emit("Sign-in successful.")
	return nil
}

// waitForURLContains polls the current URL until it contains the marker
func (c *Controller) waitForURLContains(ctx context.Context, marker string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		currentURL, err := c.browser.CurrentURL(ctx)
		if err == nil && strings.Contains(currentURL, marker) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("URL did not contain %q within %s", marker, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(urlPollInterval):
		}
	}
}

func (c *Controller) emit(line string) {
	c.logger.Info().Msg(line)
	if c.sink != nil {
		c.sink(line)
	}
}
