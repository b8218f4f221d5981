// -----------------------------------------------------------------------
// ChromeDP Browser - chromedp-backed implementation of the Browser interface
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
)

// Options holds configuration for the browser session
type Options struct {
	Headless    bool
	NoSandbox   bool
	UserAgent   string
	DownloadDir string // native downloads land here when set
}

// ChromeBrowser drives a single Chrome tab via chromedp. One session, one
// navigation at a time; the pipeline owns it exclusively for the run.
type ChromeBrowser struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	logger      arbor.ILogger
	closed      bool
}

// Compile-time interface assertion
var _ interfaces.Browser = (*ChromeBrowser)(nil)

// New launches a Chrome instance and opens its tab context
func New(opts Options, logger arbor.ILogger) (*ChromeBrowser, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	b := &ChromeBrowser{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		logger:      logger,
	}

	// Start the browser process and route native downloads to the
	// configured directory so the filesystem-polling strategy can find them.
	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if opts.DownloadDir != "" {
		actions = append(actions,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(opts.DownloadDir))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug().
		Bool("headless", opts.Headless).
		Str("download_dir", opts.DownloadDir).
		Msg("Browser session started")

	return b, nil
}

// run executes chromedp actions on the tab, honoring caller cancellation
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(b.tabCtx, actions...)
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *ChromeBrowser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := b.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (b *ChromeBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(b.tabCtx, timeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

func (b *ChromeBrowser) SendKeys(ctx context.Context, selector, value string) error {
	return b.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// ClickJS scrolls the element into view and clicks it from script. Used when
// a regular click is intercepted by an overlay.
func (b *ChromeBrowser) ClickJS(ctx context.Context, selector string) error {
	var clicked bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, selector)
	if err := b.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("element %q not found for scripted click", selector)
	}
	return nil
}

func (b *ChromeBrowser) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (b *ChromeBrowser) Cookies(ctx context.Context) ([]interfaces.Cookie, error) {
	var cookies []interfaces.Cookie
	err := b.run(ctx, chromedp.ActionFunc(func(cdpCtx context.Context) error {
		raw, err := network.GetCookies().Do(cdpCtx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookie := interfaces.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.Expires > 0 {
				cookie.Expires = time.Unix(int64(c.Expires), 0)
			}
			cookies = append(cookies, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read session cookies: %w", err)
	}
	return cookies, nil
}

func (b *ChromeBrowser) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := b.run(ctx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", err
	}
	return ua, nil
}

func (b *ChromeBrowser) AcceptLanguage(ctx context.Context) (string, error) {
	var lang string
	if err := b.run(ctx, chromedp.Evaluate(`navigator.language`, &lang)); err != nil {
		return "", err
	}
	return lang, nil
}

// Close tears the session down. Idempotent.
func (b *ChromeBrowser) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}
