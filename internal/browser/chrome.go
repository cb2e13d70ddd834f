package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// Config controls how Chrome sessions are launched.
type Config struct {
	Headless          bool
	SessionDir        string // base directory for per-user browser profiles
	NavigationTimeout time.Duration
}

// Launcher creates one Chrome session per user check. Profiles persist under
// SessionDir/<profile> so dashboard logins survive across cycles.
type Launcher struct {
	cfg Config
}

// NewLauncher returns a Launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// NewSession starts a browser using the named profile directory.
func (l *Launcher) NewSession(ctx context.Context, profile string) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.UserDataDir(filepath.Join(l.cfg.SessionDir, profile)),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so a broken Chrome install fails here, not
	// in the middle of navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &chromeSession{
		ctx:        browserCtx,
		cancel:     func() { cancelBrowser(); cancelAlloc() },
		navTimeout: l.cfg.NavigationTimeout,
	}, nil
}

type chromeSession struct {
	ctx        context.Context
	cancel     func()
	navTimeout time.Duration
}

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}

// run executes actions against the session's browser, bounded by timeout and
// by the caller's context.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if done := ctx.Done(); done != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(runCtx)
		defer cancel()
		go func() {
			select {
			case <-done:
				cancel()
			case <-runCtx.Done():
			}
		}()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.navTimeout, chromedp.Navigate(url))
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, s.navTimeout, chromedp.Location(&loc))
	return loc, err
}

func (s *chromeSession) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitVisible(loc.Query, queryOpt(loc)))
	if errors.Is(err, context.DeadlineExceeded) {
		return NotFoundf(loc, nil)
	}
	return err
}

func (s *chromeSession) Click(ctx context.Context, loc Locator) error {
	return s.run(ctx, s.navTimeout, chromedp.Click(loc.Query, queryOpt(loc)))
}

func (s *chromeSession) ClickNth(ctx context.Context, loc Locator, n int) error {
	expr := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		if (els.length <= %d) return false;
		els[%d].click();
		return true;
	})()`, jsString(loc.Query), n, n)

	var clicked bool
	if err := s.run(ctx, s.navTimeout, chromedp.Evaluate(expr, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return NotFoundf(loc, fmt.Errorf("index %d out of range", n))
	}
	return nil
}

func (s *chromeSession) Type(ctx context.Context, loc Locator, text string) error {
	return s.run(ctx, s.navTimeout, chromedp.SendKeys(loc.Query, text, queryOpt(loc)))
}

func (s *chromeSession) ReadValue(ctx context.Context, loc Locator) (string, error) {
	var val string
	err := s.run(ctx, s.navTimeout, chromedp.Value(loc.Query, &val, queryOpt(loc)))
	return val, err
}

func (s *chromeSession) SetValue(ctx context.Context, loc Locator, text string) error {
	// Set the value through the DOM and fire an input event so Ember-style
	// bound textareas pick up the change before save.
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return true;
	})()`, jsString(loc.Query), jsString(text))

	var ok bool
	if err := s.run(ctx, s.navTimeout, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return NotFoundf(loc, nil)
	}
	return nil
}

func (s *chromeSession) Texts(ctx context.Context, loc Locator) ([]string, error) {
	expr := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(e => e.textContent.trim())`,
		jsString(loc.Query))
	var out []string
	if err := s.run(ctx, s.navTimeout, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *chromeSession) Attributes(ctx context.Context, loc Locator, attr string) ([]string, error) {
	expr := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(e => {
			const a = e.querySelector('a');
			const t = e.hasAttribute(%s) ? e : a;
			return t ? (t.getAttribute(%s) || '') : '';
		})`,
		jsString(loc.Query), jsString(attr), jsString(attr))
	var out []string
	if err := s.run(ctx, s.navTimeout, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *chromeSession) Back(ctx context.Context) error {
	return s.run(ctx, s.navTimeout, chromedp.NavigateBack())
}

// queryOpt maps a Locator to the chromedp query strategy.
func queryOpt(loc Locator) chromedp.QueryOption {
	if loc.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// jsString embeds a Go string into a JS expression safely.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
