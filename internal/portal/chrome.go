package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// ChromeConfig configures the Chrome portal.
type ChromeConfig struct {
	DebugAddr   string        // DevTools address of an already running Chrome, e.g. 127.0.0.1:9222
	ListURL     string        // people list URL
	DownloadDir string        // staging directory for downloads
	Wait        time.Duration // base wait for elements
	ClickGap    time.Duration // pause after each click
	Selectors   Selectors
}

// Chrome drives the portal through an already running, logged-in Chrome via
// the DevTools protocol.
type Chrome struct {
	cfg    ChromeConfig
	sel    Selectors
	logger *slog.Logger

	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	tabCancel     context.CancelFunc
	tab           context.Context
}

// NewChrome creates a Chrome portal. Call Open before anything else.
func NewChrome(cfg ChromeConfig) *Chrome {
	if cfg.Wait <= 0 {
		cfg.Wait = 25 * time.Second
	}
	if cfg.ClickGap < 0 {
		cfg.ClickGap = 0
	}
	return &Chrome{
		cfg:    cfg,
		sel:    cfg.Selectors.merge(DefaultSelectors()),
		logger: slog.With("component", "portal"),
	}
}

// Open attaches to Chrome, reuses a tab already showing the list when there is
// one, routes downloads to the staging directory and waits for rows.
func (c *Chrome) Open(ctx context.Context) error {
	url := c.cfg.DebugAddr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), url)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	c.allocCancel, c.browserCancel = allocCancel, browserCancel

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		c.Close()
		return fmt.Errorf("attach to chrome at %s: %w", c.cfg.DebugAddr, err)
	}

	var tabOpts []chromedp.ContextOption
	for _, t := range targets {
		if t.Type == "page" && c.cfg.ListURL != "" && strings.HasPrefix(t.URL, c.cfg.ListURL) {
			tabOpts = append(tabOpts, chromedp.WithTargetID(t.TargetID))
			c.logger.Info("reusing open list tab", "target", t.TargetID)
			break
		}
	}
	if len(tabOpts) == 0 {
		if id := firstPage(targets); id != "" {
			tabOpts = append(tabOpts, chromedp.WithTargetID(id))
		}
	}
	c.tab, c.tabCancel = chromedp.NewContext(browserCtx, tabOpts...)

	// The first Run attaches the tab; it must not carry a timeout or the tab
	// would be torn down when it fires.
	if err := chromedp.Run(c.tab); err != nil {
		c.Close()
		return fmt.Errorf("attach tab: %w", err)
	}

	if err := c.run(ctx, c.cfg.Wait,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(c.cfg.DownloadDir),
	); err != nil {
		c.logger.Warn("could not route downloads to staging directory, chrome will use its default", "error", err)
	}

	var current string
	if err := c.run(ctx, c.cfg.Wait, chromedp.Location(&current)); err != nil {
		return fmt.Errorf("read current url: %w", err)
	}
	if !strings.HasPrefix(current, c.cfg.ListURL) {
		if err := c.run(ctx, c.cfg.Wait, chromedp.Navigate(c.cfg.ListURL)); err != nil {
			return fmt.Errorf("navigate to list: %w", err)
		}
	}

	ok, err := c.poll(ctx, c.cfg.Wait, 500*time.Millisecond, func() (bool, error) {
		n, err := c.RowCount(ctx)
		return n > 0, err
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("list rows: %w", ErrNotFound)
	}
	return nil
}

func firstPage(targets []*target.Info) target.ID {
	for _, t := range targets {
		if t.Type == "page" {
			return t.TargetID
		}
	}
	return ""
}

// Close detaches from Chrome. The browser itself keeps running.
func (c *Chrome) Close() error {
	for _, cancel := range []context.CancelFunc{c.tabCancel, c.browserCancel, c.allocCancel} {
		if cancel != nil {
			cancel()
		}
	}
	return nil
}

// SetPageSize opens the paginator's size select and picks size, or the
// largest numeric option.
func (c *Chrome) SetPageSize(ctx context.Context, size int) error {
	defer c.closeOverlays(ctx)

	if !c.clickWhenReady(ctx, c.sel.PageSizeSelect, 4*time.Second) {
		return fmt.Errorf("page size select: %w", ErrNotFound)
	}

	var options []string
	found, err := c.poll(ctx, 2*time.Second, 200*time.Millisecond, func() (bool, error) {
		options = nil
		err := c.eval(ctx, fmt.Sprintf(`return all(%s).map(e => (e.innerText || '').trim());`, q(c.sel.PageSizeOptions)), &options)
		return len(options) > 0, err
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("page size options: %w", ErrNotFound)
	}

	choice := pickPageSize(options, size)
	if choice == "" {
		return fmt.Errorf("numeric page size option: %w", ErrNotFound)
	}
	xp := fmt.Sprintf("(%s)[normalize-space()='%s']", c.sel.PageSizeOptions, choice)
	if !c.clickXPath(ctx, xp) {
		return fmt.Errorf("page size option %s: %w", choice, ErrNotFound)
	}
	c.logger.Info("page size selected", "size", choice)
	return sleep(ctx, 500*time.Millisecond)
}

// pickPageSize returns the preferred option when offered, else the largest
// numeric option.
func pickPageSize(options []string, preferred int) string {
	want := strconv.Itoa(preferred)
	var nums []int
	for _, o := range options {
		if o == want {
			return o
		}
		if n, err := strconv.Atoi(o); err == nil {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return ""
	}
	sort.Ints(nums)
	return strconv.Itoa(nums[len(nums)-1])
}

// RowCount counts rows on the current page.
func (c *Chrome) RowCount(ctx context.Context) (int, error) {
	var n int
	if err := c.eval(ctx, fmt.Sprintf(`return all(%s).length;`, q(c.sel.Rows)), &n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowResult struct {
	Found bool   `json:"found"`
	HTML  string `json:"html"`
}

// RowHTML re-locates row idx and returns its outer HTML. A row that is gone
// is reported as ErrStaleElement: the table is re-rendering.
func (c *Chrome) RowHTML(ctx context.Context, idx int) (string, error) {
	var res rowResult
	js := fmt.Sprintf(`const r = one("(" + %s + ")[" + %d + "]");
		if (!r) return {found: false, html: ""};
		r.scrollIntoView({block: 'center'});
		return {found: true, html: r.outerHTML};`, q(c.sel.Rows), idx)
	if err := c.eval(ctx, js, &res); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("row %d: %w", idx, ErrStaleElement)
	}
	return res.HTML, nil
}

// Generate walks row menu -> Generate -> PDA Report -> final Generate.
func (c *Chrome) Generate(ctx context.Context, idx int) error {
	c.closeOverlays(ctx)

	if err := c.openRowMenu(ctx, idx); err != nil {
		return err
	}
	if !c.clickInPanes(ctx, c.sel.MenuGenerate) {
		return fmt.Errorf("menu item generate: %w", ErrNotFound)
	}
	if err := c.gap(ctx); err != nil {
		return err
	}

	if !c.clickWhenReady(ctx, c.sel.PDAReport, 12*time.Second) &&
		!c.clickWhenReady(ctx, c.sel.AnyPDAButton, 6*time.Second) {
		return fmt.Errorf("pda report option: %w", ErrNotFound)
	}
	if err := c.gap(ctx); err != nil {
		return err
	}

	if !c.clickWhenReady(ctx, c.sel.FinalGenerate, 15*time.Second) &&
		!c.clickWhenReady(ctx, c.sel.PanelGenerate, 8*time.Second) {
		return fmt.Errorf("final generate button: %w", ErrNotFound)
	}
	return c.gap(ctx)
}

func (c *Chrome) openRowMenu(ctx context.Context, idx int) error {
	for _, rel := range []string{c.sel.RowMenu, c.sel.RowCaret} {
		var status string
		js := fmt.Sprintf(`const r = one("(" + %s + ")[" + %d + "]");
			if (!r) return "stale";
			const b = one(%s, r);
			if (!b) return "missing";
			click(b);
			return "ok";`, q(c.sel.Rows), idx, q(rel))
		if err := c.eval(ctx, js, &status); err != nil {
			return err
		}
		switch status {
		case "stale":
			return fmt.Errorf("row %d: %w", idx, ErrStaleElement)
		case "missing":
			continue
		}
		if err := c.gap(ctx); err != nil {
			return err
		}
		open, err := c.poll(ctx, 2*time.Second, 250*time.Millisecond, func() (bool, error) {
			var visible bool
			err := c.eval(ctx, fmt.Sprintf(`return Array.from(document.querySelectorAll(%s)).some(visible);`, q(c.sel.OverlayPane)), &visible)
			return visible, err
		})
		if err != nil {
			return err
		}
		if open {
			return nil
		}
	}
	return fmt.Errorf("row %d actions menu: %w", idx, ErrNotFound)
}

// NextPage clicks "next" and waits until the first row changes.
func (c *Chrome) NextPage(ctx context.Context) (bool, error) {
	c.closeOverlays(ctx)
	old := c.firstRowText(ctx)

	if !c.clickWhenReady(ctx, c.sel.NextPage, 4*time.Second) {
		return false, nil
	}

	changed, err := c.poll(ctx, 12*time.Second, 300*time.Millisecond, func() (bool, error) {
		n, err := c.RowCount(ctx)
		if err != nil {
			return false, err
		}
		return n > 0 && c.firstRowText(ctx) != old, nil
	})
	if err != nil || !changed {
		return false, err
	}
	return true, sleep(ctx, 500*time.Millisecond)
}

func (c *Chrome) firstRowText(ctx context.Context) string {
	var text string
	js := fmt.Sprintf(`const r = one("(" + %s + ")[1]"); return r ? (r.innerText || '').trim() : "";`, q(c.sel.Rows))
	if err := c.eval(ctx, js, &text); err != nil {
		return ""
	}
	return text
}

// closeOverlays closes an open drawer and up to three overlay backdrops.
func (c *Chrome) closeOverlays(ctx context.Context) {
	js := fmt.Sprintf(`for (const d of all(%s)) { const b = one(%s, d); if (b) click(b); }
		for (let i = 0; i < 3; i++) {
			const backs = Array.from(document.querySelectorAll(%s)).filter(visible);
			if (!backs.length) break;
			backs[backs.length - 1].click();
		}
		return true;`, q(c.sel.DrawerOpen), q(c.sel.DrawerClose), q(c.sel.OverlayBackdrop))
	var ok bool
	if err := c.eval(ctx, js, &ok); err != nil {
		c.logger.Debug("closing overlays failed", "error", err)
		return
	}
	sleep(ctx, 300*time.Millisecond)
}

func (c *Chrome) clickInPanes(ctx context.Context, rel string) bool {
	js := fmt.Sprintf(`const panes = Array.from(document.querySelectorAll(%s)).filter(visible).reverse();
		for (const p of panes) { const b = one(%s, p); if (b) { click(b); return true; } }
		return false;`, q(c.sel.OverlayPane), q(rel))
	var ok bool
	if err := c.eval(ctx, js, &ok); err != nil {
		return false
	}
	return ok
}

func (c *Chrome) clickXPath(ctx context.Context, xp string) bool {
	js := fmt.Sprintf(`const b = one(%s);
		if (!b || !visible(b) || b.disabled) return false;
		click(b);
		return true;`, q(xp))
	var ok bool
	if err := c.eval(ctx, js, &ok); err != nil {
		return false
	}
	return ok
}

// clickWhenReady polls until xp is clickable, clicks it and reports success.
func (c *Chrome) clickWhenReady(ctx context.Context, xp string, timeout time.Duration) bool {
	ok, _ := c.poll(ctx, timeout, 250*time.Millisecond, func() (bool, error) {
		return c.clickXPath(ctx, xp), nil
	})
	return ok
}

func (c *Chrome) gap(ctx context.Context) error {
	return sleep(ctx, c.cfg.ClickGap)
}

const jsPrelude = `(() => {
const one = (xp, root) => document.evaluate(xp, root || document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
const all = (xp, root) => { const r = document.evaluate(xp, root || document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null); const out = []; for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i)); return out; };
const visible = el => !!(el && (el.offsetWidth || el.offsetHeight || el.getClientRects().length));
const click = el => { el.scrollIntoView({block: 'center'}); el.click(); return true; };
%s
})()`

// eval runs body inside the helper prelude and decodes its return value.
func (c *Chrome) eval(ctx context.Context, body string, out any) error {
	return c.run(ctx, c.cfg.Wait, chromedp.Evaluate(fmt.Sprintf(jsPrelude, body), out))
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.tab == nil {
		return fmt.Errorf("portal not open")
	}
	runCtx, cancel := context.WithTimeout(c.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// poll calls cond every interval until it returns true, the timeout elapses
// or ctx is done.
func (c *Chrome) poll(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			c.logger.Debug("poll condition failed", "error", err)
		}
		if ok {
			return true, nil
		}
		if time.Now().Add(interval).After(deadline) {
			return false, nil
		}
		if err := sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

// q quotes s as a JavaScript string literal.
func q(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
