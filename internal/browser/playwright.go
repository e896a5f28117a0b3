package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
)

// Config carries the few knobs both adapters honour. Anything driver
// specific stays inside the adapter.
type Config struct {
	Headless      bool
	NavTimeout    time.Duration
	ActionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	return c
}

// playwrightBackend drives a Chromium page through Playwright. Close tears
// down the page, the context and the Playwright driver it started.
type playwrightBackend struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
}

// NewPlaywright starts the Playwright driver, launches Chromium and opens a
// single page bound to the returned backend.
func NewPlaywright(ctx context.Context, cfg Config) (Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	br, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	bctx, err := br.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		_ = br.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = br.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(cfg.ActionTimeout.Milliseconds()))
	return &playwrightBackend{cfg: cfg, pw: pw, browser: br, bctx: bctx, page: page}, nil
}

func (b *playwrightBackend) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.page == nil || b.page.IsClosed() {
		return ErrNoPage
	}
	return nil
}

func (b *playwrightBackend) Navigate(ctx context.Context, url string) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	_, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(b.cfg.NavTimeout.Milliseconds())),
	})
	return wrapPW(err)
}

func (b *playwrightBackend) Click(ctx context.Context, selector string) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	// First() avoids strict-mode violations when the selector matches more
	// than one node.
	first := b.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(b.cfg.ActionTimeout.Milliseconds())),
	}); err != nil {
		return wrapPW(err)
	}
	if err := first.ScrollIntoViewIfNeeded(); err != nil {
		// Off-screen clicks still often land; keep going.
	}
	return wrapPW(first.Click())
}

func (b *playwrightBackend) Type(ctx context.Context, selector, text string) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	first := b.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(b.cfg.ActionTimeout.Milliseconds())),
	}); err != nil {
		return wrapPW(err)
	}
	// Fill focuses, clears and types in one locator call.
	return wrapPW(first.Fill(text))
}

func (b *playwrightBackend) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := b.guard(ctx); err != nil {
		return nil, err
	}
	data, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
	})
	if err != nil {
		return nil, wrapPW(err)
	}
	return data, nil
}

func (b *playwrightBackend) Content(ctx context.Context) (string, error) {
	if err := b.guard(ctx); err != nil {
		return "", err
	}
	html, err := b.page.Content()
	if err != nil {
		return "", wrapPW(err)
	}
	return html, nil
}

func (b *playwrightBackend) Evaluate(ctx context.Context, script string) (any, error) {
	if err := b.guard(ctx); err != nil {
		return nil, err
	}
	val, err := b.page.Evaluate(script)
	if err != nil {
		return nil, wrapPW(err)
	}
	return val, nil
}

func (b *playwrightBackend) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) (ElementHandle, error) {
	if err := b.guard(ctx); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.ActionTimeout
	}
	first := b.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return nil, wrapPW(err)
	}
	return &playwrightHandle{loc: first}, nil
}

func (b *playwrightBackend) WaitForLoad(ctx context.Context) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	err := b.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(b.cfg.NavTimeout.Milliseconds())),
	})
	if err != nil {
		// Busy pages never go network-idle; settle for the DOM being ready.
		err = b.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateDomcontentloaded,
			Timeout: playwright.Float(2000),
		})
	}
	return wrapPW(err)
}

func (b *playwrightBackend) Close(ctx context.Context) error {
	_ = ctx
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.bctx != nil {
		_ = b.bctx.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
	if b.pw != nil {
		return b.pw.Stop()
	}
	return nil
}

type playwrightHandle struct {
	loc playwright.Locator
}

func (h *playwrightHandle) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := h.loc.InnerText()
	if err != nil {
		return "", wrapPW(err)
	}
	return strings.TrimSpace(text), nil
}

func wrapPW(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
