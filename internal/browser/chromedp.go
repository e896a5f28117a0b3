package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// chromedpBackend drives Chrome over the DevTools protocol. It exists so the
// engine can run against a plain Chrome binary when the Playwright driver is
// not installed.
type chromedpBackend struct {
	cfg         Config
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewChromedp launches Chrome through an exec allocator and opens one tab.
func NewChromedp(ctx context.Context, cfg Config) (Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The browser process only starts on the first Run.
	boot, cancel := context.WithTimeout(tabCtx, cfg.NavTimeout)
	defer cancel()
	err := chromedp.Run(boot,
		emulation.SetDeviceMetricsOverride(1280, 800, 1.0, false),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	return &chromedpBackend{
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

func (b *chromedpBackend) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.tabCtx == nil || b.tabCtx.Err() != nil {
		return ErrNoPage
	}
	return nil
}

// run executes tasks in the tab, bounded by both the caller's context and the
// given timeout.
func (b *chromedpBackend) run(ctx context.Context, timeout time.Duration, tasks ...chromedp.Action) error {
	bounded, cancel := context.WithTimeout(b.tabCtx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(bounded, tasks...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (b *chromedpBackend) Navigate(ctx context.Context, url string) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	return wrapCDP(b.run(ctx, b.cfg.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	))
}

func (b *chromedpBackend) Click(ctx context.Context, selector string) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	return wrapCDP(b.run(ctx, b.cfg.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	))
}

func (b *chromedpBackend) Type(ctx context.Context, selector, text string) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	return wrapCDP(b.run(ctx, b.cfg.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	))
}

func (b *chromedpBackend) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := b.guard(ctx); err != nil {
		return nil, err
	}
	var buf []byte
	var task chromedp.Action
	if opts.FullPage {
		task = chromedp.FullScreenshot(&buf, 90)
	} else {
		task = chromedp.CaptureScreenshot(&buf)
	}
	if err := b.run(ctx, b.cfg.ActionTimeout, task); err != nil {
		return nil, wrapCDP(err)
	}
	return buf, nil
}

func (b *chromedpBackend) Content(ctx context.Context) (string, error) {
	if err := b.guard(ctx); err != nil {
		return "", err
	}
	var html string
	err := b.run(ctx, b.cfg.ActionTimeout,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", wrapCDP(err)
	}
	return html, nil
}

func (b *chromedpBackend) Evaluate(ctx context.Context, script string) (any, error) {
	if err := b.guard(ctx); err != nil {
		return nil, err
	}
	var out any
	err := b.run(ctx, b.cfg.ActionTimeout, chromedp.Evaluate(script, &out))
	if err != nil {
		return nil, wrapCDP(err)
	}
	return out, nil
}

func (b *chromedpBackend) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) (ElementHandle, error) {
	if err := b.guard(ctx); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.ActionTimeout
	}
	err := b.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		return nil, wrapCDP(err)
	}
	return &chromedpHandle{backend: b, selector: selector}, nil
}

func (b *chromedpBackend) WaitForLoad(ctx context.Context) error {
	if err := b.guard(ctx); err != nil {
		return err
	}
	return wrapCDP(b.run(ctx, b.cfg.NavTimeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
	))
}

func (b *chromedpBackend) Close(ctx context.Context) error {
	_ = ctx
	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

type chromedpHandle struct {
	backend  *chromedpBackend
	selector string
}

func (h *chromedpHandle) Text(ctx context.Context) (string, error) {
	if err := h.backend.guard(ctx); err != nil {
		return "", err
	}
	var out string
	err := h.backend.run(ctx, h.backend.cfg.ActionTimeout,
		chromedp.Text(h.selector, &out, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return "", wrapCDP(err)
	}
	return strings.TrimSpace(out), nil
}

func wrapCDP(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("chromedp: %w", err)
}
