package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNoPage reports that the backend has no page to act on. The engine
// treats it as a fatal precondition, unlike ordinary action failures.
var ErrNoPage = errors.New("browser: no active page")

// Backend exposes the browser operations the engine drives. The engine never
// depends on which automation library backs it; implementations are selected
// at construction (see FromEnv).
type Backend interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (any, error)
	WaitForSelector(ctx context.Context, selector string, opts WaitOptions) (ElementHandle, error)
	WaitForLoad(ctx context.Context) error
	Close(ctx context.Context) error
}

// ElementHandle is the minimal handle a successful selector wait yields.
type ElementHandle interface {
	Text(ctx context.Context) (string, error)
}

type ScreenshotOptions struct {
	FullPage bool
}

type WaitOptions struct {
	// Timeout bounds the wait; implementations substitute their own
	// default when zero.
	Timeout time.Duration
}
