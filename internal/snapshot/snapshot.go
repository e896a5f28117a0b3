package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/webpilot/webpilot/internal/browser"
)

// Viewport is the visible page area in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PageState is a point-in-time snapshot of the page. Once captured it is
// read-only: refinement and adaptation consume snapshots, they never write
// them back.
type PageState struct {
	URL        string
	Title      string
	Content    string
	Screenshot []byte
	Timestamp  time.Time
	Viewport   Viewport
}

// Options controls what a capture collects beyond URL and title.
type Options struct {
	IncludeScreenshot bool
	FullPage          bool
	// ContentLimit caps the stored HTML; zero keeps it whole.
	ContentLimit int
}

const metaScript = `(() => ({
	url: window.location.href,
	title: document.title,
	width: Math.max(window.innerWidth || 0, document.documentElement.clientWidth || 0),
	height: Math.max(window.innerHeight || 0, document.documentElement.clientHeight || 0)
}))()`

type pageMeta struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Capture collects the current page state. Partial failures degrade to empty
// fields rather than failing the capture; only cancellation and a missing
// page surface as errors.
func Capture(ctx context.Context, b browser.Backend, opts Options) (PageState, error) {
	state := PageState{Timestamp: time.Now()}

	val, err := b.Evaluate(ctx, metaScript)
	if err != nil {
		if fatal(ctx, err) {
			return PageState{}, err
		}
	} else if meta, merr := decodeMeta(val); merr == nil {
		state.URL = meta.URL
		state.Title = meta.Title
		state.Viewport = Viewport{Width: meta.Width, Height: meta.Height}
	}

	content, err := b.Content(ctx)
	if err != nil {
		if fatal(ctx, err) {
			return PageState{}, err
		}
	} else {
		if opts.ContentLimit > 0 && len(content) > opts.ContentLimit {
			content = content[:opts.ContentLimit]
		}
		state.Content = content
	}

	if opts.IncludeScreenshot {
		shot, err := b.Screenshot(ctx, browser.ScreenshotOptions{FullPage: opts.FullPage})
		if err != nil {
			if fatal(ctx, err) {
				return PageState{}, err
			}
		} else {
			state.Screenshot = shot
		}
	}

	return state, nil
}

// fatal separates failures worth aborting the capture for from ones the
// snapshot can absorb as missing fields.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, browser.ErrNoPage) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func decodeMeta(val any) (pageMeta, error) {
	raw, err := json.Marshal(val)
	if err != nil {
		return pageMeta{}, err
	}
	var meta pageMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return pageMeta{}, err
	}
	return meta, nil
}

// Excerpt returns up to limit bytes of the page HTML for prompt building.
func (s PageState) Excerpt(limit int) string {
	content := strings.TrimSpace(s.Content)
	if limit > 0 && len(content) > limit {
		return content[:limit]
	}
	return content
}

// Empty reports whether the capture produced nothing usable.
func (s PageState) Empty() bool {
	return s.URL == "" && s.Title == "" && s.Content == "" && len(s.Screenshot) == 0
}

func (s PageState) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\nVIEWPORT: %dx%d\n", s.URL, s.Title, s.Viewport.Width, s.Viewport.Height)
	if s.Content != "" {
		fmt.Fprintf(&b, "CONTENT: %s\n", s.Excerpt(1200))
	}
	return b.String()
}

// WithDeadline shortens context to avoid long capture waits.
func WithDeadline(ctx context.Context, dur time.Duration) (context.Context, context.CancelFunc) {
	if dur <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dur)
}
