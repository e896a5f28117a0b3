package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot/webpilot/internal/browser"
)

// stubBackend serves canned values for the three calls a capture makes.
type stubBackend struct {
	meta       any
	metaErr    error
	content    string
	contentErr error
	shot       []byte
	shotErr    error
	shotOpts   browser.ScreenshotOptions
	shotCalls  int
	mutations  int
}

func (s *stubBackend) Navigate(context.Context, string) error     { s.mutations++; return nil }
func (s *stubBackend) Click(context.Context, string) error        { s.mutations++; return nil }
func (s *stubBackend) Type(context.Context, string, string) error { s.mutations++; return nil }
func (s *stubBackend) WaitForLoad(context.Context) error          { return nil }
func (s *stubBackend) Close(context.Context) error                { return nil }

func (s *stubBackend) Screenshot(_ context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	s.shotCalls++
	s.shotOpts = opts
	return s.shot, s.shotErr
}

func (s *stubBackend) Content(context.Context) (string, error) {
	return s.content, s.contentErr
}

func (s *stubBackend) Evaluate(context.Context, string) (any, error) {
	return s.meta, s.metaErr
}

func (s *stubBackend) WaitForSelector(context.Context, string, browser.WaitOptions) (browser.ElementHandle, error) {
	return nil, browser.ErrNoPage
}

func goodMeta() map[string]any {
	return map[string]any{
		"url":    "https://httpbin.org/forms/post",
		"title":  "Order form",
		"width":  1280.0,
		"height": 800.0,
	}
}

func TestCaptureFullState(t *testing.T) {
	b := &stubBackend{
		meta:    goodMeta(),
		content: "<html><body>form</body></html>",
		shot:    []byte{1, 2, 3},
	}

	state, err := Capture(context.Background(), b, Options{IncludeScreenshot: true, FullPage: true})
	require.NoError(t, err)

	assert.Equal(t, "https://httpbin.org/forms/post", state.URL)
	assert.Equal(t, "Order form", state.Title)
	assert.Equal(t, Viewport{Width: 1280, Height: 800}, state.Viewport)
	assert.Equal(t, "<html><body>form</body></html>", state.Content)
	assert.Equal(t, []byte{1, 2, 3}, state.Screenshot)
	assert.False(t, state.Timestamp.IsZero())
	assert.True(t, b.shotOpts.FullPage)
	assert.False(t, state.Empty())
}

func TestCaptureSkipsScreenshotByDefault(t *testing.T) {
	b := &stubBackend{meta: goodMeta(), shot: []byte{1}}

	state, err := Capture(context.Background(), b, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, b.shotCalls)
	assert.Nil(t, state.Screenshot)
}

func TestCaptureRepeatedIsStable(t *testing.T) {
	b := &stubBackend{meta: goodMeta(), content: "<form>order</form>"}

	first, err := Capture(context.Background(), b, Options{})
	require.NoError(t, err)
	second, err := Capture(context.Background(), b, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 0, b.mutations, "capturing must not drive the page")
}

func TestCaptureClipsContent(t *testing.T) {
	b := &stubBackend{meta: goodMeta(), content: strings.Repeat("x", 100)}

	state, err := Capture(context.Background(), b, Options{ContentLimit: 10})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10), state.Content)
}

func TestCaptureDegradesOnPartialFailure(t *testing.T) {
	t.Run("meta failure keeps content", func(t *testing.T) {
		b := &stubBackend{metaErr: errors.New("execution context destroyed"), content: "body"}

		state, err := Capture(context.Background(), b, Options{})
		require.NoError(t, err)
		assert.Empty(t, state.URL)
		assert.Equal(t, "body", state.Content)
	})

	t.Run("content failure keeps meta", func(t *testing.T) {
		b := &stubBackend{meta: goodMeta(), contentErr: errors.New("frame navigated")}

		state, err := Capture(context.Background(), b, Options{})
		require.NoError(t, err)
		assert.Equal(t, "Order form", state.Title)
		assert.Empty(t, state.Content)
	})

	t.Run("screenshot failure keeps the rest", func(t *testing.T) {
		b := &stubBackend{meta: goodMeta(), content: "body", shotErr: errors.New("render glitch")}

		state, err := Capture(context.Background(), b, Options{IncludeScreenshot: true})
		require.NoError(t, err)
		assert.Equal(t, "body", state.Content)
		assert.Nil(t, state.Screenshot)
	})

	t.Run("undecodable meta is ignored", func(t *testing.T) {
		b := &stubBackend{meta: "not an object", content: "body"}

		state, err := Capture(context.Background(), b, Options{})
		require.NoError(t, err)
		assert.Empty(t, state.URL)
		assert.Equal(t, "body", state.Content)
	})
}

func TestCaptureFatalErrors(t *testing.T) {
	t.Run("no page aborts", func(t *testing.T) {
		b := &stubBackend{metaErr: browser.ErrNoPage}

		_, err := Capture(context.Background(), b, Options{})
		assert.ErrorIs(t, err, browser.ErrNoPage)
	})

	t.Run("cancelled context aborts even on other errors", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		b := &stubBackend{metaErr: errors.New("anything")}

		_, err := Capture(ctx, b, Options{})
		require.Error(t, err)
	})

	t.Run("wrapped deadline aborts", func(t *testing.T) {
		b := &stubBackend{meta: goodMeta(), contentErr: context.DeadlineExceeded}

		_, err := Capture(context.Background(), b, Options{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPageStateExcerpt(t *testing.T) {
	s := PageState{Content: "  <html>page</html>  "}
	assert.Equal(t, "<html>page</html>", s.Excerpt(0), "zero limit keeps everything")
	assert.Equal(t, "<html>", s.Excerpt(6))
}

func TestPageStateEmpty(t *testing.T) {
	assert.True(t, PageState{Timestamp: time.Now()}.Empty())
	assert.False(t, PageState{URL: "https://example.com"}.Empty())
	assert.False(t, PageState{Screenshot: []byte{1}}.Empty())
}

func TestPageStateString(t *testing.T) {
	s := PageState{
		URL:      "https://example.com",
		Title:    "Example",
		Content:  "<html/>",
		Viewport: Viewport{Width: 800, Height: 600},
	}
	out := s.String()
	assert.Contains(t, out, "URL: https://example.com")
	assert.Contains(t, out, "TITLE: Example")
	assert.Contains(t, out, "VIEWPORT: 800x600")
	assert.Contains(t, out, "CONTENT: <html/>")
}

func TestWithDeadline(t *testing.T) {
	t.Run("positive duration sets a deadline", func(t *testing.T) {
		ctx, cancel := WithDeadline(context.Background(), time.Minute)
		defer cancel()
		_, ok := ctx.Deadline()
		assert.True(t, ok)
	})

	t.Run("zero duration passes through", func(t *testing.T) {
		parent := context.Background()
		ctx, cancel := WithDeadline(parent, 0)
		cancel()
		assert.NoError(t, ctx.Err(), "the no-op cancel must not cancel the parent")
		_, ok := ctx.Deadline()
		assert.False(t, ok)
	})
}
