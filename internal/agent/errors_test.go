package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webpilot/webpilot/internal/browser"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrKind
	}{
		{"nil", nil, ErrKindNone},
		{"cancelled", context.Canceled, ErrKindCancelled},
		{"wrapped cancelled", fmt.Errorf("navigate: %w", context.Canceled), ErrKindCancelled},
		{"deadline", context.DeadlineExceeded, ErrKindTimeout},
		{"no page", fmt.Errorf("playwright: %w", browser.ErrNoPage), ErrKindNoPage},
		{"selector parse", errors.New("playwright: parsing selector \"div[\" failed"), ErrKindSelectorParse},
		{"bad string", errors.New("BadString in css selector"), ErrKindSelectorParse},
		{"unsupported token", errors.New("unsupported token \"%\" in selector"), ErrKindSelectorParse},
		{"timeout message", errors.New("waiting for selector \"#a\" timed out"), ErrKindTimeout},
		{"timeout word", errors.New("chromedp: timeout after 10s"), ErrKindTimeout},
		{"not found", errors.New("element not found: #missing"), ErrKindElementNotFound},
		{"not visible", errors.New("element is not visible"), ErrKindElementNotFound},
		{"no node", errors.New("could not find node with given id"), ErrKindElementNotFound},
		{"not clickable", errors.New("element is not clickable at point (10, 20)"), ErrKindNotInteractable},
		{"intercepted", errors.New("other element intercepts pointer events"), ErrKindNotInteractable},
		{"stale", errors.New("stale element reference"), ErrKindStaleElement},
		{"detached", errors.New("element is detached from document"), ErrKindStaleElement},
		{"dns", errors.New("net::ERR_NAME_NOT_RESOLVED"), ErrKindNavigation},
		{"navigation", errors.New("navigation failed"), ErrKindNavigation},
		{"connection", errors.New("connection refused"), ErrKindNetwork},
		{"model retries", errors.New("max retries exceeded"), ErrKindModel},
		{"anthropic", errors.New("anthropic request failed with status 500"), ErrKindModel},
		{"gemini", errors.New("gemini: empty response"), ErrKindModel},
		{"plan parse", errors.New("plan json parse: unexpected end of input"), ErrKindPlanParse},
		{"unknown", errors.New("completely mysterious failure"), ErrKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyMarkerBeatsMessage(t *testing.T) {
	// A wrapped context error wins over whatever text surrounds it.
	err := fmt.Errorf("timeout waiting for page: %w", context.Canceled)
	assert.Equal(t, ErrKindCancelled, Classify(err))
}

func TestErrKindFatal(t *testing.T) {
	assert.True(t, ErrKindNoPage.Fatal())
	assert.True(t, ErrKindCancelled.Fatal())
	assert.False(t, ErrKindTimeout.Fatal())
	assert.False(t, ErrKindElementNotFound.Fatal())
	assert.False(t, ErrKindUnknown.Fatal())
}

func TestErrKindRecoverable(t *testing.T) {
	recoverable := []ErrKind{
		ErrKindSelectorParse,
		ErrKindTimeout,
		ErrKindElementNotFound,
		ErrKindNotInteractable,
		ErrKindStaleElement,
		ErrKindNetwork,
		ErrKindModel,
		ErrKindPlanParse,
		ErrKindUnknown,
	}
	for _, k := range recoverable {
		assert.True(t, k.Recoverable(), "%s should be recoverable", k)
	}
	assert.False(t, ErrKindNavigation.Recoverable(), "later steps assume the destination page")
	assert.False(t, ErrKindNoPage.Recoverable())
	assert.False(t, ErrKindCancelled.Recoverable())
}
