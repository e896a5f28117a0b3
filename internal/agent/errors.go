package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/webpilot/webpilot/internal/browser"
)

// ErrEmptyInstruction reports a task with nothing to do.
var ErrEmptyInstruction = errors.New("agent: empty instruction")

// ErrKind buckets step failures for logging and recovery decisions.
type ErrKind string

const (
	ErrKindNone            ErrKind = ""
	ErrKindSelectorParse   ErrKind = "selector_parse_error"
	ErrKindTimeout         ErrKind = "timeout"
	ErrKindElementNotFound ErrKind = "element_not_found"
	ErrKindNotInteractable ErrKind = "not_interactable"
	ErrKindStaleElement    ErrKind = "stale_element"
	ErrKindNavigation      ErrKind = "navigation_error"
	ErrKindNetwork         ErrKind = "network_error"
	ErrKindModel           ErrKind = "model_error"
	ErrKindPlanParse       ErrKind = "plan_parse_error"
	ErrKindCancelled       ErrKind = "cancelled"
	ErrKindNoPage          ErrKind = "no_page"
	ErrKindUnknown         ErrKind = "unknown"
)

// Classify buckets an error by marker errors first, then by message, since
// driver errors arrive as flat strings.
func Classify(err error) ErrKind {
	if err == nil {
		return ErrKindNone
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, browser.ErrNoPage):
		return ErrKindNoPage
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "badstring") ||
		strings.Contains(msg, "unsupported token") ||
		strings.Contains(msg, "parsing selector") ||
		strings.Contains(msg, "invalid selector"):
		return ErrKindSelectorParse
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ErrKindTimeout
	case strings.Contains(msg, "not found") || strings.Contains(msg, "not visible") ||
		strings.Contains(msg, "no node found") || strings.Contains(msg, "could not find node"):
		return ErrKindElementNotFound
	case strings.Contains(msg, "not clickable") || strings.Contains(msg, "not interactable") ||
		strings.Contains(msg, "intercepts pointer events"):
		return ErrKindNotInteractable
	case strings.Contains(msg, "stale") || strings.Contains(msg, "detached"):
		return ErrKindStaleElement
	case strings.Contains(msg, "net::") || strings.Contains(msg, "dns") ||
		strings.Contains(msg, "err_name_not_resolved") ||
		strings.Contains(msg, "navigation"):
		return ErrKindNavigation
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return ErrKindNetwork
	case strings.Contains(msg, "max retries exceeded") ||
		strings.Contains(msg, "anthropic") || strings.Contains(msg, "openai") ||
		strings.Contains(msg, "gemini"):
		return ErrKindModel
	case strings.Contains(msg, "json") || strings.Contains(msg, "unmarshal"):
		return ErrKindPlanParse
	default:
		return ErrKindUnknown
	}
}

// Fatal reports error kinds that end the task immediately; no refinement or
// adaptation can recover a missing page or a cancelled context.
func (k ErrKind) Fatal() bool {
	return k == ErrKindNoPage || k == ErrKindCancelled
}

// Recoverable reports whether later steps are still worth running after a
// failure of this kind; the engine continues past recoverable failures.
// Navigation failures are not recoverable: the rest of the plan assumes the
// destination page.
func (k ErrKind) Recoverable() bool {
	return !k.Fatal() && k != ErrKindNavigation
}
