package agent

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/webpilot/webpilot/internal/snapshot"
)

const defaultHistoryWindow = 5

// StepContext is the view refinement sees before a step runs: everything
// recorded so far plus where the loop currently stands. Recomputed on
// demand, never stored.
type StepContext struct {
	PreviousSteps       []StepExecutionResult
	CurrentIndex        int
	TotalSteps          int
	SessionStart        time.Time
	SuccessfulSelectors []string
	FormElements        map[string]string
	PageHistory         []snapshot.PageState
}

// StepDigest is one line of a ContextSummary.
type StepDigest struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Selector string `json:"selector,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// ContextSummary is a serializable digest of the session so far.
type ContextSummary struct {
	RecentSteps         []StepDigest      `json:"recentSteps"`
	SuccessfulSelectors []string          `json:"successfulSelectors"`
	FormElements        map[string]string `json:"formElements"`
	StepsExecuted       int               `json:"stepsExecuted"`
	SuccessRate         float64           `json:"successRate"`
	SessionDurationMs   int64             `json:"sessionDurationMs"`
}

// ContextManager accumulates step results over a task so refinement and
// adaptation can learn from what already happened on this page. The engine
// writes sequentially; observers may read concurrently.
type ContextManager struct {
	mu       sync.RWMutex
	results  []StepExecutionResult
	order    []string
	purposes map[string]string
	forms    map[string]string
	started  time.Time
}

func NewContextManager() *ContextManager {
	return &ContextManager{
		purposes: make(map[string]string),
		forms:    make(map[string]string),
		started:  time.Now(),
	}
}

// AddResult records one executed step. Successful selector usage feeds the
// selector memory keyed by what the step was trying to do; form-control
// selectors land in the form-element map whether the step worked or not.
func (m *ContextManager) AddResult(r StepExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)

	sel := r.SelectorUsed
	if sel == "" {
		return
	}
	if formLike(sel) && m.forms[sel] == "" {
		m.forms[sel] = stepPurpose(r.Step)
	}
	if r.Success {
		if _, seen := m.purposes[sel]; !seen {
			m.order = append(m.order, sel)
		}
		m.purposes[sel] = stepPurpose(r.Step)
	}
}

func stepPurpose(s ActionStep) string {
	if s.Description != "" {
		return s.Description
	}
	if s.Target != nil && s.Target.Description != "" {
		return s.Target.Description
	}
	return string(s.Type)
}

// formLike reports whether a selector targets a form control. The marker
// set mirrors what refinement knows how to rewrite.
func formLike(sel string) bool {
	sel = strings.ToLower(sel)
	for _, marker := range []string{"input", "textarea", "select", "button", "form"} {
		if strings.Contains(sel, marker) {
			return true
		}
	}
	return false
}

// Recent returns a copy of the last n results, oldest first.
func (m *ContextManager) Recent(n int) []StepExecutionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		n = defaultHistoryWindow
	}
	start := 0
	if len(m.results) > n {
		start = len(m.results) - n
	}
	out := make([]StepExecutionResult, len(m.results)-start)
	copy(out, m.results[start:])
	return out
}

// LastResult returns the most recent recorded result, if any.
func (m *ContextManager) LastResult() (StepExecutionResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.results) == 0 {
		return StepExecutionResult{}, false
	}
	return m.results[len(m.results)-1], true
}

// SuccessfulSelectors returns the distinct selectors used by successful
// steps, in first-use order.
func (m *ContextManager) SuccessfulSelectors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// SelectorPurposes returns a copy of the selectors that worked, mapped to
// what they were used for.
func (m *ContextManager) SelectorPurposes() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.purposes)
}

// FormElements returns the form controls seen so far, selector to purpose.
func (m *ContextManager) FormElements() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.forms)
}

// Context assembles the refinement view for the step at index of total.
func (m *ContextManager) Context(index, total int) StepContext {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := make([]StepExecutionResult, len(m.results))
	copy(steps, m.results)
	pages := make([]snapshot.PageState, 0, len(m.results))
	for _, r := range m.results {
		if !r.PageStateAfter.Empty() {
			pages = append(pages, r.PageStateAfter)
		}
	}
	return StepContext{
		PreviousSteps:       steps,
		CurrentIndex:        index,
		TotalSteps:          total,
		SessionStart:        m.started,
		SuccessfulSelectors: slices.Clone(m.order),
		FormElements:        maps.Clone(m.forms),
		PageHistory:         pages,
	}
}

// ExportSummary renders the serializable digest: the recent window, what
// worked, and how the session is going.
func (m *ContextManager) ExportSummary() ContextSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if len(m.results) > defaultHistoryWindow {
		start = len(m.results) - defaultHistoryWindow
	}
	recent := make([]StepDigest, 0, len(m.results)-start)
	for _, r := range m.results[start:] {
		d := StepDigest{
			Index:    r.Index,
			Type:     string(r.Step.Type),
			Selector: r.SelectorUsed,
			Success:  r.Success,
		}
		if r.Err != nil {
			d.Error = r.Err.Error()
		}
		recent = append(recent, d)
	}

	succeeded := 0
	for _, r := range m.results {
		if r.Success {
			succeeded++
		}
	}
	rate := 0.0
	if len(m.results) > 0 {
		rate = float64(succeeded) / float64(len(m.results))
	}
	return ContextSummary{
		RecentSteps:         recent,
		SuccessfulSelectors: slices.Clone(m.order),
		FormElements:        maps.Clone(m.forms),
		StepsExecuted:       len(m.results),
		SuccessRate:         rate,
		SessionDurationMs:   time.Since(m.started).Milliseconds(),
	}
}

// Len reports how many results were recorded.
func (m *ContextManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// FailureCount reports how many recorded steps failed.
func (m *ContextManager) FailureCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.results {
		if !r.Success {
			count++
		}
	}
	return count
}

// Reset clears all accumulated state for a fresh task.
func (m *ContextManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = nil
	m.order = nil
	m.purposes = make(map[string]string)
	m.forms = make(map[string]string)
	m.started = time.Now()
}

// PromptSummary renders the recent window as compact lines for model
// prompts.
func (m *ContextManager) PromptSummary(n int) string {
	return renderSteps(m.Recent(n))
}

func renderSteps(results []StepExecutionResult) string {
	if len(results) == 0 {
		return "no steps executed yet"
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%d] %s", r.Index+1, r.Step.Type)
		if sel := r.SelectorUsed; sel != "" {
			fmt.Fprintf(&b, " %s", sel)
		} else if sel := r.Step.Selector(); sel != "" {
			fmt.Fprintf(&b, " %s", sel)
		}
		if r.ValueEntered != "" {
			fmt.Fprintf(&b, " value=%q", r.ValueEntered)
		}
		if r.Success {
			b.WriteString(" -> ok")
		} else if r.Err != nil {
			fmt.Fprintf(&b, " -> error: %s (%s)", r.Err.Error(), r.ErrKind)
		} else {
			b.WriteString(" -> failed")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
