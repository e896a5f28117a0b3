package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/internal/llm"
	"github.com/webpilot/webpilot/internal/snapshot"
)

// StepAnalyzer improves a step before execution using what the task has
// learned so far. Implementations return the possibly-rewritten step,
// whether they changed anything, and an error only when the attempt itself
// broke; a failed improvement is not an error.
type StepAnalyzer interface {
	ImproveStep(ctx context.Context, step ActionStep, sctx StepContext, page snapshot.PageState) (ActionStep, bool, error)
}

// vocabEntry binds description keywords to the form-control selector they
// usually mean. Every keyword must appear; marker gates the rewrite on the
// control actually existing in the page HTML.
type vocabEntry struct {
	keywords []string
	selector string
	marker   string
}

var selectorVocabulary = []vocabEntry{
	{[]string{"email"}, "input[name='custemail']", "custemail"},
	{[]string{"phone"}, "input[name='custtel']", "custtel"},
	{[]string{"telephone"}, "input[name='custtel']", "custtel"},
	{[]string{"customer", "name"}, "input[name='custname']", "custname"},
	{[]string{"delivery", "time"}, "input[name='delivery']", "delivery"},
	{[]string{"comment"}, "textarea[name='comments']", "comments"},
	{[]string{"instruction"}, "textarea[name='comments']", "comments"},
	{[]string{"size", "small"}, "input[value='small']", "small"},
	{[]string{"size", "medium"}, "input[value='medium']", "medium"},
	{[]string{"size", "large"}, "input[value='large']", "large"},
	{[]string{"topping", "bacon"}, "input[value='bacon']", "bacon"},
	{[]string{"topping", "cheese"}, "input[value='cheese']", "cheese"},
	{[]string{"topping", "onion"}, "input[value='onion']", "onion"},
	{[]string{"topping", "mushroom"}, "input[value='mushroom']", "mushroom"},
	{[]string{"password"}, "input[type='password']", "password"},
	{[]string{"search"}, "input[type='search']", "search"},
	{[]string{"submit"}, "button[type='submit']", "submit"},
}

// HeuristicAnalyzer reuses the shape of the last successful step: when that
// step worked on a form control and the current step targets a different
// control whose description matches the vocabulary, the selector is
// rewritten without any model call. It is pure: same inputs, same answer,
// no side effects.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) ImproveStep(_ context.Context, step ActionStep, sctx StepContext, page snapshot.PageState) (ActionStep, bool, error) {
	switch step.Type {
	case StepClick, StepType_, StepFill, StepExtract:
	default:
		return step, false, nil
	}
	if len(sctx.PreviousSteps) == 0 {
		return step, false, nil
	}
	prev := sctx.PreviousSteps[len(sctx.PreviousSteps)-1]
	if !prev.Success {
		return step, false, nil
	}
	prevSel := prev.SelectorUsed
	if prevSel == "" {
		prevSel = prev.Step.Selector()
	}
	cur := step.Selector()
	if !formLike(prevSel) || !formLike(cur) || cur == prevSel {
		return step, false, nil
	}
	desc := stepDescription(step)
	if desc == "" {
		return step, false, nil
	}
	content := strings.ToLower(page.Content)
	for _, entry := range selectorVocabulary {
		if !matchAll(desc, entry.keywords) {
			continue
		}
		if entry.selector == cur {
			return step, false, nil
		}
		if content != "" && !strings.Contains(content, entry.marker) {
			continue
		}
		return step.WithSelector(entry.selector), true, nil
	}
	return step, false, nil
}

func stepDescription(step ActionStep) string {
	parts := make([]string, 0, 2)
	if step.Description != "" {
		parts = append(parts, step.Description)
	}
	if step.Target != nil && step.Target.Description != "" {
		parts = append(parts, step.Target.Description)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func matchAll(desc string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(desc, kw) {
			return false
		}
	}
	return true
}

const analyzerSystemPrompt = `You repair selectors for browser automation steps.
CRITICAL RULES:
1. Respond with a SINGLE JSON object and NOTHING else: {"selector":"...","value":"..."}
2. The selector must be a CSS selector that exists in the provided HTML.
3. Leave "value" empty to keep the step's value unchanged.
4. If the current selector already looks right, return it unchanged.`

const analyzerHTMLLimit = 4000

// ContextualAnalyzer asks the model for a better selector using the task's
// accumulated context: which selectors worked, what ran recently, and the
// current page HTML.
type ContextualAnalyzer struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewContextualAnalyzer(client llm.Client, logger zerolog.Logger) *ContextualAnalyzer {
	return &ContextualAnalyzer{
		llm:    client,
		logger: logger.With().Str("comp", "analyzer").Logger(),
	}
}

func (a *ContextualAnalyzer) ImproveStep(ctx context.Context, step ActionStep, sctx StepContext, page snapshot.PageState) (ActionStep, bool, error) {
	stepJSON, err := json.Marshal(step)
	if err != nil {
		return step, false, fmt.Errorf("marshal step: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "STEP %d OF %d:\n%s\n", sctx.CurrentIndex+1, sctx.TotalSteps, stepJSON)
	fmt.Fprintf(&b, "CURRENT SELECTOR: %s\n", orNone(step.Selector()))
	if len(sctx.SuccessfulSelectors) > 0 {
		b.WriteString("SELECTORS THAT WORKED ON THIS PAGE:\n")
		for _, sel := range sctx.SuccessfulSelectors {
			if purpose := sctx.FormElements[sel]; purpose != "" {
				fmt.Fprintf(&b, "  %s (%s)\n", sel, purpose)
			} else {
				fmt.Fprintf(&b, "  %s\n", sel)
			}
		}
	}
	recent := sctx.PreviousSteps
	if len(recent) > defaultHistoryWindow {
		recent = recent[len(recent)-defaultHistoryWindow:]
	}
	fmt.Fprintf(&b, "RECENT STEPS:\n%s\n", renderSteps(recent))
	fmt.Fprintf(&b, "PAGE URL: %s\n", page.URL)
	fmt.Fprintf(&b, "PAGE HTML (truncated):\n%s\n", page.Excerpt(analyzerHTMLLimit))
	b.WriteString("\nOUTPUT FORMAT (strict JSON only, no text outside): {\"selector\":\"...\",\"value\":\"\"}\n")

	resp, err := a.llm.GenerateText(ctx, llm.Request{
		System:      analyzerSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.0,
		MaxTokens:   300,
	})
	if err != nil {
		return step, false, fmt.Errorf("analyzer model call: %w", err)
	}

	raw, err := extractJSON(resp.Content)
	if err != nil {
		a.logger.Debug().Str("raw", clip(resp.Content, 200)).Msg("analyzer returned no JSON")
		return step, false, nil
	}
	var parsed struct {
		Selector string `json:"selector"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		a.logger.Debug().Err(err).Msg("analyzer JSON parse failed")
		return step, false, nil
	}

	selector := strings.TrimSpace(parsed.Selector)
	changed := false
	improved := step
	if selector != "" && selector != step.Selector() {
		improved = improved.WithSelector(selector)
		changed = true
	}
	if value := strings.TrimSpace(parsed.Value); value != "" && value != step.Value {
		improved = improved.WithValue(value)
		changed = true
	}
	if changed {
		a.logger.Debug().
			Str("from", step.Selector()).
			Str("to", improved.Selector()).
			Msg("step improved with context")
	}
	return improved, changed, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

var (
	_ StepAnalyzer = HeuristicAnalyzer{}
	_ StepAnalyzer = (*ContextualAnalyzer)(nil)
)
