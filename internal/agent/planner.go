package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/internal/llm"
	"github.com/webpilot/webpilot/internal/snapshot"
)

const plannerSystemPrompt = `You are a browser automation planner.
CRITICAL RULES:
1. Respond with a SINGLE JSON object and NOTHING else: {"steps":[...],"expectedOutcome":"..."}
2. Every step: {"type":"...","target":{"selector":"...","description":"..."},"value":"...","waitCondition":"...","description":"..."}. A non-empty "description" is required on every step.
3. Allowed types: navigate, click, type, fill, scroll, wait, extract, screenshot.
4. navigate puts the full URL in "value". type and fill put the text in "value" and the field in "target.selector".
5. Prefer stable CSS selectors: input[name='...'], button[type='submit'], #id.
6. wait uses "waitCondition" for a selector or "load"/"networkidle", or a millisecond count in "value".
7. Keep plans short: only the steps the instruction needs.`

const (
	maxPlanSteps     = 25
	maxAdaptedSteps  = 12
	plannerHTMLLimit = 4000
)

// Planner turns instructions into plans and repairs them when execution
// diverges from the page.
type Planner interface {
	Plan(ctx context.Context, instruction string, page snapshot.PageState) (ActionPlan, error)
	// Adapt replaces the unexecuted steps after failedIdx with a fresh tail
	// for the current page. It reports whether the plan changed and never
	// fails; an unusable model response keeps the original tail.
	Adapt(ctx context.Context, plan ActionPlan, failedIdx int, failure StepExecutionResult, page snapshot.PageState) (ActionPlan, bool)
	RefineStep(ctx context.Context, step ActionStep, page snapshot.PageState) (ActionStep, bool, error)
}

type llmPlanner struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewPlanner(client llm.Client, logger zerolog.Logger) Planner {
	return &llmPlanner{
		llm:    client,
		logger: logger.With().Str("comp", "planner").Logger(),
	}
}

func (p *llmPlanner) Plan(ctx context.Context, instruction string, page snapshot.PageState) (ActionPlan, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return ActionPlan{}, ErrEmptyInstruction
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSTRUCTION:\n%s\n\n", instruction)
	writePageContext(&b, page)
	b.WriteString("\nOUTPUT FORMAT (strict JSON only, no text outside): " +
		`{"steps":[{"type":"navigate","value":"https://example.com","description":"open example.com"}],"expectedOutcome":"..."}` + "\n")

	resp, err := p.llm.GenerateText(ctx, llm.Request{
		System:      plannerSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.0,
		MaxTokens:   1200,
	})
	if err != nil {
		return ActionPlan{}, fmt.Errorf("planner model call: %w", err)
	}

	steps, outcome, err := parsePlanResponse(resp.Content)
	if err != nil {
		return ActionPlan{}, fmt.Errorf("%w: raw=%q", err, clip(resp.Content, 300))
	}
	if len(steps) > maxPlanSteps {
		return ActionPlan{}, fmt.Errorf("plan too long: %d steps (max %d)", len(steps), maxPlanSteps)
	}

	plan := ActionPlan{
		Steps: steps,
		Context: TaskContext{
			Instruction: instruction,
			URL:         page.URL,
			PageTitle:   page.Title,
			TotalSteps:  len(steps),
			CreatedAt:   time.Now(),
		},
		ExpectedOutcome: outcome,
	}
	if err := plan.Validate(); err != nil {
		return ActionPlan{}, fmt.Errorf("invalid plan: %w", err)
	}
	p.logger.Debug().Int("steps", len(plan.Steps)).Msg("plan created")
	return plan, nil
}

// Adapt asks the model for replacement steps for everything after the
// failed one and splices them in, leaving the executed prefix and the
// failed step untouched. An unusable response keeps the original tail.
func (p *llmPlanner) Adapt(ctx context.Context, plan ActionPlan, failedIdx int, failure StepExecutionResult, page snapshot.PageState) (ActionPlan, bool) {
	tail, err := p.adaptTail(ctx, plan, failedIdx, failure, page)
	if err != nil {
		p.logger.Warn().Err(err).Int("failed_index", failedIdx).Msg("adaptation unusable, keeping original tail")
		return plan, false
	}
	adapted := plan.SpliceTail(failedIdx+1, tail)
	if err := adapted.Validate(); err != nil {
		p.logger.Warn().Err(err).Int("failed_index", failedIdx).Msg("adapted plan invalid, keeping original tail")
		return plan, false
	}
	p.logger.Debug().
		Int("failed_index", failedIdx).
		Int("tail_steps", len(tail)).
		Msg("plan tail adapted")
	return adapted, true
}

func (p *llmPlanner) adaptTail(ctx context.Context, plan ActionPlan, failedIdx int, failure StepExecutionResult, page snapshot.PageState) ([]ActionStep, error) {
	if failedIdx < 0 || failedIdx >= len(plan.Steps) {
		return nil, fmt.Errorf("failed index %d out of range", failedIdx)
	}
	failedJSON, err := json.Marshal(plan.Steps[failedIdx])
	if err != nil {
		return nil, fmt.Errorf("marshal failed step: %w", err)
	}
	remainingJSON := []byte("[]")
	if remaining := plan.Remaining(failedIdx + 1); len(remaining) > 0 {
		remainingJSON, err = json.Marshal(remaining)
		if err != nil {
			return nil, fmt.Errorf("marshal remaining steps: %w", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of a plan failed; it and the steps before it already ran and must not be repeated.\n", failedIdx+1)
	b.WriteString("Produce replacement steps for the UNEXECUTED steps only, working around the failure.\n\n")
	fmt.Fprintf(&b, "INSTRUCTION:\n%s\n\n", plan.Context.Instruction)
	if len(plan.Context.Variables) > 0 {
		keys := make([]string, 0, len(plan.Context.Variables))
		for k := range plan.Context.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("VARIABLES:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s = %s\n", k, plan.Context.Variables[k])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "FAILED STEP (step %d):\n%s\n", failedIdx+1, failedJSON)
	if failure.Err != nil {
		fmt.Fprintf(&b, "ERROR: %s (kind: %s)\n", failure.Err.Error(), failure.ErrKind)
	}
	if failure.SelectorUsed != "" {
		fmt.Fprintf(&b, "SELECTOR TRIED: %s\n", failure.SelectorUsed)
	}
	fmt.Fprintf(&b, "\nUNEXECUTED STEPS TO REPLACE:\n%s\n\n", remainingJSON)
	writePageContext(&b, page)
	b.WriteString("\nOUTPUT FORMAT (strict JSON only, no text outside): {\"steps\":[...]}\n")

	resp, err := p.llm.GenerateText(ctx, llm.Request{
		System:      plannerSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.0,
		MaxTokens:   1200,
	})
	if err != nil {
		return nil, fmt.Errorf("adapt model call: %w", err)
	}

	tail, _, err := parsePlanResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: raw=%q", err, clip(resp.Content, 300))
	}
	if len(tail) == 0 {
		return nil, fmt.Errorf("adaptation produced no steps")
	}
	if len(tail) > maxAdaptedSteps {
		return nil, fmt.Errorf("adaptation too long: %d steps (max %d)", len(tail), maxAdaptedSteps)
	}
	return tail, nil
}

const refineSystemPrompt = `You repair selectors for browser automation steps.
CRITICAL RULES:
1. Respond with a SINGLE JSON object and NOTHING else: {"selector":"...","value":"..."}
2. The selector must be a CSS selector that exists in the provided HTML.
3. Leave "value" empty to keep the step's value unchanged.`

func (p *llmPlanner) RefineStep(ctx context.Context, step ActionStep, page snapshot.PageState) (ActionStep, bool, error) {
	stepJSON, err := json.Marshal(step)
	if err != nil {
		return step, false, fmt.Errorf("marshal step: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "STEP:\n%s\n", stepJSON)
	fmt.Fprintf(&b, "CURRENT SELECTOR: %s\n\n", orNone(step.Selector()))
	writePageContext(&b, page)
	b.WriteString("\nOUTPUT FORMAT (strict JSON only, no text outside): {\"selector\":\"...\",\"value\":\"\"}\n")

	resp, err := p.llm.GenerateText(ctx, llm.Request{
		System:      refineSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.0,
		MaxTokens:   300,
	})
	if err != nil {
		return step, false, fmt.Errorf("refine model call: %w", err)
	}

	raw, err := extractJSON(resp.Content)
	if err != nil {
		return step, false, nil
	}
	var parsed struct {
		Selector string `json:"selector"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return step, false, nil
	}

	refined := step
	changed := false
	if sel := sanitizeSelector(parsed.Selector); sel != "" && sel != step.Selector() {
		refined = refined.WithSelector(sel)
		changed = true
	}
	if val := strings.TrimSpace(parsed.Value); val != "" && val != step.Value {
		refined = refined.WithValue(val)
		changed = true
	}
	return refined, changed, nil
}

func writePageContext(b *strings.Builder, page snapshot.PageState) {
	b.WriteString("CURRENT PAGE:\n")
	fmt.Fprintf(b, "URL: %s\n", orNone(page.URL))
	fmt.Fprintf(b, "TITLE: %s\n", orNone(page.Title))
	if excerpt := page.Excerpt(plannerHTMLLimit); excerpt != "" {
		fmt.Fprintf(b, "HTML (truncated):\n%s\n", excerpt)
	}
}

// wireStep is the loosely-typed step shape models emit. Fields are coerced
// into ActionStep; "action" is accepted as an alias for "type" and a bare
// string target is treated as a selector.
type wireStep struct {
	Type          string          `json:"type"`
	Action        string          `json:"action"`
	Target        json.RawMessage `json:"target"`
	Value         json.RawMessage `json:"value"`
	WaitCondition string          `json:"waitCondition"`
	Description   string          `json:"description"`
}

func parsePlanResponse(text string) ([]ActionStep, string, error) {
	cleaned := stripFences(text)
	objIdx := strings.IndexByte(cleaned, '{')
	arrIdx := strings.IndexByte(cleaned, '[')

	var raw string
	if arrIdx != -1 && (objIdx == -1 || arrIdx < objIdx) {
		// A bare step array, possibly wrapped in prose.
		arr, err := extractJSONArray(cleaned)
		if err != nil {
			return nil, "", fmt.Errorf("plan json not found")
		}
		raw = `{"steps":` + arr + `}`
	} else {
		obj, err := extractJSON(cleaned)
		if err != nil {
			return nil, "", fmt.Errorf("plan json not found")
		}
		raw = obj
	}

	var parsed struct {
		Steps           []wireStep `json:"steps"`
		ExpectedOutcome string     `json:"expectedOutcome"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, "", fmt.Errorf("plan json parse: %w", err)
	}

	steps := make([]ActionStep, 0, len(parsed.Steps))
	for i, ws := range parsed.Steps {
		step, err := normalizeStep(ws)
		if err != nil {
			return nil, "", fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, strings.TrimSpace(parsed.ExpectedOutcome), nil
}

func normalizeStep(ws wireStep) (ActionStep, error) {
	kind := ws.Type
	if kind == "" {
		kind = ws.Action
	}
	stepType, err := ParseStepType(kind)
	if err != nil {
		return ActionStep{}, err
	}

	step := ActionStep{
		Type:          stepType,
		Value:         coerceString(ws.Value),
		WaitCondition: strings.TrimSpace(ws.WaitCondition),
		Description:   strings.TrimSpace(ws.Description),
	}

	if len(ws.Target) > 0 {
		target, err := parseTarget(ws.Target)
		if err != nil {
			return ActionStep{}, err
		}
		if !target.Empty() {
			step.Target = &target
		}
	}
	if step.Target != nil {
		step.Target.Selector = sanitizeSelector(step.Target.Selector)
	}

	if stepType == StepNavigate {
		if step.Value == "" {
			step.Value = urlFromDescription(step)
		}
		step.Value = normalizeURL(step.Value)
	}
	return step, nil
}

func parseTarget(raw json.RawMessage) (Target, error) {
	var target Target
	if err := json.Unmarshal(raw, &target); err == nil {
		return target, nil
	}
	var sel string
	if err := json.Unmarshal(raw, &sel); err == nil {
		return Target{Selector: sel}, nil
	}
	return Target{}, fmt.Errorf("target must be an object or a selector string")
}

// coerceString accepts string, number and bool values; models are sloppy
// about quoting.
func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return fmt.Sprintf("%t", b)
	}
	return ""
}

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>]+|\b[a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.[a-z]{2,}(?:/[^\s"'<>]*)?`)

// urlFromDescription salvages a navigate destination from the step's prose
// when the model forgot to fill in the value.
func urlFromDescription(step ActionStep) string {
	texts := make([]string, 0, 2)
	if step.Target != nil {
		texts = append(texts, step.Target.Description)
	}
	texts = append(texts, step.Description)
	for _, text := range texts {
		if m := urlPattern.FindString(text); m != "" {
			return strings.TrimRight(m, ".,;:!?)")
		}
	}
	return ""
}

// normalizeURL prepends https:// when the model hands back a bare host.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	lower := strings.ToLower(raw)
	for _, prefix := range []string{"http://", "https://", "about:", "file://", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return raw
		}
	}
	return "https://" + raw
}

// sanitizeSelector strips the whitespace noise models leave in selectors.
func sanitizeSelector(sel string) string {
	sel = strings.ReplaceAll(sel, "\n", " ")
	sel = strings.ReplaceAll(sel, "\r", " ")
	sel = strings.ReplaceAll(sel, "\t", " ")
	return strings.TrimSpace(strings.Join(strings.Fields(sel), " "))
}

// extractJSON returns the first balanced JSON object in text, skipping
// markdown fences and prose around it.
func extractJSON(text string) (string, error) {
	return extractBalanced(stripFences(text), '{', '}')
}

// extractJSONArray returns the first balanced JSON array in text.
func extractJSONArray(text string) (string, error) {
	return extractBalanced(stripFences(text), '[', ']')
}

func extractBalanced(text string, open, close byte) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case open:
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case close:
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json not found")
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
