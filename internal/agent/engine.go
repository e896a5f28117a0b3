package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/execlog"
	"github.com/webpilot/webpilot/internal/llm"
	"github.com/webpilot/webpilot/internal/snapshot"
)

const extractLimit = 10000

// Config bounds the engine's timing and recovery behaviour.
type Config struct {
	ActionTimeout   time.Duration
	NavTimeout      time.Duration
	ModelTimeout    time.Duration
	SnapshotTimeout time.Duration
	WaitDefault     time.Duration
	ScrollOffset    int
	ContentLimit    int
	// CaptureScreenshots includes a screenshot in every page state capture,
	// not just explicit screenshot steps.
	CaptureScreenshots bool
	// MaxAdaptations caps plan repairs across a whole task.
	MaxAdaptations int
	// PauseCheck runs between steps; returning an error stops the task the
	// same way cancellation does. It may block until resumed.
	PauseCheck func(context.Context) error
}

func (c Config) withDefaults() Config {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 60 * time.Second
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 10 * time.Second
	}
	if c.WaitDefault <= 0 {
		c.WaitDefault = time.Second
	}
	if c.ScrollOffset <= 0 {
		c.ScrollOffset = 600
	}
	if c.ContentLimit <= 0 {
		c.ContentLimit = 200000
	}
	if c.MaxAdaptations <= 0 {
		c.MaxAdaptations = 3
	}
	return c
}

// Engine runs instructions through the plan-execute-refine loop: plan once,
// execute step by step with per-step refinement, and when a step fails,
// repair the unexecuted tail and carry on from the next step.
type Engine struct {
	cfg      Config
	backend  browser.Backend
	planner  Planner
	heur     HeuristicAnalyzer
	analyzer StepAnalyzer
	memory   *ContextManager
	events   Emitter
	execLog  execlog.Logger
	meter    *llm.Meter
	logger   zerolog.Logger
}

func NewEngine(cfg Config, backend browser.Backend, planner Planner, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		backend: backend,
		planner: planner,
		memory:  NewContextManager(),
		events:  NopEmitter{},
		execLog: execlog.Nop{},
		logger:  logger.With().Str("comp", "engine").Logger(),
	}
}

// SetAnalyzer installs a contextual analyzer for selector refinement.
func (e *Engine) SetAnalyzer(a StepAnalyzer) { e.analyzer = a }

// SetEmitter installs an event observer.
func (e *Engine) SetEmitter(em Emitter) {
	if em != nil {
		e.events = em
	}
}

// SetExecLogger installs an execution log sink.
func (e *Engine) SetExecLogger(l execlog.Logger) {
	if l != nil {
		e.execLog = l
	}
}

// SetMeter installs a usage meter so task results carry token spend.
func (e *Engine) SetMeter(m *llm.Meter) { e.meter = m }

// Memory exposes the task's accumulated step context.
func (e *Engine) Memory() *ContextManager { return e.memory }

// ExecuteTask plans the instruction against the current page and executes
// the plan. It never panics outward; every failure lands in the TaskResult.
func (e *Engine) ExecuteTask(ctx context.Context, instruction string) (result TaskResult) {
	started := time.Now()
	taskID := uuid.NewString()
	result = TaskResult{TaskID: taskID, Started: started}
	usageStart := e.usageTotal()
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Err = fmt.Errorf("task panic: %v", r)
		}
		result.Duration = time.Since(started)
		result.Usage = usageDelta(usageStart, e.usageTotal())
		e.finishTask(&result)
	}()

	instruction = strings.TrimSpace(instruction)
	e.execLog.TaskStarted(taskID, instruction)
	e.emit(Event{Type: EventTaskStarted, TaskID: taskID, Detail: instruction})
	e.memory.Reset()

	if instruction == "" {
		result.Err = ErrEmptyInstruction
		return result
	}

	page := e.capture(ctx, false)
	mctx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	plan, err := e.planner.Plan(mctx, instruction, page)
	cancel()
	if err != nil {
		result.Err = fmt.Errorf("plan: %w", err)
		return result
	}
	e.logger.Info().
		Str("task_id", taskID).
		Int("steps", len(plan.Steps)).
		Msg("plan created")
	e.emit(Event{Type: EventPlanCreated, TaskID: taskID, Detail: fmt.Sprintf("%d steps", len(plan.Steps))})

	e.runPlan(ctx, taskID, plan, &result)
	return result
}

// ExecuteActionPlan executes a pre-built plan, bypassing instruction
// parsing. Same contract as ExecuteTask: failures land in the result.
func (e *Engine) ExecuteActionPlan(ctx context.Context, plan ActionPlan) (result TaskResult) {
	started := time.Now()
	taskID := uuid.NewString()
	result = TaskResult{TaskID: taskID, Started: started}
	usageStart := e.usageTotal()
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Err = fmt.Errorf("task panic: %v", r)
		}
		result.Duration = time.Since(started)
		result.Usage = usageDelta(usageStart, e.usageTotal())
		e.finishTask(&result)
	}()

	e.execLog.TaskStarted(taskID, plan.Context.Instruction)
	e.emit(Event{Type: EventTaskStarted, TaskID: taskID, Detail: plan.Context.Instruction})
	e.memory.Reset()

	if err := plan.Validate(); err != nil {
		result.Err = fmt.Errorf("invalid plan: %w", err)
		return result
	}

	e.runPlan(ctx, taskID, plan, &result)
	return result
}

// runPlan drives the step loop. The executed prefix is never revisited: a
// failing step triggers at most one adaptation, which replaces the not yet
// executed steps after it, and execution moves on to the next index.
func (e *Engine) runPlan(ctx context.Context, taskID string, plan ActionPlan, result *TaskResult) {
	adaptsLeft := e.cfg.MaxAdaptations
	var taskErr error

	for i := 0; i < len(plan.Steps); i++ {
		if err := e.checkPause(ctx); err != nil {
			taskErr = err
			break
		}
		plan.Context.CurrentStepIndex = i
		plan.Context.TotalSteps = len(plan.Steps)

		res := e.executeStep(ctx, taskID, i, &plan)
		result.Steps = append(result.Steps, res)
		e.memory.AddResult(res)
		e.logStep(taskID, res)
		if after := res.PageStateAfter; after.URL != "" && after.URL != res.PageStateBefore.URL {
			e.emit(Event{
				Type:       EventPageChanged,
				TaskID:     taskID,
				StepIndex:  i,
				Detail:     after.URL,
				Title:      after.Title,
				Screenshot: after.Screenshot,
			})
		}
		step := res.Step
		e.emit(Event{
			Type:       EventStepFinished,
			TaskID:     taskID,
			StepIndex:  i,
			Step:       &step,
			Screenshot: res.PageStateAfter.Screenshot,
			Err:        errMsg(res.Err),
		})

		if res.Success {
			continue
		}
		if res.ErrKind.Fatal() {
			taskErr = res.Err
			break
		}

		if adaptsLeft > 0 {
			adaptsLeft--
			mctx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
			adapted, changed := e.planner.Adapt(mctx, plan, i, res, res.PageStateAfter)
			cancel()
			if changed {
				plan = adapted
				tail := len(plan.Steps) - (i + 1)
				e.execLog.PlanAdapted(taskID, i, tail)
				e.emit(Event{Type: EventPlanAdapted, TaskID: taskID, StepIndex: i, Detail: fmt.Sprintf("%d replacement steps", tail)})
				e.logger.Info().
					Int("failed_step", i+1).
					Int("replacement_steps", tail).
					Msg("plan tail adapted")
			}
		} else {
			e.logger.Warn().Int("step", i+1).Msg("adaptation budget exhausted, keeping plan")
		}

		if !res.CanContinue {
			taskErr = fmt.Errorf("step %d %s: %w", i+1, res.Step.Type, res.Err)
			break
		}
		e.logger.Warn().
			Int("step", i+1).
			Str("type", string(res.Step.Type)).
			Err(res.Err).
			Msg("step failed, continuing")
	}

	result.Err = taskErr
	// The verdict covers executed steps only; a stop between steps leaves
	// it intact while Err records why the task ended early.
	result.Success = summarize(result.Steps)
	result.Output = collectOutput(result.Steps)
	collectArtifacts(result)
}

// executeStep runs the full pipeline for one step: capture before, refine,
// act, capture after. The refined step is written back into the plan so
// later adaptation sees what actually ran. A panic inside the step becomes
// a failed result.
func (e *Engine) executeStep(ctx context.Context, taskID string, index int, plan *ActionPlan) (res StepExecutionResult) {
	start := time.Now()
	step := plan.Steps[index]
	res = StepExecutionResult{
		Step:         step,
		Index:        index,
		Timestamp:    start,
		SelectorUsed: step.Selector(),
	}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("step panic: %v", r)
			res.ErrKind = ErrKindUnknown
			res.CanContinue = true
			res.Duration = time.Since(start)
		}
	}()

	e.emit(Event{Type: EventStepStarted, TaskID: taskID, StepIndex: index, Step: &step})

	res.PageStateBefore = e.capture(ctx, false)

	sctx := e.memory.Context(index, len(plan.Steps))
	refined := e.refine(ctx, taskID, index, step, sctx, res.PageStateBefore)
	plan.Steps[index] = refined
	res.Step = refined
	if sel := refined.Selector(); sel != "" {
		res.SelectorUsed = sel
	}

	err := e.performStep(ctx, refined, &res)
	if err == nil && refined.WaitCondition != "" && refined.Type != StepWait {
		if werr := e.applyWait(ctx, refined.WaitCondition, ""); werr != nil {
			e.logger.Debug().Err(werr).Int("step", index+1).Msg("post-action wait failed")
		}
	}

	res.PageStateAfter = e.capture(ctx, refined.Type == StepScreenshot)
	if refined.Type == StepScreenshot && len(res.Screenshot) > 0 && len(res.PageStateAfter.Screenshot) == 0 {
		res.PageStateAfter.Screenshot = res.Screenshot
	}

	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		res.ErrKind = Classify(err)
		res.CanContinue = res.ErrKind.Recoverable()
		return res
	}
	res.Success = true
	res.CanContinue = true
	return res
}

// refine improves element-targeting steps before execution: the keyword
// heuristic first, then the contextual analyzer when one is installed, and
// a plain model refinement only for selectorless steps with no analyzer.
// Refinement may swap the selector or value but never the step's type or
// description.
func (e *Engine) refine(ctx context.Context, taskID string, index int, step ActionStep, sctx StepContext, page snapshot.PageState) ActionStep {
	switch step.Type {
	case StepClick, StepType_, StepFill, StepExtract:
	default:
		return step
	}

	refined, changed, _ := e.heur.ImproveStep(ctx, step, sctx, page)
	if changed {
		e.logger.Debug().
			Int("step", index+1).
			Str("from", step.Selector()).
			Str("to", refined.Selector()).
			Msg("selector rewritten heuristically")
		e.emit(Event{Type: EventStepRefined, TaskID: taskID, StepIndex: index, Step: &refined, Detail: "heuristic"})
		return refined
	}

	if e.analyzer != nil {
		mctx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
		improved, changed, err := e.analyzer.ImproveStep(mctx, step, sctx, page)
		cancel()
		if err != nil {
			e.logger.Debug().Err(err).Int("step", index+1).Msg("contextual refinement unavailable")
			return step
		}
		if changed {
			e.emit(Event{Type: EventStepRefined, TaskID: taskID, StepIndex: index, Step: &improved, Detail: "contextual"})
			return improved
		}
		return step
	}

	if step.Selector() == "" && needsSelector(step.Type) {
		mctx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
		improved, changed, err := e.planner.RefineStep(mctx, step, page)
		cancel()
		if err != nil {
			e.logger.Debug().Err(err).Int("step", index+1).Msg("step refinement unavailable")
			return step
		}
		if changed {
			e.emit(Event{Type: EventStepRefined, TaskID: taskID, StepIndex: index, Step: &improved, Detail: "model"})
			return improved
		}
	}
	return step
}

func needsSelector(t StepType) bool {
	switch t {
	case StepClick, StepType_, StepFill:
		return true
	}
	return false
}

func (e *Engine) performStep(ctx context.Context, step ActionStep, res *StepExecutionResult) error {
	switch step.Type {
	case StepNavigate:
		actionCtx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout)
		defer cancel()
		return e.backend.Navigate(actionCtx, step.Value)
	case StepClick:
		return e.click(ctx, step, res)
	case StepType_:
		if step.Value == "" {
			return fmt.Errorf("type requires a value")
		}
		return e.typeInto(ctx, step.Selector(), step.Value, res)
	case StepFill:
		return e.fill(ctx, step, res)
	case StepScroll:
		return e.scroll(ctx, step)
	case StepWait:
		return e.applyWait(ctx, step.WaitCondition, step.Value)
	case StepExtract:
		return e.extract(ctx, step, res)
	case StepScreenshot:
		return e.screenshot(ctx, step, res)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

// click locates the target and clicks it. A selector is required; there is
// no coordinate fallback.
func (e *Engine) click(ctx context.Context, step ActionStep, res *StepExecutionResult) error {
	sel := step.Selector()
	if sel == "" {
		return fmt.Errorf("click requires a selector")
	}
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	if _, err := e.backend.WaitForSelector(actionCtx, sel, browser.WaitOptions{Timeout: e.cfg.ActionTimeout}); err != nil {
		return err
	}
	res.ElementFound = true
	return e.backend.Click(actionCtx, sel)
}

func (e *Engine) typeInto(ctx context.Context, selector, value string, res *StepExecutionResult) error {
	if selector == "" {
		return fmt.Errorf("type requires a selector")
	}
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	if _, err := e.backend.WaitForSelector(actionCtx, selector, browser.WaitOptions{Timeout: e.cfg.ActionTimeout}); err != nil {
		return err
	}
	res.ElementFound = true
	if err := e.backend.Type(actionCtx, selector, value); err != nil {
		return err
	}
	res.SelectorUsed = selector
	res.ValueEntered = value
	return nil
}

// fill handles both shapes the planner emits: a JSON object mapping
// selectors to values fills several fields, a plain string fills the step's
// own target. Field failures are collected so one bad selector does not
// abandon the rest of the form.
func (e *Engine) fill(ctx context.Context, step ActionStep, res *StepExecutionResult) error {
	var fields map[string]string
	if err := json.Unmarshal([]byte(step.Value), &fields); err == nil && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var errs []error
		for _, sel := range keys {
			if err := e.typeInto(ctx, sel, fields[sel], res); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sel, err))
			}
		}
		res.ValueEntered = step.Value
		if len(errs) > 0 {
			return fmt.Errorf("fill: %w", errors.Join(errs...))
		}
		return nil
	}
	if step.Value == "" {
		return fmt.Errorf("fill requires a value")
	}
	return e.typeInto(ctx, step.Selector(), step.Value, res)
}

func (e *Engine) scroll(ctx context.Context, step ActionStep) error {
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	if sel := step.Selector(); sel != "" {
		quoted, _ := json.Marshal(sel)
		script := fmt.Sprintf(
			`(() => { const el = document.querySelector(%s); if (!el) return false; el.scrollIntoView({block:"center"}); return true; })()`,
			quoted)
		val, err := e.backend.Evaluate(actionCtx, script)
		if err != nil {
			return err
		}
		if ok, _ := val.(bool); !ok {
			return fmt.Errorf("scroll: %s not found", sel)
		}
		return nil
	}

	offset := e.cfg.ScrollOffset
	var script string
	switch strings.ToLower(strings.TrimSpace(step.Value)) {
	case "", "down":
		script = fmt.Sprintf("window.scrollBy(0, %d)", offset)
	case "up":
		script = fmt.Sprintf("window.scrollBy(0, -%d)", offset)
	case "top":
		script = "window.scrollTo(0, 0)"
	case "bottom":
		script = "window.scrollTo(0, document.body.scrollHeight)"
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(step.Value)); err == nil {
			script = fmt.Sprintf("window.scrollBy(0, %d)", n)
		} else {
			script = fmt.Sprintf("window.scrollBy(0, %d)", offset)
		}
	}
	_, err := e.backend.Evaluate(actionCtx, script)
	return err
}

// applyWait resolves the wait grammar: "load"/"networkidle" wait for the
// page, any other condition is a selector, a bare numeric value sleeps that
// many milliseconds, and nothing at all sleeps the configured default.
func (e *Engine) applyWait(ctx context.Context, cond, value string) error {
	cond = strings.ToLower(strings.TrimSpace(cond))
	switch {
	case cond == "load" || cond == "networkidle" || cond == "domcontentloaded":
		actionCtx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout)
		defer cancel()
		return e.backend.WaitForLoad(actionCtx)
	case cond != "":
		timeout := e.cfg.ActionTimeout
		if d, ok := parseMillis(value); ok {
			timeout = d
		}
		actionCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_, err := e.backend.WaitForSelector(actionCtx, cond, browser.WaitOptions{Timeout: timeout})
		return err
	default:
		if d, ok := parseMillis(value); ok {
			return sleepCtx(ctx, d)
		}
		return sleepCtx(ctx, e.cfg.WaitDefault)
	}
}

func (e *Engine) extract(ctx context.Context, step ActionStep, res *StepExecutionResult) error {
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	sel := step.Selector()
	if sel == "" {
		val, err := e.backend.Evaluate(actionCtx, "document.body ? document.body.innerText : ''")
		if err != nil {
			return err
		}
		text, _ := val.(string)
		res.Extracted = clip(strings.TrimSpace(text), extractLimit)
		return nil
	}

	handle, err := e.backend.WaitForSelector(actionCtx, sel, browser.WaitOptions{Timeout: e.cfg.ActionTimeout})
	if err != nil {
		return err
	}
	res.ElementFound = true
	text, err := handle.Text(actionCtx)
	if err != nil {
		return err
	}
	res.Extracted = clip(text, extractLimit)
	return nil
}

// screenshot captures the full page and, when the step carries a path in
// its value, persists the image there.
func (e *Engine) screenshot(ctx context.Context, step ActionStep, res *StepExecutionResult) error {
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	shot, err := e.backend.Screenshot(actionCtx, browser.ScreenshotOptions{FullPage: true})
	if err != nil {
		return err
	}
	res.Screenshot = shot
	if path := strings.TrimSpace(step.Value); path != "" {
		if err := os.WriteFile(path, shot, 0o644); err != nil {
			return fmt.Errorf("save screenshot: %w", err)
		}
	}
	return nil
}

func (e *Engine) capture(ctx context.Context, withShot bool) snapshot.PageState {
	snapCtx, cancel := snapshot.WithDeadline(ctx, e.cfg.SnapshotTimeout)
	defer cancel()
	state, err := snapshot.Capture(snapCtx, e.backend, snapshot.Options{
		IncludeScreenshot: withShot || e.cfg.CaptureScreenshots,
		ContentLimit:      e.cfg.ContentLimit,
	})
	if err != nil {
		e.logger.Debug().Err(err).Msg("page state capture failed")
		return snapshot.PageState{Timestamp: time.Now()}
	}
	return state
}

func (e *Engine) checkPause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cfg.PauseCheck != nil {
		if err := e.cfg.PauseCheck(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (e *Engine) logStep(taskID string, res StepExecutionResult) {
	e.execLog.StepExecuted(execlog.Entry{
		TaskID:         taskID,
		Index:          res.Index,
		StepType:       string(res.Step.Type),
		Description:    res.Step.Description,
		Selector:       res.SelectorUsed,
		Value:          res.ValueEntered,
		Success:        res.Success,
		Error:          errMsg(res.Err),
		ErrKind:        string(res.ErrKind),
		URL:            res.PageStateAfter.URL,
		Title:          res.PageStateAfter.Title,
		Duration:       res.Duration,
		ScreenshotSize: len(res.Screenshot),
		ViewportWidth:  res.PageStateAfter.Viewport.Width,
		ViewportHeight: res.PageStateAfter.Viewport.Height,
	})
}

func (e *Engine) finishTask(result *TaskResult) {
	e.execLog.TaskFinished(result.TaskID, result.Success, result.Duration, errMsg(result.Err))
	e.emit(Event{
		Type:   EventTaskFinished,
		TaskID: result.TaskID,
		Detail: fmt.Sprintf("success=%t steps=%d", result.Success, len(result.Steps)),
		Err:    errMsg(result.Err),
	})
}

func (e *Engine) emit(ev Event) {
	ev.Time = time.Now()
	e.events.Emit(ev)
}

func (e *Engine) usageTotal() llm.Usage {
	if e.meter == nil {
		return llm.Usage{}
	}
	return e.meter.Total()
}

func usageDelta(start, end llm.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     end.PromptTokens - start.PromptTokens,
		CompletionTokens: end.CompletionTokens - start.CompletionTokens,
		TotalTokens:      end.TotalTokens - start.TotalTokens,
	}
}

func collectOutput(results []StepExecutionResult) string {
	var parts []string
	for _, r := range results {
		if r.Extracted != "" {
			parts = append(parts, r.Extracted)
		}
	}
	return strings.Join(parts, "\n")
}

// collectArtifacts lifts extracted text and captured screenshots out of the
// step results into the task-level aggregates.
func collectArtifacts(result *TaskResult) {
	for _, r := range result.Steps {
		if r.Extracted != "" {
			if result.ExtractedData == nil {
				result.ExtractedData = make(map[string]string)
			}
			result.ExtractedData[extractKey(r)] = r.Extracted
		}
		if len(r.Screenshot) > 0 {
			result.Screenshots = append(result.Screenshots, r.Screenshot)
		}
	}
}

func extractKey(r StepExecutionResult) string {
	if r.Step.Description != "" {
		return r.Step.Description
	}
	if r.SelectorUsed != "" {
		return r.SelectorUsed
	}
	return fmt.Sprintf("step_%d", r.Index+1)
}

func parseMillis(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(value); err == nil && n >= 0 {
		return time.Duration(n) * time.Millisecond, true
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d, true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
