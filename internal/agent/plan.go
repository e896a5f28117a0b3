package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/webpilot/webpilot/internal/llm"
	"github.com/webpilot/webpilot/internal/snapshot"
)

// StepType names one browser action kind.
type StepType string

const (
	StepNavigate   StepType = "navigate"
	StepClick      StepType = "click"
	StepType_      StepType = "type"
	StepFill       StepType = "fill"
	StepScroll     StepType = "scroll"
	StepWait       StepType = "wait"
	StepExtract    StepType = "extract"
	StepScreenshot StepType = "screenshot"
)

// ParseStepType normalizes a model-produced action name. A few common
// synonyms map onto the canonical set; anything else is rejected so a
// malformed plan fails validation instead of executing garbage.
func ParseStepType(raw string) (StepType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "navigate", "goto", "go", "open", "visit":
		return StepNavigate, nil
	case "click", "press", "tap":
		return StepClick, nil
	case "type", "input", "enter":
		return StepType_, nil
	case "fill", "fill_form", "form":
		return StepFill, nil
	case "scroll":
		return StepScroll, nil
	case "wait", "sleep", "pause":
		return StepWait, nil
	case "extract", "read", "get_text":
		return StepExtract, nil
	case "screenshot", "capture":
		return StepScreenshot, nil
	default:
		return "", fmt.Errorf("unknown step type %q", raw)
	}
}

// Point is a viewport coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON accepts both {"x":10,"y":20} and [10,20]; models emit both.
func (p *Point) UnmarshalJSON(data []byte) error {
	type plain Point
	var obj plain
	if err := json.Unmarshal(data, &obj); err == nil {
		*p = Point(obj)
		return nil
	}
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) == 2 {
		p.X, p.Y = arr[0], arr[1]
		return nil
	}
	return fmt.Errorf("coordinates must be {x,y} or [x,y]")
}

// Target identifies the element a step acts on. Selector is authoritative;
// Description exists for refinement prompts, Coordinates as a last resort.
type Target struct {
	Selector    string `json:"selector,omitempty"`
	Description string `json:"description,omitempty"`
	Coordinates *Point `json:"coordinates,omitempty"`
}

func (t Target) Empty() bool {
	return t.Selector == "" && t.Description == "" && t.Coordinates == nil
}

// ActionStep is one unit of browser work.
type ActionStep struct {
	Type          StepType `json:"type"`
	Target        *Target  `json:"target,omitempty"`
	Value         string   `json:"value,omitempty"`
	WaitCondition string   `json:"waitCondition,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// Selector returns the step's selector or "".
func (s ActionStep) Selector() string {
	if s.Target == nil {
		return ""
	}
	return s.Target.Selector
}

// WithSelector returns a copy with the selector replaced. The original step
// is never mutated; refined steps are always fresh values.
func (s ActionStep) WithSelector(selector string) ActionStep {
	out := s
	t := Target{}
	if s.Target != nil {
		t = *s.Target
	}
	t.Selector = selector
	out.Target = &t
	return out
}

// WithValue returns a copy with the value replaced.
func (s ActionStep) WithValue(value string) ActionStep {
	out := s
	out.Value = value
	return out
}

func (s ActionStep) validate(idx int) error {
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("step %d: missing description", idx)
	}
	switch s.Type {
	case StepNavigate:
		if strings.TrimSpace(s.Value) == "" {
			return fmt.Errorf("step %d: navigate requires a url value", idx)
		}
	case StepClick:
		if s.Target == nil || s.Target.Empty() {
			return fmt.Errorf("step %d: click requires a target", idx)
		}
	case StepType_, StepFill:
		if s.Target == nil || s.Target.Empty() {
			return fmt.Errorf("step %d: %s requires a target", idx, s.Type)
		}
	case StepScroll, StepWait, StepExtract, StepScreenshot:
		// No required fields; defaults cover them.
	default:
		return fmt.Errorf("step %d: unknown step type %q", idx, s.Type)
	}
	return nil
}

// TaskContext pins the instruction, the page the plan was built against,
// and the task's progress. The engine keeps CurrentStepIndex and TotalSteps
// current as the plan runs, so adaptation sees where the task stands.
// Variables carries caller-supplied values the model may substitute into
// replacement steps.
type TaskContext struct {
	Instruction      string            `json:"instruction"`
	URL              string            `json:"url,omitempty"`
	PageTitle        string            `json:"pageTitle,omitempty"`
	CurrentStepIndex int               `json:"currentStepIndex"`
	TotalSteps       int               `json:"totalSteps"`
	Variables        map[string]string `json:"variables,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// ActionPlan is an ordered sequence of steps plus the context they serve.
type ActionPlan struct {
	Steps           []ActionStep `json:"steps"`
	Context         TaskContext  `json:"taskContext"`
	ExpectedOutcome string       `json:"expectedOutcome,omitempty"`
}

// Validate rejects empty or structurally broken plans before execution.
func (p ActionPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i, step := range p.Steps {
		if err := step.validate(i); err != nil {
			return err
		}
	}
	return nil
}

// Remaining returns a copy of the steps from index on.
func (p ActionPlan) Remaining(from int) []ActionStep {
	if from < 0 {
		from = 0
	}
	if from >= len(p.Steps) {
		return nil
	}
	out := make([]ActionStep, len(p.Steps)-from)
	copy(out, p.Steps[from:])
	return out
}

// SpliceTail builds a new plan that keeps steps before from untouched and
// replaces everything after with tail. Adaptation must never rewrite what
// already ran.
func (p ActionPlan) SpliceTail(from int, tail []ActionStep) ActionPlan {
	if from < 0 {
		from = 0
	}
	if from > len(p.Steps) {
		from = len(p.Steps)
	}
	steps := make([]ActionStep, 0, from+len(tail))
	steps = append(steps, p.Steps[:from]...)
	steps = append(steps, tail...)
	out := p
	out.Steps = steps
	return out
}

// StepExecutionResult records everything one step attempt produced.
type StepExecutionResult struct {
	Step            ActionStep
	Index           int
	Success         bool
	Err             error
	ErrKind         ErrKind
	PageStateBefore snapshot.PageState
	PageStateAfter  snapshot.PageState
	ElementFound    bool
	SelectorUsed    string
	ValueEntered    string
	Extracted       string
	Screenshot      []byte
	CanContinue     bool
	Duration        time.Duration
	Timestamp       time.Time
}

// TaskResult is the outcome of one instruction end to end. ExtractedData
// collects every extract step's text keyed by what the step was after;
// Screenshots collects captured images in execution order.
type TaskResult struct {
	TaskID        string
	Success       bool
	Steps         []StepExecutionResult
	Err           error
	Output        string
	ExtractedData map[string]string
	Screenshots   [][]byte
	Usage         llm.Usage
	Duration      time.Duration
	Started       time.Time
}

// summarize derives the task verdict from its step results: every executed
// step succeeded. A task with nothing executed succeeded vacuously.
func summarize(results []StepExecutionResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
