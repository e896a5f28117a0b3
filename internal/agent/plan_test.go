package agent

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseStepType(t *testing.T) {
	tests := []struct {
		raw  string
		want StepType
	}{
		{"navigate", StepNavigate},
		{"GOTO", StepNavigate},
		{" open ", StepNavigate},
		{"visit", StepNavigate},
		{"click", StepClick},
		{"press", StepClick},
		{"tap", StepClick},
		{"type", StepType_},
		{"input", StepType_},
		{"enter", StepType_},
		{"fill", StepFill},
		{"fill_form", StepFill},
		{"scroll", StepScroll},
		{"wait", StepWait},
		{"sleep", StepWait},
		{"pause", StepWait},
		{"extract", StepExtract},
		{"get_text", StepExtract},
		{"screenshot", StepScreenshot},
		{"capture", StepScreenshot},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStepType(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStepType("teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestPointUnmarshal(t *testing.T) {
	var p Point
	require.NoError(t, json.Unmarshal([]byte(`{"x":12.5,"y":40}`), &p))
	assert.Equal(t, Point{X: 12.5, Y: 40}, p)

	require.NoError(t, json.Unmarshal([]byte(`[3,4]`), &p))
	assert.Equal(t, Point{X: 3, Y: 4}, p)

	assert.Error(t, json.Unmarshal([]byte(`[3]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`"3,4"`), &p))
}

func TestTargetEmpty(t *testing.T) {
	assert.True(t, Target{}.Empty())
	assert.False(t, Target{Selector: "#a"}.Empty())
	assert.False(t, Target{Description: "the button"}.Empty())
	assert.False(t, Target{Coordinates: &Point{X: 1}}.Empty())
}

func TestActionStepSelector(t *testing.T) {
	assert.Equal(t, "", ActionStep{}.Selector())
	step := ActionStep{Target: &Target{Selector: "#a"}}
	assert.Equal(t, "#a", step.Selector())
}

func TestWithSelectorDoesNotMutate(t *testing.T) {
	orig := ActionStep{
		Type:   StepClick,
		Target: &Target{Selector: "#old", Description: "the button"},
	}
	got := orig.WithSelector("#new")

	assert.Equal(t, "#new", got.Selector())
	assert.Equal(t, "the button", got.Target.Description)
	assert.Equal(t, "#old", orig.Selector(), "original step must stay untouched")
	assert.NotSame(t, orig.Target, got.Target)

	// A step with no target grows one.
	bare := ActionStep{Type: StepClick}
	withSel := bare.WithSelector("#x")
	assert.Equal(t, "#x", withSel.Selector())
	assert.Nil(t, bare.Target)
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    ActionPlan
		wantErr string
	}{
		{
			name:    "empty plan",
			plan:    ActionPlan{},
			wantErr: "no steps",
		},
		{
			name: "missing description",
			plan: ActionPlan{Steps: []ActionStep{{Type: StepWait, Value: "500"}}},
			wantErr: "missing description",
		},
		{
			name: "blank description",
			plan: ActionPlan{Steps: []ActionStep{{Type: StepScreenshot, Description: "   "}}},
			wantErr: "missing description",
		},
		{
			name: "navigate without url",
			plan: ActionPlan{Steps: []ActionStep{{Type: StepNavigate, Description: "open the site"}}},
			wantErr: "navigate requires a url",
		},
		{
			name: "click without target",
			plan: ActionPlan{Steps: []ActionStep{{Type: StepClick, Description: "press go"}}},
			wantErr: "click requires a target",
		},
		{
			name: "type with empty target",
			plan: ActionPlan{Steps: []ActionStep{{Type: StepType_, Target: &Target{}, Description: "enter the name"}}},
			wantErr: "type requires a target",
		},
		{
			name: "unknown type",
			plan: ActionPlan{Steps: []ActionStep{{Type: StepType("hover"), Description: "hover the menu"}}},
			wantErr: "unknown step type",
		},
		{
			name: "valid mixed plan",
			plan: ActionPlan{Steps: []ActionStep{
				{Type: StepNavigate, Value: "https://example.com", Description: "open the site"},
				{Type: StepClick, Target: &Target{Description: "the login button"}, Description: "press login"},
				{Type: StepWait, Value: "500", Description: "let the page settle"},
				{Type: StepExtract, Description: "read the page"},
				{Type: StepScreenshot, Description: "capture the page"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRemaining(t *testing.T) {
	plan := ActionPlan{Steps: []ActionStep{
		{Type: StepNavigate, Value: "https://a"},
		{Type: StepWait},
		{Type: StepScreenshot},
	}}

	rest := plan.Remaining(1)
	require.Len(t, rest, 2)
	assert.Equal(t, StepWait, rest[0].Type)

	rest[0].Value = "tampered"
	assert.Equal(t, "", plan.Steps[1].Value, "Remaining must return a copy")

	assert.Len(t, plan.Remaining(-2), 3)
	assert.Nil(t, plan.Remaining(3))
	assert.Nil(t, plan.Remaining(99))
}

func TestSpliceTail(t *testing.T) {
	plan := ActionPlan{
		Steps: []ActionStep{
			{Type: StepNavigate, Value: "https://a", Description: "first"},
			{Type: StepClick, Target: &Target{Selector: "#b"}},
			{Type: StepExtract},
		},
		Context: TaskContext{Instruction: "do the thing"},
	}
	tail := []ActionStep{
		{Type: StepClick, Target: &Target{Selector: "#c"}},
		{Type: StepWait, Value: "200"},
	}

	out := plan.SpliceTail(1, tail)
	require.Len(t, out.Steps, 3)
	assert.Equal(t, "first", out.Steps[0].Description)
	assert.Equal(t, "#c", out.Steps[1].Selector())
	assert.Equal(t, StepWait, out.Steps[2].Type)
	assert.Equal(t, "do the thing", out.Context.Instruction)

	// The source plan keeps its original steps.
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "#b", plan.Steps[1].Selector())

	out.Steps[0].Description = "tampered"
	assert.Equal(t, "first", plan.Steps[0].Description, "splice must not alias the source")
}

func TestSpliceTailBounds(t *testing.T) {
	plan := ActionPlan{Steps: []ActionStep{{Type: StepWait}, {Type: StepWait}}}

	out := plan.SpliceTail(-5, []ActionStep{{Type: StepScreenshot}})
	require.Len(t, out.Steps, 1)
	assert.Equal(t, StepScreenshot, out.Steps[0].Type)

	out = plan.SpliceTail(10, []ActionStep{{Type: StepScreenshot}})
	require.Len(t, out.Steps, 3)
	assert.Equal(t, StepScreenshot, out.Steps[2].Type)
}

func TestPropertySpliceTailPreservesPrefix(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		planLen := rapid.IntRange(0, 10).Draw(rt, "planLen")
		steps := make([]ActionStep, planLen)
		for i := range steps {
			steps[i] = ActionStep{Type: StepWait, Description: rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "desc")}
		}
		plan := ActionPlan{Steps: steps}

		from := rapid.IntRange(0, planLen).Draw(rt, "from")
		tailLen := rapid.IntRange(0, 5).Draw(rt, "tailLen")
		tail := make([]ActionStep, tailLen)
		for i := range tail {
			tail[i] = ActionStep{Type: StepScreenshot}
		}

		out := plan.SpliceTail(from, tail)
		require.Len(rt, out.Steps, from+tailLen)
		for i := 0; i < from; i++ {
			assert.Equal(rt, plan.Steps[i], out.Steps[i], "prefix step %d changed", i)
		}
		for i := 0; i < tailLen; i++ {
			assert.Equal(rt, StepScreenshot, out.Steps[from+i].Type)
		}
		require.Len(rt, plan.Steps, planLen, "source plan length changed")
	})
}

func TestSummarize(t *testing.T) {
	assert.True(t, summarize(nil))
	assert.True(t, summarize([]StepExecutionResult{{Success: true}, {Success: true}}))
	assert.False(t, summarize([]StepExecutionResult{{Success: true}, {Success: false, Err: errors.New("x")}}))
}
