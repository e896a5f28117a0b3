package execlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		out = append(out, m)
	}
	return out
}

func TestZerologTaskLifecycle(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerolog(zerolog.New(&buf))

	z.TaskStarted("task-1", "order a pizza")
	z.TaskFinished("task-1", true, 1500*time.Millisecond, "")

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)

	started := lines[0]
	assert.Equal(t, "execlog", started["comp"])
	assert.Equal(t, "task-1", started["task_id"])
	assert.Equal(t, "order a pizza", started["instruction"])
	assert.Equal(t, "task started", started["message"])

	finished := lines[1]
	assert.Equal(t, "info", finished["level"])
	assert.Equal(t, true, finished["success"])
	assert.Equal(t, "task finished", finished["message"])
	assert.NotContains(t, finished, "error")
}

func TestZerologFailedTaskWarns(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerolog(zerolog.New(&buf))

	z.TaskFinished("task-2", false, time.Second, "element not found")

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, false, lines[0]["success"])
	assert.Equal(t, "element not found", lines[0]["error"])
}

func TestZerologStepExecuted(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerolog(zerolog.New(&buf))

	z.StepExecuted(Entry{
		TaskID:         "task-3",
		Index:          0,
		StepType:       "click",
		Selector:       "button[type='submit']",
		Success:        true,
		URL:            "https://example.com",
		Duration:       250 * time.Millisecond,
		ScreenshotSize: 1024,
		ViewportWidth:  1280,
		ViewportHeight: 800,
	})
	z.StepExecuted(Entry{
		TaskID:   "task-3",
		Index:    1,
		StepType: "type",
		Success:  false,
		Error:    "element not found: #gone",
		ErrKind:  "element_not_found",
	})

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)

	ok := lines[0]
	assert.Equal(t, "info", ok["level"])
	assert.EqualValues(t, 1, ok["step"], "steps log one-based")
	assert.Equal(t, "click", ok["type"])
	assert.Equal(t, "button[type='submit']", ok["selector"])
	assert.EqualValues(t, 1024, ok["screenshot_bytes"])
	assert.Equal(t, "1280x800", ok["viewport"])

	failed := lines[1]
	assert.Equal(t, "warn", failed["level"])
	assert.EqualValues(t, 2, failed["step"])
	assert.Equal(t, "element not found: #gone", failed["error"])
	assert.Equal(t, "element_not_found", failed["error_kind"])
	assert.NotContains(t, failed, "screenshot_bytes")
	assert.NotContains(t, failed, "viewport")
}

func TestZerologPlanAdapted(t *testing.T) {
	var buf bytes.Buffer
	z := NewZerolog(zerolog.New(&buf))

	z.PlanAdapted("task-4", 2, 3)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 3, lines[0]["failed_step"])
	assert.EqualValues(t, 3, lines[0]["new_tail_steps"])
	assert.Equal(t, "plan adapted", lines[0]["message"])
}

func TestNopDiscards(t *testing.T) {
	var n Nop
	assert.NotPanics(t, func() {
		n.TaskStarted("t", "i")
		n.StepExecuted(Entry{})
		n.PlanAdapted("t", 0, 1)
		n.TaskFinished("t", true, 0, "")
	})
}
