// Package execlog records step-by-step execution for later inspection.
// Entries are flat values so any sink can serialize them.
package execlog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one executed step, flattened for logging sinks.
type Entry struct {
	TaskID         string
	Index          int
	StepType       string
	Description    string
	Selector       string
	Value          string
	Success        bool
	Error          string
	ErrKind        string
	URL            string
	Title          string
	Duration       time.Duration
	ScreenshotSize int
	ViewportWidth  int
	ViewportHeight int
}

// Logger receives execution records. Implementations must be safe to call
// from the engine's execution goroutine and must never fail the task.
type Logger interface {
	TaskStarted(taskID, instruction string)
	StepExecuted(e Entry)
	PlanAdapted(taskID string, failedIndex, tailLen int)
	TaskFinished(taskID string, success bool, duration time.Duration, errMsg string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) TaskStarted(string, string)                       {}
func (Nop) StepExecuted(Entry)                               {}
func (Nop) PlanAdapted(string, int, int)                     {}
func (Nop) TaskFinished(string, bool, time.Duration, string) {}

// Zerolog writes entries as structured log events.
type Zerolog struct {
	log zerolog.Logger
}

func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{log: logger.With().Str("comp", "execlog").Logger()}
}

func (z *Zerolog) TaskStarted(taskID, instruction string) {
	z.log.Info().
		Str("task_id", taskID).
		Str("instruction", instruction).
		Msg("task started")
}

func (z *Zerolog) StepExecuted(e Entry) {
	var ev *zerolog.Event
	if e.Success {
		ev = z.log.Info()
	} else {
		ev = z.log.Warn().Str("error", e.Error).Str("error_kind", e.ErrKind)
	}
	ev.Str("task_id", e.TaskID).
		Int("step", e.Index+1).
		Str("type", e.StepType).
		Str("selector", e.Selector).
		Str("url", e.URL).
		Dur("duration", e.Duration).
		Bool("success", e.Success)
	if e.ScreenshotSize > 0 {
		ev.Int("screenshot_bytes", e.ScreenshotSize)
	}
	if e.ViewportWidth > 0 && e.ViewportHeight > 0 {
		ev.Str("viewport", fmt.Sprintf("%dx%d", e.ViewportWidth, e.ViewportHeight))
	}
	ev.Msg("step executed")
}

func (z *Zerolog) PlanAdapted(taskID string, failedIndex, tailLen int) {
	z.log.Info().
		Str("task_id", taskID).
		Int("failed_step", failedIndex+1).
		Int("new_tail_steps", tailLen).
		Msg("plan adapted")
}

func (z *Zerolog) TaskFinished(taskID string, success bool, duration time.Duration, errMsg string) {
	ev := z.log.Info()
	if !success {
		ev = z.log.Warn().Str("error", errMsg)
	}
	ev.Str("task_id", taskID).
		Bool("success", success).
		Dur("duration", duration).
		Msg("task finished")
}

var (
	_ Logger = Nop{}
	_ Logger = (*Zerolog)(nil)
)
