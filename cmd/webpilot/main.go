package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/webpilot/webpilot/internal/agent"
	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/execlog"
	"github.com/webpilot/webpilot/internal/llm"
)

type cliOptions struct {
	task        string
	backend     string
	headed      bool
	screenshots bool
	adaptations int
	timeout     time.Duration
	out         string
	screenshot  string
	debug       bool
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if opts.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if opts.task == "" {
		task, cancelled, err := promptTask()
		if err != nil {
			log.Fatal().Err(err).Msg("prompt task failed")
		}
		if cancelled {
			fmt.Println("Cancelled.")
			return
		}
		opts.task = task
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := llm.FromEnvWithLogger(log.With().Str("comp", "llm").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("llm init")
	}
	meter := llm.NewMeter(client)

	backend, err := newBackend(ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer backend.Close(context.Background())

	planner := agent.NewPlanner(meter, log.Logger)
	engine := agent.NewEngine(agent.Config{
		CaptureScreenshots: opts.screenshots,
		MaxAdaptations:     opts.adaptations,
	}, backend, planner, log.Logger)
	engine.SetMeter(meter)
	engine.SetExecLogger(execlog.NewZerolog(log.Logger))
	engine.SetAnalyzer(agent.NewContextualAnalyzer(meter, log.Logger))

	runCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	fmt.Println("Starting task...")
	result := engine.ExecuteTask(runCtx, opts.task)

	printResult(result)
	if opts.screenshot != "" {
		saveScreenshot(opts.screenshot, result)
	}
	if opts.out != "" {
		if err := writeReport(opts.out, result); err != nil {
			log.Error().Err(err).Msg("write report")
		} else {
			log.Info().Str("path", opts.out).Msg("report saved")
		}
	}
	if result.Err != nil {
		log.Error().Err(result.Err).Msg("task finished with error")
	}
}

func parseFlags() cliOptions {
	task := flag.String("task", "", "Task instruction")
	backend := flag.String("browser", "", "Browser backend: playwright or chromedp (default from WEBPILOT_BROWSER)")
	headed := flag.Bool("headed", false, "Run the browser with a visible window")
	screenshots := flag.Bool("screenshots", false, "Capture a screenshot on every step")
	adaptations := flag.Int("adaptations", 3, "Max plan adaptations per task")
	timeout := flag.Duration("timeout", 0, "Overall task timeout (0 = none)")
	out := flag.String("out", "", "Path to write the task report as JSON")
	screenshot := flag.String("screenshot", "", "Path to save the final screenshot")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()
	return cliOptions{
		task:        strings.TrimSpace(*task),
		backend:     strings.TrimSpace(*backend),
		headed:      *headed,
		screenshots: *screenshots,
		adaptations: *adaptations,
		timeout:     *timeout,
		out:         strings.TrimSpace(*out),
		screenshot:  strings.TrimSpace(*screenshot),
		debug:       *debug,
	}
}

func newBackend(ctx context.Context, opts cliOptions) (browser.Backend, error) {
	if opts.backend == "" && !opts.headed {
		return browser.FromEnv(ctx)
	}
	name := opts.backend
	if name == "" {
		// -headed alone overrides only headedness; the backend still
		// comes from the environment.
		name = os.Getenv("WEBPILOT_BROWSER")
	}
	return browser.New(ctx, name, browser.Config{Headless: !opts.headed})
}

func promptTask() (string, bool, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter a task (leave empty to cancel): ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", true, nil
	}

	const maxTaskLength = 2000
	if len(line) > maxTaskLength {
		fmt.Printf("Task too long (max %d characters), truncated\n", maxTaskLength)
		line = line[:maxTaskLength]
	}

	var sanitized strings.Builder
	for _, r := range line {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String(), false, nil
}

func printResult(res agent.TaskResult) {
	fmt.Printf("\n=== Task %s ===\n", res.TaskID)
	fmt.Printf("Success:  %t\n", res.Success)
	fmt.Printf("Steps:    %d\n", len(res.Steps))
	fmt.Printf("Duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.Usage.TotalTokens > 0 {
		fmt.Printf("Tokens:   %d prompt / %d completion\n", res.Usage.PromptTokens, res.Usage.CompletionTokens)
	}
	if res.Err != nil {
		fmt.Printf("Error:    %v\n", res.Err)
	}
	if res.Output != "" {
		fmt.Printf("\n%s\n", res.Output)
	}
}

func saveScreenshot(path string, res agent.TaskResult) {
	shot := lastScreenshot(res)
	if len(shot) == 0 {
		log.Warn().Msg("no screenshot captured")
		return
	}
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		log.Error().Err(err).Msg("save screenshot")
		return
	}
	log.Info().Str("path", path).Int("bytes", len(shot)).Msg("screenshot saved")
}

func lastScreenshot(res agent.TaskResult) []byte {
	if n := len(res.Screenshots); n > 0 {
		return res.Screenshots[n-1]
	}
	var shot []byte
	for _, s := range res.Steps {
		if len(s.PageStateAfter.Screenshot) > 0 {
			shot = s.PageStateAfter.Screenshot
		}
	}
	return shot
}

type taskReport struct {
	TaskID     string            `json:"taskId"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Output     string            `json:"output,omitempty"`
	Extracted  map[string]string `json:"extractedData,omitempty"`
	Steps      []stepReport      `json:"steps"`
	Prompt     int               `json:"promptTokens"`
	Completion int               `json:"completionTokens"`
	DurationMs int64             `json:"durationMs"`
}

type stepReport struct {
	Index       int    `json:"index"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Selector    string `json:"selector,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ErrKind     string `json:"errKind,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

func writeReport(path string, res agent.TaskResult) error {
	report := taskReport{
		TaskID:     res.TaskID,
		Success:    res.Success,
		Output:     res.Output,
		Extracted:  res.ExtractedData,
		Prompt:     res.Usage.PromptTokens,
		Completion: res.Usage.CompletionTokens,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	for _, s := range res.Steps {
		sr := stepReport{
			Index:       s.Index,
			Type:        string(s.Step.Type),
			Description: s.Step.Description,
			Selector:    s.SelectorUsed,
			Success:     s.Success,
			ErrKind:     string(s.ErrKind),
			DurationMs:  s.Duration.Milliseconds(),
		}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		report.Steps = append(report.Steps, sr)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
