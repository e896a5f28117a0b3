package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	backendEnv  = "WEBPILOT_BROWSER"
	headlessEnv = "WEBPILOT_HEADLESS"
)

// New builds the backend with the given name: "playwright" (also the
// default for an empty name) or "chromedp".
func New(ctx context.Context, name string, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "playwright":
		return NewPlaywright(ctx, cfg)
	case "chromedp", "chrome", "cdp":
		return NewChromedp(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown browser backend %q", name)
	}
}

// FromEnv builds the backend named by WEBPILOT_BROWSER. Headless mode
// comes from WEBPILOT_HEADLESS and defaults to on.
func FromEnv(ctx context.Context) (Backend, error) {
	cfg := Config{Headless: parseBoolEnv(headlessEnv, true)}
	return New(ctx, os.Getenv(backendEnv), cfg)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
