package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envGeminiAPIKey    = "GEMINI_API_KEY"
	envGeminiModel     = "GEMINI_MODEL"
	defaultGeminiModel = "gemini-2.0-flash"

	geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"
)

type geminiClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewGeminiFromEnv(logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(os.Getenv(envGeminiAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envGeminiAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envGeminiModel))
	if model == "" {
		model = defaultGeminiModel
	}
	model = strings.Trim(model, "\"'")
	return &geminiClient{
		apiKey:  key,
		model:   model,
		baseURL: geminiAPIBase,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}, nil
}

func (c *geminiClient) Name() string { return c.model }

func (c *geminiClient) GenerateText(ctx context.Context, req Request) (Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Completion{}, errors.New("empty prompt")
	}
	req.Prompt = truncate(req.Prompt, maxRequestSize)
	req.System = truncate(req.System, maxRequestSize)

	payload := geminiPayload{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: geminiGenConfig{
			Temperature:     float64(req.Temperature),
			MaxOutputTokens: max(req.MaxTokens, defaultMaxTokens),
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			c.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying Gemini API call")
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return Completion{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if attempt < maxRetries {
				continue
			}
			break
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			if attempt < maxRetries {
				continue
			}
			break
		}

		if resp.StatusCode >= 400 {
			var apiResp geminiResponse
			if jerr := json.Unmarshal(data, &apiResp); jerr != nil || apiResp.Error == nil {
				lastErr = fmt.Errorf("gemini %d: %s", resp.StatusCode, preview(string(data), 500))
			} else {
				lastErr = fmt.Errorf("gemini %d: %s (status: %s)",
					resp.StatusCode, apiResp.Error.Message, apiResp.Error.Status)
			}
			c.logger.Error().
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Msg("Gemini API error")
			if retryable(resp.StatusCode) && attempt < maxRetries {
				continue
			}
			return Completion{}, lastErr
		}

		var apiResp geminiResponse
		if err := json.Unmarshal(data, &apiResp); err != nil {
			return Completion{}, fmt.Errorf("parse response: %w (raw: %s)", err, preview(string(data), 500))
		}
		if len(apiResp.Candidates) == 0 {
			return Completion{}, errors.New("no candidates in response")
		}

		var buf bytes.Buffer
		for _, part := range apiResp.Candidates[0].Content.Parts {
			buf.WriteString(part.Text)
		}
		if buf.Len() == 0 {
			return Completion{}, errors.New("empty response content")
		}

		c.logger.Debug().
			Int("response_length", buf.Len()).
			Int("prompt_tokens", apiResp.UsageMetadata.PromptTokenCount).
			Int("completion_tokens", apiResp.UsageMetadata.CandidatesTokenCount).
			Msg("Gemini API success")

		return Completion{
			Content: buf.String(),
			Usage: Usage{
				PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
				CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
			},
		}, nil
	}

	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type geminiPayload struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}
