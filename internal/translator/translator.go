// Package translator turns a free-text natural-language query into candidate
// search parameters by calling an OpenAI-compatible chat completion endpoint
// and validating the structured output.
package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gbif-nl-search/internal/common/logger"
	"gbif-nl-search/internal/common/metrics"
	"gbif-nl-search/internal/common/retry"
	"gbif-nl-search/internal/schema"
)

var (
	ErrTranslationFailed  = errors.New("TRANSLATION_FAILED")
	ErrTranslationTimeout = errors.New("TRANSLATION_TIMEOUT")
)

// Translator extracts candidate search parameters from a user query.
type Translator interface {
	Translate(ctx context.Context, query string) (*schema.CandidateParameters, error)
}

const systemPrompt = `You extract structured search parameters from natural-language queries about museum specimen records.

Respond with a JSON object containing only the fields the query clearly mentions, chosen from:

%s

Omit every field the query does not mention. Do not guess values. Respond with JSON only, no prose.`

// Config holds the settings for the OpenAI translator.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAITranslator implements Translator against the chat completions API.
type OpenAITranslator struct {
	config     Config
	httpClient *http.Client
	logger     logger.Logger
	retry      retry.Policy
}

func New(cfg Config, log logger.Logger) *OpenAITranslator {
	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}

	return &OpenAITranslator{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
		retry:  policy,
	}
}

// Translate sends the query to the model and validates the returned JSON
// against the parameter schema. Call failures, unparseable output, and
// schema-invalid output all consume the same retry budget: a flaky model is
// re-asked before the translation is declared failed.
func (t *OpenAITranslator) Translate(ctx context.Context, query string) (*schema.CandidateParameters, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		metrics.TranslationsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: empty query", ErrTranslationFailed)
	}

	var params *schema.CandidateParameters
	err := t.retry.Do(ctx, func(ctx context.Context) error {
		content, err := t.complete(ctx, query)
		if err != nil {
			return err
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(stripCodeFences(content)), &raw); err != nil {
			t.logger.Warn("model returned non-JSON content, re-asking", map[string]interface{}{
				"error": err.Error(),
			})
			return fmt.Errorf("model output is not a JSON object: %w", err)
		}

		p, err := schema.ValidateRaw(raw)
		if err != nil {
			t.logger.Warn("model output failed schema validation, re-asking", map[string]interface{}{
				"error": err.Error(),
			})
			return fmt.Errorf("model output rejected: %w", err)
		}

		params = p
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.TranslationsTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTranslationTimeout, err)
		}
		status := "error"
		if errors.Is(err, schema.ErrValidation) {
			status = "invalid"
		}
		metrics.TranslationsTotal.WithLabelValues(status).Inc()
		return nil, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}

	metrics.TranslationsTotal.WithLabelValues("success").Inc()
	return params, nil
}

// complete performs a single chat completion call. The request body is built
// fresh on every attempt so a retried call never reuses a consumed reader.
func (t *OpenAITranslator) complete(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: t.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, schema.FieldGuide)},
			{Role: "user", Content: query},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("completion API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(apiErr)
		}
		return "", apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", retry.Permanent(fmt.Errorf("completion API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", retry.Permanent(errors.New("completion response has no choices"))
	}

	return parsed.Choices[0].Message.Content, nil
}

// stripCodeFences removes a markdown fence around the model output, which
// some models emit even in JSON mode.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
