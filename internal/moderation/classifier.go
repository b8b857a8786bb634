package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"debatelab/internal/config"
)

const defaultModerationURL = "https://api.openai.com/v1/moderations"

// ErrClassifierUnavailable marks the tier-1 endpoint as unreachable so the
// gate can fall through to the keyword tier.
var ErrClassifierUnavailable = errors.New("safety classifier unavailable")

// Classifier calls the provider's safety endpoint and reports categorical
// harmful-content flags.
type Classifier struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewClassifier(cfg config.ModerationConfig) *Classifier {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultModerationURL
	}
	model := cfg.Model
	if model == "" {
		model = "omni-moderation-latest"
	}
	return &Classifier{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether a credential is present at all.
func (c *Classifier) Configured() bool {
	return c != nil && c.apiKey != ""
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Classify returns whether the input was flagged and which categories hit.
// Any transport or decode problem comes back as ErrClassifierUnavailable.
func (c *Classifier) Classify(ctx context.Context, input string) (bool, []string, error) {
	if !c.Configured() {
		return false, nil, ErrClassifierUnavailable
	}
	payload, err := json.Marshal(moderationRequest{Model: c.model, Input: input})
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	var parsed moderationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if len(parsed.Results) == 0 {
		return false, nil, fmt.Errorf("%w: empty result", ErrClassifierUnavailable)
	}

	result := parsed.Results[0]
	var categories []string
	for name, hit := range result.Categories {
		if hit {
			categories = append(categories, name)
		}
	}
	return result.Flagged, categories, nil
}
