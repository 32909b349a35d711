package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCloudflareModel = "@cf/meta/llama-3.1-8b-instruct"

// CloudflareSummarizer condenses text with Cloudflare Workers AI.
type CloudflareSummarizer struct {
	accountID  string
	apiToken   string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

// NewCloudflareSummarizer creates a Workers AI summarizer.
func NewCloudflareSummarizer(accountID, apiToken, model string, maxTokens int) *CloudflareSummarizer {
	if model == "" {
		model = defaultCloudflareModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &CloudflareSummarizer{
		accountID: accountID,
		apiToken:  apiToken,
		model:     model,
		baseURL:   "https://api.cloudflare.com/client/v4",
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Summarize condenses text into a short digest.
func (s *CloudflareSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	reqBody := map[string]interface{}{
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": text},
		},
		"max_tokens": s.maxTokens,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", s.baseURL, s.accountID, s.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: Workers AI status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var result struct {
		Success bool     `json:"success"`
		Errors  []string `json:"errors"`
		Result  struct {
			Response string `json:"response"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("%w: Workers AI reported failure: %v", ErrUnavailable, result.Errors)
	}

	summary := strings.TrimSpace(result.Result.Response)
	if summary == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return summary, nil
}
