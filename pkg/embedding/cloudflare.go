package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	cloudflareModel     = "@cf/baai/bge-m3"
	cloudflareDimension = 1024
)

// CloudflareProvider generates embeddings with Cloudflare Workers AI
// (bge-m3, 1024 dimensions).
type CloudflareProvider struct {
	accountID  string
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

// NewCloudflareProvider creates a Workers AI embedding provider.
func NewCloudflareProvider(accountID, apiToken string) *CloudflareProvider {
	return &CloudflareProvider{
		accountID: accountID,
		apiToken:  apiToken,
		baseURL:   "https://api.cloudflare.com/client/v4",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *CloudflareProvider) Dimension() int {
	return cloudflareDimension
}

func (p *CloudflareProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"text": texts,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", p.baseURL, p.accountID, cloudflareModel)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Workers AI: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if permanentStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: Workers AI status %d: %s", ErrRejected, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("Workers AI error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool     `json:"success"`
		Errors  []string `json:"errors"`
		Result  struct {
			Data [][]float32 `json:"data"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: Workers AI reported failure: %v", ErrRejected, result.Errors)
	}

	return result.Result.Data, nil
}

// permanentStatus reports whether an HTTP status indicates a permanent
// failure. 408 and 429 stay retryable.
func permanentStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
