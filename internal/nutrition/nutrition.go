// Package nutrition looks up nutrition facts for a food label through the
// Nutritionix natural-language nutrients API.
package nutrition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Brownie44l1/food-ai-api/internal/upstream"
)

const (
	// DefaultBaseURL is the Nutritionix track API.
	DefaultBaseURL = "https://trackapi.nutritionix.com"

	nutrientsPath = "/v2/natural/nutrients"
	serviceName   = "nutrition"
	maxErrorBody  = 512
)

// Facts holds the nutrition values of the first matching food. Nil fields
// were absent in the source data. A Facts without a match encodes as {}.
type Facts struct {
	Calories *float64
	Protein  *float64
	Fat      *float64
	Carbs    *float64
	Found    bool
}

// MarshalJSON encodes matched facts with all four keys (null when absent)
// and unmatched facts as an empty object.
func (f Facts) MarshalJSON() ([]byte, error) {
	if !f.Found {
		return []byte("{}"), nil
	}
	return json.Marshal(struct {
		Calories *float64 `json:"calories"`
		Protein  *float64 `json:"protein"`
		Fat      *float64 `json:"fat"`
		Carbs    *float64 `json:"carbs"`
	}{f.Calories, f.Protein, f.Fat, f.Carbs})
}

// Config holds Nutritionix credentials and endpoint.
type Config struct {
	BaseURL string
	AppID   string
	APIKey  string
	Timeout time.Duration
}

// Client queries Nutritionix. It is safe for concurrent use.
type Client struct {
	baseURL    string
	appID      string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client. Missing credentials are not checked here; the
// API rejects them on first use.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		appID:      cfg.AppID,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type nutrientsRequest struct {
	Query string `json:"query"`
}

type nutrientsResponse struct {
	Foods []struct {
		Calories          *float64 `json:"nf_calories"`
		Protein           *float64 `json:"nf_protein"`
		TotalFat          *float64 `json:"nf_total_fat"`
		TotalCarbohydrate *float64 `json:"nf_total_carbohydrate"`
	} `json:"foods"`
}

// Lookup sends label as a free-text query and returns the first match's
// facts. Zero matches yield empty Facts and a nil error. Non-200 responses
// return an *upstream.StatusError; Nutritionix answers 404 when nothing in
// the query matched, which is reported as zero matches.
func (c *Client) Lookup(ctx context.Context, label string) (Facts, error) {
	body, err := json.Marshal(nutrientsRequest{Query: label})
	if err != nil {
		return Facts{}, fmt.Errorf("failed to encode nutrition query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+nutrientsPath, bytes.NewReader(body))
	if err != nil {
		return Facts{}, fmt.Errorf("failed to create nutrition request: %w", err)
	}
	req.Header.Set("x-app-id", c.appID)
	req.Header.Set("x-app-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Facts{}, fmt.Errorf("nutrition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Facts{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Facts{}, &upstream.StatusError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var parsed nutrientsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Facts{}, fmt.Errorf("failed to decode nutrition response: %w", err)
	}
	if len(parsed.Foods) == 0 {
		return Facts{}, nil
	}

	f := parsed.Foods[0]
	return Facts{
		Calories: f.Calories,
		Protein:  f.Protein,
		Fat:      f.TotalFat,
		Carbs:    f.TotalCarbohydrate,
		Found:    true,
	}, nil
}
