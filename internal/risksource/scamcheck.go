package risksource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/types"
)

// ScamCheckClient implements a client for a scam-detection API
type ScamCheckClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// NewScamCheckClient creates a new scam-detection client
func NewScamCheckClient(opts HTTPOptions) *ScamCheckClient {
	return &ScamCheckClient{
		baseURL:    opts.BaseURL,
		httpClient: newRetryClient(opts.RetryMax),
		apiKey:     opts.APIKey,
	}
}

// Name returns "scam_check"
func (c *ScamCheckClient) Name() string { return "scam_check" }

// Check asks the API whether addr is a known scam
func (c *ScamCheckClient) Check(ctx context.Context, addr types.Identity) (Verdict, error) {
	endpoint := c.baseURL + "/v1/address/" + url.PathEscape(addr.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("error creating request: %w", err)
	}
	setHeaders(req, c.apiKey)

	logrus.Debugf("Checking %s against scam API: %s", addr, c.baseURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("error querying scam API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, fmt.Errorf("scam API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var response struct {
		IsScam    bool   `json:"is_scam"`
		Reason    string `json:"reason"`
		RiskScore int    `json:"risk_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return Verdict{}, fmt.Errorf("error decoding response: %w", err)
	}

	if response.IsScam {
		detail := "flagged as scam"
		if response.Reason != "" {
			detail += ": " + response.Reason
		}
		return Verdict{Detail: detail, RiskScore: response.RiskScore}, nil
	}
	return Verdict{Passed: true, Detail: "not a known scam", RiskScore: response.RiskScore}, nil
}
