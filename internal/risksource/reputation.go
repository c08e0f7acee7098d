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

// DefaultMinReputation is the lowest passing reputation score
const DefaultMinReputation = 50

// ReputationClient implements a client for an address reputation API.
// Addresses pass when their score (0-100, higher is better) reaches MinScore.
type ReputationClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	minScore   int
}

// NewReputationClient creates a new reputation client
func NewReputationClient(opts HTTPOptions, minScore int) *ReputationClient {
	if minScore <= 0 {
		minScore = DefaultMinReputation
	}
	return &ReputationClient{
		baseURL:    opts.BaseURL,
		httpClient: newRetryClient(opts.RetryMax),
		apiKey:     opts.APIKey,
		minScore:   minScore,
	}
}

// Name returns "reputation"
func (c *ReputationClient) Name() string { return "reputation" }

// Check fetches the reputation score of addr
func (c *ReputationClient) Check(ctx context.Context, addr types.Identity) (Verdict, error) {
	endpoint := c.baseURL + "/v1/reputation/" + url.PathEscape(addr.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("error creating request: %w", err)
	}
	setHeaders(req, c.apiKey)

	logrus.Debugf("Fetching reputation of %s from %s", addr, c.baseURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("error querying reputation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, fmt.Errorf("reputation API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Score int      `json:"score"`
		Tags  []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return Verdict{}, fmt.Errorf("error decoding response: %w", err)
	}
	if response.Score < 0 || response.Score > 100 {
		return Verdict{}, fmt.Errorf("reputation score %d out of range", response.Score)
	}

	v := Verdict{
		Passed:    response.Score >= c.minScore,
		RiskScore: 100 - response.Score,
	}
	if v.Passed {
		v.Detail = fmt.Sprintf("reputation %d", response.Score)
	} else {
		v.Detail = fmt.Sprintf("reputation %d below %d", response.Score, c.minScore)
	}
	return v, nil
}
