// Package risksource provides the adapters that judge a withdrawal
// destination. Each adapter answers one question about one address and
// knows nothing about scoring or policy; the riskgate pipeline owns those.
package risksource

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/agent-bank/internal/types"
)

// Verdict is one source's opinion of an address
type Verdict struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`

	// RiskScore is the source's own 0-100 estimate when it provides one
	RiskScore int `json:"risk_score,omitempty"`
}

// Source defines the interface that all risk check adapters must implement
type Source interface {
	// Name identifies the source in results and metrics
	Name() string

	// Check judges addr. An error means the source could not answer; it is
	// not a failed check.
	Check(ctx context.Context, addr types.Identity) (Verdict, error)
}

// HTTPOptions configures the remote adapters
type HTTPOptions struct {
	BaseURL  string
	APIKey   string
	RetryMax int
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(retryMax int) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.Logger = nil
	return c.StandardClient()
}

func setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
