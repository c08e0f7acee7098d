// Package keeper drives the bank's permissionless cranks (yield hook
// triggers and yield accrual) from outside the server process.
package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// callerHeader must match the server's identity header
const callerHeader = "X-Caller-Identity"

// Action is one of the cranks a keeper can turn
type Action string

// Keeper actions
const (
	ActionTrigger Action = "trigger"
	ActionAccrue  Action = "accrue"
)

// Outcome is the result of one crank call
type Outcome struct {
	Agent  string
	Action Action
	Status int
	// Kind is the bank error kind when the call was refused
	Kind string
	Body map[string]interface{}
}

// Succeeded reports a 2xx answer
func (o Outcome) Succeeded() bool {
	return o.Status >= 200 && o.Status < 300
}

// Client calls the bank server's crank endpoints
type Client struct {
	baseURL    string
	identity   string
	httpClient *http.Client
}

// NewClient creates a new keeper client. Transient failures (connection
// errors and 5xx answers) are retried up to retryMax times.
func NewClient(baseURL, identity string, timeout time.Duration, retryMax int) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		identity:   identity,
		httpClient: rc.StandardClient(),
	}
}

// Trigger runs the agent's yield hook
func (c *Client) Trigger(ctx context.Context, agent string) (Outcome, error) {
	return c.call(ctx, agent, ActionTrigger)
}

// Accrue pays the agent's pending staking yield
func (c *Client) Accrue(ctx context.Context, agent string) (Outcome, error) {
	return c.call(ctx, agent, ActionAccrue)
}

func (c *Client) call(ctx context.Context, agent string, action Action) (Outcome, error) {
	endpoint := fmt.Sprintf("%s/v1/agents/%s/yield/%s", c.baseURL, url.PathEscape(agent), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.identity != "" {
		req.Header.Set(callerHeader, c.identity)
	}

	logrus.Debugf("Calling %s for agent %s", action, agent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("error calling %s: %w", action, err)
	}
	defer resp.Body.Close()

	out := Outcome{Agent: agent, Action: action, Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("error reading response: %w", err)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out.Body); err != nil {
			return out, fmt.Errorf("error decoding response: %w", err)
		}
	}
	if !out.Succeeded() {
		if kind, ok := out.Body["kind"].(string); ok {
			out.Kind = kind
		}
	}
	return out, nil
}
