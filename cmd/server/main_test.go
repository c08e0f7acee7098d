package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/agent-bank/internal/config"
)

const testAdmin = "bank-admin"

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Bank.Admin = testAdmin
	cfg.Bank.ProtocolFeeBps = 100
	cfg.Server.EnableFaucet = true
	cfg.Server.IngressRPS = 0
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := NewServer(&cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// setupAgent funds alice's wallet, registers her agent and deposits
func setupAgent(t *testing.T, h http.Handler, limit, deposit uint64) {
	t.Helper()
	w := do(t, h, http.MethodPost, "/v1/wallets/alice/fund", "", map[string]uint64{"amount": deposit})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/v1/agents", "alice", map[string]interface{}{
		"name":            "trader",
		"spending_limit":  limit,
		"period_duration": 86400,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/v1/agents/alice/deposit", "alice", map[string]uint64{"amount": deposit})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestNewServer_RequiresAdmin(t *testing.T) {
	cfg := config.Default()
	_, err := NewServer(&cfg)
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	h := newTestServer(t).Handler()

	w := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", decode(t, w)["status"])
}

func TestHandleStatus(t *testing.T) {
	h := newTestServer(t).Handler()

	w := do(t, h, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "operational", body["status"])
	assert.Contains(t, body, "alerts")
	assert.Contains(t, body, "bank")
}

func TestAgentLifecycle(t *testing.T) {
	h := newTestServer(t).Handler()
	setupAgent(t, h, 1000, 2000)

	w := do(t, h, http.MethodGet, "/v1/agents/alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	agent := body["agent"].(map[string]interface{})
	assert.Equal(t, float64(2000), agent["total_deposited"])
	assert.Equal(t, float64(1600), agent["staked_amount"])
	assert.Equal(t, float64(2000), body["vault_balance"])

	w = do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{
		"amount":      500,
		"destination": "merchant",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	withdrawal := decode(t, w)["withdrawal"].(map[string]interface{})
	assert.Equal(t, float64(5), withdrawal["fee"])
	assert.Equal(t, float64(495), withdrawal["net"])
	assert.Equal(t, float64(500), withdrawal["remaining_limit"])

	w = do(t, h, http.MethodGet, "/v1/wallets/merchant", "", nil)
	assert.Equal(t, float64(495), decode(t, w)["balance"])

	w = do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{
		"amount":      600,
		"destination": "merchant",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "SpendingLimitExceeded", decode(t, w)["kind"])

	w = do(t, h, http.MethodGet, "/v1/agents/alice/events?limit=50", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())
}

func TestWithdraw_Errors(t *testing.T) {
	h := newTestServer(t).Handler()
	setupAgent(t, h, 1000, 2000)

	t.Run("missing caller", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "", map[string]interface{}{"amount": 1, "destination": "bob"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("stranger", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "mallory", map[string]interface{}{"amount": 1, "destination": "bob"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{"amount": 1, "to": "bob"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("burn address", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{
			"amount":      1,
			"destination": "0x0000000000000000000000000000000000000000",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode(t, w)
		assert.Equal(t, "SecurityCheckFailed", body["kind"])
		assert.Equal(t, float64(50), body["risk_score"])
	})

	t.Run("cooldown after denial", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{"amount": 1, "destination": "bob"})
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})
}

func TestPauseBlocksWithdraw(t *testing.T) {
	h := newTestServer(t).Handler()
	setupAgent(t, h, 1000, 2000)

	w := do(t, h, http.MethodPost, "/v1/bank/pause", "alice", map[string]interface{}{"paused": true, "reason": "maintenance"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, "/v1/bank/pause", testAdmin, map[string]interface{}{"paused": true, "reason": "maintenance"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["paused"])

	w = do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{"amount": 10, "destination": "bob"})
	assert.Equal(t, http.StatusLocked, w.Code)

	w = do(t, h, http.MethodGet, "/status", "", nil)
	assert.Equal(t, "paused", decode(t, w)["status"])

	w = do(t, h, http.MethodPost, "/v1/bank/pause", testAdmin, map[string]interface{}{"paused": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "alice", map[string]interface{}{"amount": 10, "destination": "bob"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestDelegateRoutes(t *testing.T) {
	h := newTestServer(t).Handler()
	setupAgent(t, h, 1000, 2000)

	w := do(t, h, http.MethodPost, "/v1/agents/alice/delegates", "alice", map[string]interface{}{
		"delegate":  "helper",
		"can_spend": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/v1/agents/alice/delegates", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "helper", list[0]["delegate"])

	w = do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "helper", map[string]interface{}{"amount": 100, "destination": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodDelete, "/v1/agents/alice/delegates/helper", "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodPost, "/v1/agents/alice/withdraw", "helper", map[string]interface{}{"amount": 100, "destination": "bob"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestYieldRoutes(t *testing.T) {
	h := newTestServer(t).Handler()
	setupAgent(t, h, 1000, 1000)

	w := do(t, h, http.MethodPut, "/v1/agents/alice/yield", "alice", map[string]interface{}{
		"condition":         map[string]interface{}{"kind": "balance_above", "threshold": 500},
		"venue":             "marinade",
		"deploy_percentage": 50,
		"enabled":           true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/v1/agents/alice/yield/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["would_trigger"])

	w = do(t, h, http.MethodPost, "/v1/agents/alice/yield/trigger", "keeper", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(400), decode(t, w)["deployed"])

	w = do(t, h, http.MethodPut, "/v1/agents/alice/yield", "alice", map[string]interface{}{
		"condition":         map[string]interface{}{"kind": "balance_above", "threshold": 0},
		"venue":             "nowhere",
		"deploy_percentage": 50,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGovernanceRoutes(t *testing.T) {
	h := newTestServer(t).Handler()

	w := do(t, h, http.MethodPost, "/v1/governance", testAdmin, map[string]interface{}{
		"admins":    []string{"a1", "a2"},
		"threshold": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/v1/wallets/donor/fund", "", map[string]uint64{"amount": 1000})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPost, "/v1/treasury/fund", "donor", map[string]uint64{"amount": 1000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1000), decode(t, w)["balance"])

	w = do(t, h, http.MethodPost, "/v1/proposals", "a1", map[string]interface{}{
		"destination": "grantee",
		"amount":      300,
		"memo":        "audit grant",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"]

	path := "/v1/proposals/" + jsonNumber(id)
	w = do(t, h, http.MethodPost, path+"/execute", "anyone", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodPost, path+"/vote", "a2", map[string]bool{"approve": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, path+"/vote", "a2", map[string]bool{"approve": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodPost, path+"/execute", "anyone", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/v1/treasury", "", nil)
	assert.Equal(t, float64(700), decode(t, w)["balance"])

	w = do(t, h, http.MethodGet, "/v1/proposals/99", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/v1/proposals/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFaucetDisabled(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.Server.EnableFaucet = false }).Handler()

	w := do(t, h, http.MethodPost, "/v1/wallets/alice/fund", "", map[string]uint64{"amount": 1})
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestIngressLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.Server.IngressRPS = 0.001
		c.Server.IngressBurst = 1
	}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
	w := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RateLimited", decode(t, w)["kind"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	do(t, h, http.MethodGet, "/health", "", nil)

	w := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "agent_bank_requests_total"))
	assert.True(t, strings.Contains(w.Body.String(), "agent_bank_paused"))
}

func jsonNumber(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
