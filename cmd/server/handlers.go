package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yourorg/agent-bank/internal/audit"
	"github.com/yourorg/agent-bank/internal/bank"
	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/security"
	"github.com/yourorg/agent-bank/internal/types"
)

type registerAgentRequest struct {
	Name           string `json:"name"`
	SpendingLimit  uint64 `json:"spending_limit"`
	PeriodDuration int64  `json:"period_duration"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type withdrawRequest struct {
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
}

type withdrawResponse struct {
	Withdrawal bank.Withdrawal   `json:"withdrawal"`
	Receipt    *security.Receipt `json:"receipt,omitempty"`
}

type intentRequest struct {
	Amount        uint64 `json:"amount"`
	Memo          string `json:"memo"`
	ExecutionTime *int64 `json:"execution_time,omitempty"`
}

type delegateRequest struct {
	Delegate       string `json:"delegate"`
	CanSpend       bool   `json:"can_spend"`
	CanManageYield bool   `json:"can_manage_yield"`
	ValidUntil     int64  `json:"valid_until"`
}

type yieldRequest struct {
	Condition        model.HookCondition `json:"condition"`
	Venue            string              `json:"venue"`
	DeployPercentage uint8               `json:"deploy_percentage"`
	Enabled          bool                `json:"enabled"`
}

type pauseRequest struct {
	Paused bool              `json:"paused"`
	Reason model.PauseReason `json:"reason"`
}

type thresholdRequest struct {
	Threshold uint32 `json:"threshold"`
}

type governanceRequest struct {
	Admins    []string `json:"admins"`
	Threshold uint8    `json:"threshold"`
}

type proposalRequest struct {
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
	Memo        string `json:"memo"`
}

type voteRequest struct {
	Approve bool `json:"approve"`
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.svc.BankConfig()
	status := "operational"
	if cfg.Paused {
		status = "paused"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"uptime":           time.Since(s.startTime).String(),
		"version":          version,
		"bank":             cfg,
		"treasury_balance": s.svc.TreasuryBalance(),
		"alerts":           s.notifier.Status(),
		"configuration": map[string]interface{}{
			"risk_sources":  len(s.config.RiskSources),
			"rate_limit":    s.config.RateLimit,
			"audit_sqlite":  s.config.Audit.SQLitePath != "",
			"faucet":        s.config.Server.EnableFaucet,
			"proposal_ttl":  s.config.Governance.ProposalTTL.String(),
			"suspicious_at": s.config.Bank.SuspiciousRiskScore,
		},
	})
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	var req registerAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	agent, err := s.svc.RegisterAgent(r.Context(), caller, req.Name, req.SpendingLimit, req.PeriodDuration)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	agent, err := s.svc.Agent(owner)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":         agent,
		"vault_balance": s.svc.VaultBalance(owner),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	agent, err := s.svc.Deposit(r.Context(), caller, owner, req.Amount)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	dest, err := types.ParseIdentity(req.Destination)
	if err != nil {
		s.errorResponse(w, bankerr.New(bankerr.KindInvalidArgument, "destination is required"))
		return
	}

	withdrawal, receipt, err := s.svc.Withdraw(r.Context(), caller, owner, req.Amount, dest)
	if err != nil {
		s.metrics.withdrawals.WithLabelValues(bankerr.KindOf(err).String()).Inc()
		s.errorResponse(w, err)
		return
	}
	s.metrics.withdrawals.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, withdrawResponse{Withdrawal: withdrawal, Receipt: receipt})
}

func (s *Server) handleValidateIntent(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var req intentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	intent, err := s.svc.ValidateIntent(owner, req.Amount, req.Memo, req.ExecutionTime)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleRateLimitCheck(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var amount uint64
	if v := r.URL.Query().Get("amount"); v != "" {
		if amount, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.errorResponse(w, bankerr.New(bankerr.KindInvalidArgument, "invalid amount"))
			return
		}
	}
	d := s.svc.RateLimitCheck(owner, amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":             d.Allowed,
		"reason":              d.Reason,
		"retry_after_seconds": retryAfterSeconds(d.RetryAfter),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	f := audit.Filter{Agent: owner, Type: audit.EventType(r.URL.Query().Get("type")), Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	events, err := s.svc.Events(r.Context(), f)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListDelegates(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	delegates, err := s.svc.ListDelegates(owner)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delegates)
}

func (s *Server) handleAddDelegate(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	var req delegateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	delegate, err := types.ParseIdentity(req.Delegate)
	if err != nil {
		s.errorResponse(w, bankerr.New(bankerr.KindInvalidArgument, "delegate is required"))
		return
	}
	rec, err := s.svc.AddDelegate(r.Context(), caller, owner, delegate, req.CanSpend, req.CanManageYield, req.ValidUntil)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRemoveDelegate(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	delegate, err := pathIdentity(r, "delegate")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.svc.RemoveDelegate(r.Context(), caller, owner, delegate); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigureYield(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	var req yieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	venue, err := model.ParseVenue(req.Venue)
	if err != nil {
		s.errorResponse(w, bankerr.New(bankerr.KindInvalidArgument, "%v", err))
		return
	}
	strategy, err := s.svc.ConfigureYieldStrategy(r.Context(), caller, owner, req.Condition, venue, req.DeployPercentage, req.Enabled)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleHookStatus(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	status, err := s.svc.HookStatus(owner)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTriggerYield is permissionless; the caller header is only journaled
func (s *Server) handleTriggerYield(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	caller, _ := callerIdentity(r)
	res, err := s.svc.TriggerYieldHook(r.Context(), caller, owner)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAccrueYield is permissionless; the caller header is only journaled
func (s *Server) handleAccrueYield(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	caller, _ := callerIdentity(r)
	acc, err := s.svc.AccrueYield(r.Context(), caller, owner)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleBankConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.BankConfig())
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	var req pauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	cfg, err := s.svc.TogglePause(r.Context(), caller, req.Paused, req.Reason)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleResetSuspicious(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	cfg, err := s.svc.ResetSuspiciousActivityCount(caller)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetAutoPauseThreshold(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	var req thresholdRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	cfg, err := s.svc.SetAutoPauseThreshold(caller, req.Threshold)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleInitializeGovernance(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	var req governanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	admins := make([]types.Identity, 0, len(req.Admins))
	for _, a := range req.Admins {
		id, err := types.ParseIdentity(a)
		if err != nil {
			s.errorResponse(w, bankerr.New(bankerr.KindInvalidArgument, "admin identities must not be empty"))
			return
		}
		admins = append(admins, id)
	}
	reg, err := s.svc.InitializeGovernance(r.Context(), caller, admins, req.Threshold)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleAdminRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.svc.AdminRegistry()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.svc.TreasuryBalance()})
}

func (s *Server) handleFundTreasury(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	balance, err := s.svc.FundTreasury(r.Context(), caller, req.Amount)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	var req proposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	dest, err := types.ParseIdentity(req.Destination)
	if err != nil {
		s.errorResponse(w, bankerr.New(bankerr.KindInvalidArgument, "destination is required"))
		return
	}
	p, err := s.svc.CreateProposal(r.Context(), caller, dest, req.Amount, req.Memo)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.svc.Proposals()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	p, err := s.svc.Proposal(id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	p, err := s.svc.Vote(r.Context(), caller, id, req.Approve)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleExecuteProposal is permissionless; the caller header is only journaled
func (s *Server) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	caller, _ := callerIdentity(r)
	p, err := s.svc.ExecuteProposal(r.Context(), caller, id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := pathIdentity(r, "wallet")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":  wallet,
		"balance": s.custody.WalletBalance(wallet),
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	wallet, err := pathIdentity(r, "wallet")
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.custody.Fund(wallet, req.Amount); err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":  wallet,
		"balance": s.custody.WalletBalance(wallet),
	})
}

// callerAndOwner reads the caller header and the owner path segment,
// answering the request itself when either is missing
func (s *Server) callerAndOwner(w http.ResponseWriter, r *http.Request) (types.Identity, types.Identity, bool) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.unauthenticated(w, err)
		return "", "", false
	}
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		s.errorResponse(w, err)
		return "", "", false
	}
	return caller, owner, true
}
