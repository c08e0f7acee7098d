package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/types"
)

// Helper functions for request parsing and error responses

// CallerHeader carries the identity the request acts as
const CallerHeader = "X-Caller-Identity"

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error             string `json:"error"`
	Kind              string `json:"kind"`
	Class             string `json:"class"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	RiskScore         int    `json:"risk_score,omitempty"`
	PauseReason       string `json:"pause_reason,omitempty"`
}

// callerIdentity reads the caller header
func callerIdentity(r *http.Request) (types.Identity, error) {
	id, err := types.ParseIdentity(r.Header.Get(CallerHeader))
	if err != nil {
		return "", fmt.Errorf("missing %s header", CallerHeader)
	}
	return id, nil
}

// pathIdentity parses an identity path segment
func pathIdentity(r *http.Request, name string) (types.Identity, error) {
	id, err := types.ParseIdentity(r.PathValue(name))
	if err != nil {
		return "", bankerr.New(bankerr.KindInvalidArgument, "invalid %s", name)
	}
	return id, nil
}

// pathUint parses an unsigned path segment
func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, bankerr.New(bankerr.KindInvalidArgument, "invalid %s", name)
	}
	return v, nil
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return bankerr.New(bankerr.KindInvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

// writeJSON sends v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("Failed to write response: %v", err)
	}
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind bankerr.Kind) int {
	switch kind {
	case bankerr.KindUnauthorized:
		return http.StatusForbidden
	case bankerr.KindNotFound:
		return http.StatusNotFound
	case bankerr.KindInvalidArgument:
		return http.StatusBadRequest
	case bankerr.KindAlreadyExists, bankerr.KindAlreadyVoted, bankerr.KindNotInitialized,
		bankerr.KindProposalNotPending, bankerr.KindProposalExpired, bankerr.KindProposalNotApproved:
		return http.StatusConflict
	case bankerr.KindSpendingLimitExceeded, bankerr.KindInsufficientFunds, bankerr.KindInsufficientTreasuryFunds,
		bankerr.KindHookDisabled, bankerr.KindHookConditionNotMet, bankerr.KindInvalidPercentage,
		bankerr.KindSecurityCheckFailed:
		return http.StatusUnprocessableEntity
	case bankerr.KindBankPaused:
		return http.StatusLocked
	case bankerr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse writes err with the status its kind maps to
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	kind := bankerr.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Error: err.Error(), Kind: kind.String(), Class: kind.Class().String()}

	if be, ok := bankerr.As(err); ok {
		body.RiskScore = be.RiskScore
		body.PauseReason = be.Reason
		if be.RetryAfter > 0 {
			body.RetryAfterSeconds = retryAfterSeconds(be.RetryAfter)
			w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfterSeconds, 10))
		}
	}

	if status >= http.StatusInternalServerError {
		logrus.Errorf("Request failed: %v", err)
	} else {
		logrus.Debugf("Request rejected: %v", err)
	}
	writeJSON(w, status, body)
}

// unauthenticated answers requests without a caller identity
func (s *Server) unauthenticated(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, errorBody{
		Error: err.Error(),
		Kind:  bankerr.KindUnauthorized.String(),
		Class: bankerr.KindUnauthorized.Class().String(),
	})
}

// retryAfterSeconds rounds up so clients never retry early
func retryAfterSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
