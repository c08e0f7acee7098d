package model

import "time"

// CheckResult is the outcome of one risk source for one destination
type CheckResult struct {
	Source string `json:"source"`
	Passed bool   `json:"passed"`

	// Skipped is set when the source failed and its fail-open policy let it pass
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail"`

	// Penalty is the score contribution (0 when passed)
	Penalty int `json:"penalty"`

	// SourceRiskScore is the source's own 0-100 estimate, when it gave one
	SourceRiskScore int           `json:"source_risk_score,omitempty"`
	Latency         time.Duration `json:"latency"`
}

// SecurityCheckResult aggregates every risk source for a withdrawal
type SecurityCheckResult struct {
	Approved      bool          `json:"approved"`
	Checks        []CheckResult `json:"checks"`
	RiskScore     int           `json:"risk_score"`
	BlockedReason string        `json:"blocked_reason,omitempty"`
}
