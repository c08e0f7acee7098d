package riskgate

import (
	"fmt"
	"strings"
)

// FailurePolicy decides how a source error or timeout counts
type FailurePolicy int

const (
	// FailClosed treats an unavailable source as a failed check
	FailClosed FailurePolicy = iota
	// FailOpen treats an unavailable source as passed and marks it skipped
	FailOpen
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "open"
	}
	return "closed"
}

// ParseFailurePolicy accepts "open"/"fail-open" and "closed"/"fail-closed"
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "fail-open", "fail_open":
		return FailOpen, nil
	case "", "closed", "fail-closed", "fail_closed":
		return FailClosed, nil
	default:
		return FailClosed, fmt.Errorf("unknown failure policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (p FailurePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *FailurePolicy) UnmarshalText(b []byte) error {
	parsed, err := ParseFailurePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
