// Package bankerr defines the error taxonomy shared by every custody operation.
//
// Every failing call returns a *Error carrying a Kind. Callers branch on the
// kind (or its Class) rather than on message text:
//
//	if errors.Is(err, bankerr.ErrSpendingLimitExceeded) { ... }
//	if bankerr.KindOf(err).Class() == bankerr.ClassRetryLater { ... }
package bankerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a failure category
type Kind int

// Error kinds
const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindSpendingLimitExceeded
	KindInsufficientFunds
	KindBankPaused
	KindHookDisabled
	KindHookConditionNotMet
	KindInvalidPercentage
	KindProposalNotPending
	KindProposalExpired
	KindProposalNotApproved
	KindInsufficientTreasuryFunds
	KindRateLimited
	KindSecurityCheckFailed
	KindNotFound
	KindAlreadyExists
	KindInvalidArgument
	KindAlreadyVoted
	KindNotInitialized
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:                   "Unknown",
	KindUnauthorized:              "Unauthorized",
	KindSpendingLimitExceeded:     "SpendingLimitExceeded",
	KindInsufficientFunds:         "InsufficientFunds",
	KindBankPaused:                "BankPaused",
	KindHookDisabled:              "HookDisabled",
	KindHookConditionNotMet:       "HookConditionNotMet",
	KindInvalidPercentage:         "InvalidPercentage",
	KindProposalNotPending:        "ProposalNotPending",
	KindProposalExpired:           "ProposalExpired",
	KindProposalNotApproved:       "ProposalNotApproved",
	KindInsufficientTreasuryFunds: "InsufficientTreasuryFunds",
	KindRateLimited:               "RateLimited",
	KindSecurityCheckFailed:       "SecurityCheckFailed",
	KindNotFound:                  "NotFound",
	KindAlreadyExists:             "AlreadyExists",
	KindInvalidArgument:           "InvalidArgument",
	KindAlreadyVoted:              "AlreadyVoted",
	KindNotInitialized:            "NotInitialized",
	KindInternal:                  "Internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Class tells a caller what to do about a failure
type Class int

const (
	// ClassPermanent will never succeed as specified
	ClassPermanent Class = iota
	// ClassRetryLater succeeds after a concrete wait (see Error.RetryAfter)
	ClassRetryLater
	// ClassConditional succeeds once external conditions change
	// (next period, admin action, more funds, hook condition)
	ClassConditional
	// ClassFatal is a non-recoverable inconsistency
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRetryLater:
		return "retry_later"
	case ClassConditional:
		return "conditional"
	case ClassFatal:
		return "fatal"
	default:
		return "permanent"
	}
}

// Class returns the retry class for the kind
func (k Kind) Class() Class {
	switch k {
	case KindRateLimited:
		return ClassRetryLater
	case KindSpendingLimitExceeded, KindBankPaused, KindInsufficientFunds,
		KindInsufficientTreasuryFunds, KindHookConditionNotMet, KindHookDisabled,
		KindSecurityCheckFailed, KindProposalNotApproved, KindNotInitialized:
		return ClassConditional
	case KindInternal:
		return ClassFatal
	default:
		return ClassPermanent
	}
}

// Error is the concrete error type returned by custody operations
type Error struct {
	Kind Kind
	Msg  string

	// Reason carries the pause reason for BankPaused
	Reason string

	// RetryAfter is set for RateLimited
	RetryAfter time.Duration

	// RiskScore is set for SecurityCheckFailed
	RiskScore int
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindBankPaused && e.Reason != "":
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Reason, e.msg())
	case e.Kind == KindRateLimited:
		return fmt.Sprintf("%s: %s (retry after %s)", e.Kind, e.msg(), e.RetryAfter)
	case e.Kind == KindSecurityCheckFailed:
		return fmt.Sprintf("%s: %s (risk score %d)", e.Kind, e.msg(), e.RiskScore)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.msg())
	}
}

func (e *Error) msg() string {
	if e.Msg == "" {
		return "operation rejected"
	}
	return e.Msg
}

// Is matches any *Error of the same kind, which lets the package sentinels
// work with errors.Is regardless of message or payload.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrUnauthorized              = &Error{Kind: KindUnauthorized}
	ErrSpendingLimitExceeded     = &Error{Kind: KindSpendingLimitExceeded}
	ErrInsufficientFunds         = &Error{Kind: KindInsufficientFunds}
	ErrBankPaused                = &Error{Kind: KindBankPaused}
	ErrHookDisabled              = &Error{Kind: KindHookDisabled}
	ErrHookConditionNotMet       = &Error{Kind: KindHookConditionNotMet}
	ErrInvalidPercentage         = &Error{Kind: KindInvalidPercentage}
	ErrProposalNotPending        = &Error{Kind: KindProposalNotPending}
	ErrProposalExpired           = &Error{Kind: KindProposalExpired}
	ErrProposalNotApproved       = &Error{Kind: KindProposalNotApproved}
	ErrInsufficientTreasuryFunds = &Error{Kind: KindInsufficientTreasuryFunds}
	ErrRateLimited               = &Error{Kind: KindRateLimited}
	ErrSecurityCheckFailed       = &Error{Kind: KindSecurityCheckFailed}
	ErrNotFound                  = &Error{Kind: KindNotFound}
	ErrAlreadyExists             = &Error{Kind: KindAlreadyExists}
	ErrInvalidArgument           = &Error{Kind: KindInvalidArgument}
	ErrAlreadyVoted              = &Error{Kind: KindAlreadyVoted}
	ErrNotInitialized            = &Error{Kind: KindNotInitialized}
	ErrInternal                  = &Error{Kind: KindInternal}
)

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Paused creates a BankPaused error carrying the pause reason
func Paused(reason string) *Error {
	return &Error{Kind: KindBankPaused, Msg: "fund movement is halted", Reason: reason}
}

// RateLimited creates a RateLimited error with a concrete wait
func RateLimited(retryAfter time.Duration, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRateLimited, Msg: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

// SecurityCheckFailed creates a risk-gating denial
func SecurityCheckFailed(detail string, riskScore int) *Error {
	return &Error{Kind: KindSecurityCheckFailed, Msg: detail, RiskScore: riskScore}
}

// KindOf extracts the kind of err, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As extracts the *Error from err
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
