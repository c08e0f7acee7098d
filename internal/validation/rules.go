// Package validation checks caller-supplied inputs before they reach any
// custody component.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/types"
)

// ValidationOptions holds the input limits
type ValidationOptions struct {
	// MaxNameLength bounds agent names (characters)
	MaxNameLength int

	// MaxMemoLength truncates intent and proposal memos (characters)
	MaxMemoLength int

	// MinPeriod and MaxPeriod bound the spending period (seconds)
	MinPeriod int64
	MaxPeriod int64
}

// DefaultValidationOptions returns the bank defaults
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxNameLength: 32,
		MaxMemoLength: 64,
		MinPeriod:     1,
		MaxPeriod:     365 * 24 * 3600,
	}
}

// Registration checks the inputs of registerAgent
func Registration(owner types.Identity, name string, limit uint64, period int64, opts ValidationOptions) error {
	if owner.IsZero() {
		return bankerr.New(bankerr.KindInvalidArgument, "owner is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return bankerr.New(bankerr.KindInvalidArgument, "agent name is required")
	}
	if n := utf8.RuneCountInString(name); n > opts.MaxNameLength {
		return bankerr.New(bankerr.KindInvalidArgument, "agent name is %d characters, max %d", n, opts.MaxNameLength)
	}
	if limit == 0 {
		return bankerr.New(bankerr.KindInvalidArgument, "spending limit must be positive")
	}
	if period < opts.MinPeriod || period > opts.MaxPeriod {
		return bankerr.New(bankerr.KindInvalidArgument, "period %ds outside [%d, %d]", period, opts.MinPeriod, opts.MaxPeriod)
	}
	return nil
}

// Amount rejects zero amounts
func Amount(amount uint64) error {
	if amount == 0 {
		return bankerr.New(bankerr.KindInvalidArgument, "amount must be positive")
	}
	return nil
}

// Destination rejects empty destinations and transfers back into the
// paying agent's own custody account
func Destination(dest, vault types.Identity) error {
	if dest.IsZero() {
		return bankerr.New(bankerr.KindInvalidArgument, "destination is required")
	}
	if dest == vault {
		return bankerr.New(bankerr.KindInvalidArgument, "destination is the agent's own custody account")
	}
	return nil
}

// DelegateExpiry accepts 0 (never expires) or a future unix time
func DelegateExpiry(validUntil, now int64) error {
	if validUntil != 0 && validUntil <= now {
		return bankerr.New(bankerr.KindInvalidArgument, "valid_until %d is not in the future", validUntil)
	}
	return nil
}

// Memo strips control characters and truncates to MaxMemoLength
func Memo(memo string, opts ValidationOptions) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, memo)
	cleaned = strings.TrimSpace(cleaned)

	if utf8.RuneCountInString(cleaned) > opts.MaxMemoLength {
		logrus.WithField("length", utf8.RuneCountInString(cleaned)).Debug("Memo truncated")
		cleaned = string([]rune(cleaned)[:opts.MaxMemoLength])
	}
	return cleaned
}
