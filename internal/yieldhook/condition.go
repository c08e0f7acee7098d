package yieldhook

import (
	"fmt"
	"math/big"

	"github.com/yourorg/agent-bank/internal/model"
)

// YieldAPYPercent is the annual rate paid on staked funds
const YieldAPYPercent = 5

// secondsPerYearTimes100 folds the percent divisor into a 365-day year
const secondsPerYearTimes100 = 365 * 24 * 3600 * 100

// AgentState is the stored state a condition is evaluated against
type AgentState struct {
	Now int64

	// EligibleBalance is what a trigger may deploy: the staked share still
	// present in the custody account
	EligibleBalance uint64

	StakedAmount       uint64
	LastYieldTimestamp int64
}

// PendingYield is the simple-interest yield on staked between from and to
func PendingYield(staked uint64, from, to int64) uint64 {
	if to <= from || staked == 0 {
		return 0
	}
	y := new(big.Int).SetUint64(staked)
	y.Mul(y, big.NewInt(YieldAPYPercent))
	y.Mul(y, big.NewInt(to-from))
	y.Quo(y, big.NewInt(secondsPerYearTimes100))
	if !y.IsUint64() {
		return ^uint64(0)
	}
	return y.Uint64()
}

// CheckCondition reports whether the strategy's condition holds. It depends
// only on stored state, never on who asks.
func CheckCondition(s model.YieldStrategy, st AgentState) bool {
	ok, _ := Explain(s, st)
	return ok
}

// Explain is CheckCondition with a human-readable reason
func Explain(s model.YieldStrategy, st AgentState) (bool, string) {
	c := s.Condition
	switch c.Kind {
	case model.ConditionBalanceAbove:
		if st.EligibleBalance >= c.Threshold {
			return true, fmt.Sprintf("eligible balance %d >= %d", st.EligibleBalance, c.Threshold)
		}
		return false, fmt.Sprintf("eligible balance %d below %d", st.EligibleBalance, c.Threshold)

	case model.ConditionTimeElapsed:
		elapsed := st.Now - s.LastTriggered
		if elapsed >= 0 && uint64(elapsed) >= c.Threshold {
			return true, fmt.Sprintf("%ds elapsed since last trigger (interval %ds)", elapsed, c.Threshold)
		}
		return false, fmt.Sprintf("only %ds elapsed since last trigger (interval %ds)", elapsed, c.Threshold)

	case model.ConditionYieldAbove:
		accrued := PendingYield(st.StakedAmount, yieldReference(s, st), st.Now)
		if accrued >= c.Threshold {
			return true, fmt.Sprintf("accrued yield %d >= %d", accrued, c.Threshold)
		}
		return false, fmt.Sprintf("accrued yield %d below %d", accrued, c.Threshold)

	default:
		return false, fmt.Sprintf("unknown condition %q", c.Kind)
	}
}

// yieldReference is the start of the YieldAbove measurement window
func yieldReference(s model.YieldStrategy, st AgentState) int64 {
	if s.LastTriggered > 0 {
		return s.LastTriggered
	}
	return st.LastYieldTimestamp
}
