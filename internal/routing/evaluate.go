package routing

import (
	"context"
	"fmt"
)

// evaluation is the outcome of one strategy; ok is false when the config
// yields no target and the engine should move on.
type evaluation struct {
	result *Result
	ok     bool
}

func skip() evaluation { return evaluation{} }

func found(r *Result) evaluation { return evaluation{result: r, ok: true} }

func evalFunctionRoute(s FunctionRoute, message string, m *Matcher) evaluation {
	for _, rule := range s.Rules {
		if !rule.Target.valid() {
			continue
		}
		if m.Match(rule.MatchType, rule.Pattern, message) {
			return found(&Result{
				Target:      rule.Target,
				Strategy:    StrategyFunctionRoute,
				MatchedRule: rule.Pattern,
				Reason:      fmt.Sprintf("Function route matched %s rule %q -> %s", matchLabel(rule.MatchType), rule.Pattern, rule.Target),
			})
		}
	}

	if s.DefaultTarget != nil && s.DefaultTarget.valid() {
		return found(&Result{
			Target:   *s.DefaultTarget,
			Strategy: StrategyFunctionRoute,
			Reason:   fmt.Sprintf("Function route: no rule matched, using default target %s", s.DefaultTarget),
		})
	}
	return skip()
}

func matchLabel(matchType string) string {
	if matchType == "" {
		return MatchKeyword
	}
	return matchType
}

func evalLoadBalance(ctx context.Context, s LoadBalance, configID string, cursors CursorStore, intn func(int) int) (evaluation, error) {
	targets := make([]WeightedTarget, 0, len(s.Targets))
	for _, t := range s.Targets {
		if t.Target.valid() {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return skip(), nil
	}

	if s.Strategy == BalanceWeighted {
		if t, total, ok := pickWeighted(targets, intn); ok {
			return found(&Result{
				Target:   t.Target,
				Strategy: StrategyLoadBalance,
				Reason:   fmt.Sprintf("Load balance (weighted %d/%d) -> %s", t.Weight, total, t.Target),
			}), nil
		}
		// every weight is non-positive: fall through to round robin order
	}

	idx, err := cursors.Next(ctx, configID, len(targets))
	if err != nil {
		return skip(), fmt.Errorf("advance cursor for %s: %w", configID, err)
	}
	t := targets[idx]
	return found(&Result{
		Target:   t.Target,
		Strategy: StrategyLoadBalance,
		Reason:   fmt.Sprintf("Load balance (round robin %d/%d) -> %s", idx+1, len(targets), t.Target),
	}), nil
}

// pickWeighted draws uniformly from [0, total) and walks cumulative weights.
// Targets with a non-positive weight never win.
func pickWeighted(targets []WeightedTarget, intn func(int) int) (WeightedTarget, int, bool) {
	total := 0
	for _, t := range targets {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	if total == 0 {
		return WeightedTarget{}, 0, false
	}

	r := intn(total)
	for _, t := range targets {
		if t.Weight <= 0 {
			continue
		}
		if r < t.Weight {
			return t, total, true
		}
		r -= t.Weight
	}
	return WeightedTarget{}, 0, false
}

func evalFailover(s Failover) evaluation {
	if !s.Primary.valid() {
		return skip()
	}

	chain := make([]Target, 0, len(s.FallbackChain))
	for _, t := range s.FallbackChain {
		if t.valid() {
			chain = append(chain, t)
		}
	}
	retry := s.Retry

	return found(&Result{
		Target:        s.Primary,
		Strategy:      StrategyFailover,
		FallbackChain: chain,
		Retry:         &retry,
		Reason:        fmt.Sprintf("Failover primary %s (%d fallbacks)", s.Primary, len(chain)),
	})
}
