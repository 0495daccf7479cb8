package routing

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nulzo/bot-router/internal/store/model"
)

const (
	MatchKeyword = "keyword"
	MatchRegex   = "regex"

	BalanceRoundRobin = "round_robin"
	BalanceWeighted   = "weighted"
)

// Strategy is the decoded payload of a routing config. The concrete types are
// FunctionRoute, LoadBalance and Failover.
type Strategy interface {
	strategy() string
}

type Rule struct {
	Pattern   string `json:"pattern"`
	MatchType string `json:"matchType"`
	Target    Target `json:"target"`
}

type FunctionRoute struct {
	Rules         []Rule  `json:"rules"`
	DefaultTarget *Target `json:"defaultTarget,omitempty"`
}

type WeightedTarget struct {
	Target Target `json:"target"`
	Weight int    `json:"weight"`
}

type LoadBalance struct {
	Strategy string           `json:"strategy"`
	Targets  []WeightedTarget `json:"targets"`
}

type Failover struct {
	Primary       Target      `json:"primary"`
	FallbackChain []Target    `json:"fallbackChain"`
	Retry         RetryPolicy `json:"retry"`
}

func (FunctionRoute) strategy() string { return StrategyFunctionRoute }
func (LoadBalance) strategy() string   { return StrategyLoadBalance }
func (Failover) strategy() string      { return StrategyFailover }

// Decode parses a stored routing config into its strategy variant.
func Decode(cfg model.RoutingConfig) (Strategy, error) {
	data := []byte(cfg.Config)

	switch cfg.RoutingType {
	case model.RoutingTypeFunctionRoute:
		var s FunctionRoute
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode function route %s: %w", cfg.ID, err)
		}
		return s, nil
	case model.RoutingTypeLoadBalance:
		var s LoadBalance
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode load balance %s: %w", cfg.ID, err)
		}
		if s.Strategy == "" {
			s.Strategy = BalanceRoundRobin
		}
		return s, nil
	case model.RoutingTypeFailover:
		var s Failover
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode failover %s: %w", cfg.ID, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("routing config %s: unsupported routing type %q", cfg.ID, cfg.RoutingType)
	}
}
