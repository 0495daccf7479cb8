package routing

import (
	"errors"
	"time"
)

// ErrNoRoute is returned only when a bot has no usable model at all.
var ErrNoRoute = errors.New("no route available")

// Strategy labels carried on a Result.
const (
	StrategyComplexity    = "complexity"
	StrategyFunctionRoute = "function_route"
	StrategyLoadBalance   = "load_balance"
	StrategyFailover      = "failover"
	StrategyDefault       = "default"
)

// Request is the routing input extracted from a caller's request.
type Request struct {
	BotID    string
	Message  string
	HasTools bool
	Context  []string
}

// Target is the unit a routing decision resolves to.
type Target struct {
	ProviderKeyRef string `json:"providerKeyId,omitempty"`
	Vendor         string `json:"vendor"`
	Model          string `json:"model"`
}

func (t Target) valid() bool {
	return t.Vendor != "" && t.Model != ""
}

func (t Target) String() string {
	return t.Vendor + "/" + t.Model
}

// RetryPolicy is informational; the proxy never retries on its own.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts"`
	DelayMS     int `json:"delayMs"`
}

// ComplexityInfo describes a decision made by the complexity router.
type ComplexityInfo struct {
	InputLevel    string
	ResolvedLevel string
	Latency       time.Duration
}

// Result is a routing decision.
type Result struct {
	Target
	Reason          string
	Strategy        string
	MatchedRule     string
	RoutingConfigID string
	FallbackChain   []Target
	Retry           *RetryPolicy
	Complexity      *ComplexityInfo
}
