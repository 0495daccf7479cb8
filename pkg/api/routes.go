package api

// RouteTestRequest is the body of the dry-run routing endpoint.
type RouteTestRequest struct {
	BotID    string   `json:"bot_id" binding:"required"`
	Message  string   `json:"message" binding:"required"`
	HasTools bool     `json:"has_tools"`
	Context  []string `json:"context,omitempty"`
}

type RouteTarget struct {
	ProviderKeyRef string `json:"provider_key_ref,omitempty"`
	Vendor         string `json:"vendor"`
	Model          string `json:"model"`
}

type RouteComplexity struct {
	InputLevel    string `json:"input_level"`
	ResolvedLevel string `json:"resolved_level"`
	LatencyMS     int64  `json:"latency_ms"`
}

// RouteResponse mirrors a routing decision for admin callers.
type RouteResponse struct {
	RouteTarget
	Reason          string           `json:"reason"`
	Strategy        string           `json:"strategy"`
	MatchedRule     string           `json:"matched_rule,omitempty"`
	RoutingConfigID string           `json:"routing_config_id,omitempty"`
	FallbackChain   []RouteTarget    `json:"fallback_chain,omitempty"`
	Complexity      *RouteComplexity `json:"complexity,omitempty"`
}

// Vendor is the public view of a vendor registry entry.
type Vendor struct {
	ID         string `json:"id"`
	BaseURL    string `json:"base_url"`
	AuthHeader string `json:"auth_header"`
	APIType    string `json:"api_type"`
}
