package model

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
)

// Bot is a caller of the proxy. Bots authenticate with an opaque token whose
// sha256 digest is stored in TokenHash.
type Bot struct {
	ID              string       `db:"id" json:"id"`
	Name            string       `db:"name" json:"name"`
	TokenHash       string       `db:"token_hash" json:"-"`
	Tags            string       `db:"tags" json:"tags"`               // JSON array
	DailyQuota      int64        `db:"daily_quota" json:"daily_quota"` // 0 = unlimited
	IsActive        bool         `db:"is_active" json:"is_active"`
	QuotaExceededAt sql.NullTime `db:"quota_exceeded_at" json:"quota_exceeded_at,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

func (b *Bot) TagList() []string {
	return decodeTags(b.Tags)
}

// ProviderKey is a credential for one vendor account.
type ProviderKey struct {
	ID         string       `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	Vendor     string       `db:"vendor" json:"vendor"`
	APIType    string       `db:"api_type" json:"api_type"`
	BaseURL    string       `db:"base_url" json:"base_url,omitempty"`
	Secret     string       `db:"secret" json:"-"`
	Tags       string       `db:"tags" json:"tags"` // JSON array
	Priority   int          `db:"priority" json:"priority"`
	IsActive   bool         `db:"is_active" json:"is_active"`
	LastUsedAt sql.NullTime `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

func (k *ProviderKey) TagList() []string {
	return decodeTags(k.Tags)
}

// ProviderKeyFilter narrows ProviderKeys().List.
type ProviderKeyFilter struct {
	Vendor     string
	ActiveOnly bool
}

const (
	RoutingTypeFunctionRoute = "FUNCTION_ROUTE"
	RoutingTypeLoadBalance   = "LOAD_BALANCE"
	RoutingTypeFailover      = "FAILOVER"
)

// RoutingConfig is a strategy attached to a bot. Config holds the JSON payload
// whose shape depends on RoutingType.
type RoutingConfig struct {
	ID          string    `db:"id" json:"id"`
	BotID       string    `db:"bot_id" json:"bot_id"`
	RoutingType string    `db:"routing_type" json:"routing_type"`
	Priority    int       `db:"priority" json:"priority"`
	IsEnabled   bool      `db:"is_enabled" json:"is_enabled"`
	Config      string    `db:"config" json:"config"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ComplexityConfig enables complexity based model selection for a bot.
type ComplexityConfig struct {
	BotID             string    `db:"bot_id" json:"bot_id"`
	IsEnabled         bool      `db:"is_enabled" json:"is_enabled"`
	MinToolComplexity string    `db:"min_tool_complexity" json:"min_tool_complexity,omitempty"`
	LevelModels       string    `db:"level_models" json:"level_models"` // JSON object: level -> {vendor, model}
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// BotModel declares a model a bot may use.
type BotModel struct {
	BotID     string `db:"bot_id" json:"bot_id"`
	ModelID   string `db:"model_id" json:"model_id"`
	IsPrimary bool   `db:"is_primary" json:"is_primary"`
	IsEnabled bool   `db:"is_enabled" json:"is_enabled"`
}

// ModelAvailability links a model to a provider key that currently serves it.
type ModelAvailability struct {
	ModelID       string `db:"model_id" json:"model_id"`
	ProviderKeyID string `db:"provider_key_id" json:"provider_key_id"`
	IsAvailable   bool   `db:"is_available" json:"is_available"`
}

// AvailableModel is one row of the bot -> model -> key join.
type AvailableModel struct {
	ModelID       string `db:"model_id" json:"model_id"`
	Vendor        string `db:"vendor" json:"vendor"`
	ProviderKeyID string `db:"provider_key_id" json:"provider_key_id"`
	IsPrimary     bool   `db:"is_primary" json:"is_primary"`
}

// UsageLog is an append-only record of one proxied request.
type UsageLog struct {
	ID              string        `db:"id" json:"id"`
	BotID           string        `db:"bot_id" json:"bot_id"`
	Vendor          string        `db:"vendor" json:"vendor"`
	ProviderKeyID   string        `db:"provider_key_id" json:"provider_key_id"`
	Model           string        `db:"model" json:"model"`
	RoutingConfigID string        `db:"routing_config_id" json:"routing_config_id"`
	Strategy        string        `db:"strategy" json:"strategy"`
	StatusCode      sql.NullInt64 `db:"status_code" json:"status_code"`
	IsStreamed      bool          `db:"is_streamed" json:"is_streamed"`
	LatencyMS       int64         `db:"latency_ms" json:"latency_ms"`
	ErrorMessage    string        `db:"error_message" json:"error_message,omitempty"`
	RequestPath     string        `db:"request_path" json:"request_path"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date           string  `db:"date" json:"date"`
	TotalRequests  int     `db:"total_requests" json:"total_requests"`
	FailedRequests int     `db:"failed_requests" json:"failed_requests"`
	AverageLatency float64 `db:"avg_latency" json:"avg_latency"`
}

// EncodeTags is the inverse of TagList, used when creating records.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
