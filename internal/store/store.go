package store

import (
	"context"
	"errors"
	"time"

	"github.com/nulzo/bot-router/internal/store/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Bots() BotRepository
	RoutingConfigs() RoutingConfigRepository
	ComplexityConfigs() ComplexityConfigRepository
	BotModels() BotModelRepository
	ProviderKeys() ProviderKeyRepository
	Usage() UsageRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

type BotRepository interface {
	// GetByTokenHash resolves an active bot from the sha256 hex of its token.
	GetByTokenHash(ctx context.Context, hash string) (*model.Bot, error)
	Get(ctx context.Context, id string) (*model.Bot, error)
	Create(ctx context.Context, bot *model.Bot) error
	// MarkQuotaExceeded stamps the bot with the time it went over its daily quota.
	MarkQuotaExceeded(ctx context.Context, id string, at time.Time) error
}

type RoutingConfigRepository interface {
	// ListEnabledByBot returns enabled configs, highest priority first, ties by id.
	ListEnabledByBot(ctx context.Context, botID string) ([]model.RoutingConfig, error)
	Create(ctx context.Context, cfg *model.RoutingConfig) error
}

type ComplexityConfigRepository interface {
	GetByBot(ctx context.Context, botID string) (*model.ComplexityConfig, error)
	Upsert(ctx context.Context, cfg *model.ComplexityConfig) error
}

type BotModelRepository interface {
	// ListAvailable joins enabled bot models with available, active provider keys
	// in a single query.
	ListAvailable(ctx context.Context, botID string) ([]model.AvailableModel, error)
	Add(ctx context.Context, m *model.BotModel) error
	SetAvailability(ctx context.Context, a *model.ModelAvailability) error
	// ListAvailability returns every availability row recorded for a key.
	ListAvailability(ctx context.Context, providerKeyID string) ([]model.ModelAvailability, error)
}

type ProviderKeyRepository interface {
	List(ctx context.Context, filter model.ProviderKeyFilter) ([]model.ProviderKey, error)
	GetByID(ctx context.Context, id string) (*model.ProviderKey, error)
	Create(ctx context.Context, key *model.ProviderKey) error
	// Touch records that the key was just handed out.
	Touch(ctx context.Context, id string, at time.Time) error
}

type UsageRepository interface {
	Create(ctx context.Context, entry *model.UsageLog) error
	// CountSince counts a bot's requests created at or after since.
	CountSince(ctx context.Context, botID string, since time.Time) (int64, error)
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}
