package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Bots() store.BotRepository {
	return &botRepo{db: r.executor}
}

func (r *SqliteRepository) RoutingConfigs() store.RoutingConfigRepository {
	return &routingConfigRepo{db: r.executor}
}

func (r *SqliteRepository) ComplexityConfigs() store.ComplexityConfigRepository {
	return &complexityConfigRepo{db: r.executor}
}

func (r *SqliteRepository) BotModels() store.BotModelRepository {
	return &botModelRepo{db: r.executor}
}

func (r *SqliteRepository) ProviderKeys() store.ProviderKeyRepository {
	return &providerKeyRepo{db: r.executor}
}

func (r *SqliteRepository) Usage() store.UsageRepository {
	return &usageRepo{db: r.executor}
}

// notFound maps sql.ErrNoRows onto the store sentinel.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

type botRepo struct {
	db DB
}

func (r *botRepo) GetByTokenHash(ctx context.Context, hash string) (*model.Bot, error) {
	var bot model.Bot
	// active check is part of the query for speed
	query := `SELECT * FROM bots WHERE token_hash = ? AND is_active = 1`
	if err := r.db.GetContext(ctx, &bot, query, hash); err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

func (r *botRepo) Get(ctx context.Context, id string) (*model.Bot, error) {
	var bot model.Bot
	if err := r.db.GetContext(ctx, &bot, `SELECT * FROM bots WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

func (r *botRepo) Create(ctx context.Context, bot *model.Bot) error {
	if bot.Tags == "" {
		bot.Tags = "[]"
	}
	query := `
	INSERT INTO bots (id, name, token_hash, tags, daily_quota, is_active, created_at, updated_at)
	VALUES (:id, :name, :token_hash, :tags, :daily_quota, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, bot)
	return err
}

func (r *botRepo) MarkQuotaExceeded(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE bots SET quota_exceeded_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, at.UTC(), at.UTC(), id)
	return err
}

type routingConfigRepo struct {
	db DB
}

func (r *routingConfigRepo) ListEnabledByBot(ctx context.Context, botID string) ([]model.RoutingConfig, error) {
	var configs []model.RoutingConfig
	query := `SELECT * FROM routing_configs WHERE bot_id = ? AND is_enabled = 1 ORDER BY priority DESC, id ASC`
	err := r.db.SelectContext(ctx, &configs, query, botID)
	return configs, err
}

func (r *routingConfigRepo) Create(ctx context.Context, cfg *model.RoutingConfig) error {
	query := `
	INSERT INTO routing_configs (id, bot_id, routing_type, priority, is_enabled, config, created_at, updated_at)
	VALUES (:id, :bot_id, :routing_type, :priority, :is_enabled, :config, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, cfg)
	return err
}

type complexityConfigRepo struct {
	db DB
}

func (r *complexityConfigRepo) GetByBot(ctx context.Context, botID string) (*model.ComplexityConfig, error) {
	var cfg model.ComplexityConfig
	if err := r.db.GetContext(ctx, &cfg, `SELECT * FROM complexity_configs WHERE bot_id = ?`, botID); err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}

func (r *complexityConfigRepo) Upsert(ctx context.Context, cfg *model.ComplexityConfig) error {
	if cfg.LevelModels == "" {
		cfg.LevelModels = "{}"
	}
	query := `
	INSERT INTO complexity_configs (bot_id, is_enabled, min_tool_complexity, level_models, created_at, updated_at)
	VALUES (:bot_id, :is_enabled, :min_tool_complexity, :level_models, :created_at, :updated_at)
	ON CONFLICT(bot_id) DO UPDATE SET
		is_enabled = excluded.is_enabled,
		min_tool_complexity = excluded.min_tool_complexity,
		level_models = excluded.level_models,
		updated_at = excluded.updated_at`
	_, err := r.db.NamedExecContext(ctx, query, cfg)
	return err
}

type botModelRepo struct {
	db DB
}

func (r *botModelRepo) ListAvailable(ctx context.Context, botID string) ([]model.AvailableModel, error) {
	var models []model.AvailableModel
	query := `
	SELECT bm.model_id, pk.vendor, pk.id AS provider_key_id, bm.is_primary
	FROM bot_models bm
	JOIN model_availability ma ON ma.model_id = bm.model_id AND ma.is_available = 1
	JOIN provider_keys pk ON pk.id = ma.provider_key_id AND pk.is_active = 1
	WHERE bm.bot_id = ? AND bm.is_enabled = 1
	ORDER BY bm.is_primary DESC, bm.model_id ASC, pk.priority DESC, pk.id ASC`
	err := r.db.SelectContext(ctx, &models, query, botID)
	return models, err
}

func (r *botModelRepo) Add(ctx context.Context, m *model.BotModel) error {
	query := `
	INSERT INTO bot_models (bot_id, model_id, is_primary, is_enabled)
	VALUES (:bot_id, :model_id, :is_primary, :is_enabled)
	ON CONFLICT(bot_id, model_id) DO UPDATE SET
		is_primary = excluded.is_primary,
		is_enabled = excluded.is_enabled`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return err
}

func (r *botModelRepo) SetAvailability(ctx context.Context, a *model.ModelAvailability) error {
	query := `
	INSERT INTO model_availability (model_id, provider_key_id, is_available)
	VALUES (:model_id, :provider_key_id, :is_available)
	ON CONFLICT(model_id, provider_key_id) DO UPDATE SET is_available = excluded.is_available`
	_, err := r.db.NamedExecContext(ctx, query, a)
	return err
}

func (r *botModelRepo) ListAvailability(ctx context.Context, providerKeyID string) ([]model.ModelAvailability, error) {
	var rows []model.ModelAvailability
	query := `SELECT model_id, provider_key_id, is_available FROM model_availability WHERE provider_key_id = ? ORDER BY model_id`
	err := r.db.SelectContext(ctx, &rows, query, providerKeyID)
	return rows, err
}

type providerKeyRepo struct {
	db DB
}

func (r *providerKeyRepo) List(ctx context.Context, filter model.ProviderKeyFilter) ([]model.ProviderKey, error) {
	query := `SELECT * FROM provider_keys WHERE 1 = 1`
	var args []interface{}

	if filter.Vendor != "" {
		query += ` AND vendor = ?`
		args = append(args, filter.Vendor)
	}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority DESC, id ASC`

	var keys []model.ProviderKey
	err := r.db.SelectContext(ctx, &keys, query, args...)
	return keys, err
}

func (r *providerKeyRepo) GetByID(ctx context.Context, id string) (*model.ProviderKey, error) {
	var key model.ProviderKey
	if err := r.db.GetContext(ctx, &key, `SELECT * FROM provider_keys WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

func (r *providerKeyRepo) Create(ctx context.Context, key *model.ProviderKey) error {
	if key.Tags == "" {
		key.Tags = "[]"
	}
	query := `
	INSERT INTO provider_keys (id, name, vendor, api_type, base_url, secret, tags, priority, is_active, created_at, updated_at)
	VALUES (:id, :name, :vendor, :api_type, :base_url, :secret, :tags, :priority, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, key)
	return err
}

func (r *providerKeyRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE provider_keys SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

type usageRepo struct {
	db DB
}

func (r *usageRepo) Create(ctx context.Context, entry *model.UsageLog) error {
	query := `
	INSERT INTO usage_logs (
		id, bot_id, vendor, provider_key_id, model, routing_config_id, strategy,
		status_code, is_streamed, latency_ms, error_message, request_path, created_at
	) VALUES (
		:id, :bot_id, :vendor, :provider_key_id, :model, :routing_config_id, :strategy,
		:status_code, :is_streamed, :latency_ms, :error_message, :request_path, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

func (r *usageRepo) CountSince(ctx context.Context, botID string, since time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM usage_logs WHERE bot_id = ? AND created_at >= ?`
	err := r.db.GetContext(ctx, &count, query, botID, since.UTC())
	return count, err
}

func (r *usageRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	var stats []model.DailyStats
	query := `
		SELECT
			DATE(created_at) AS date,
			COUNT(*) AS total_requests,
			SUM(CASE WHEN status_code IS NULL OR status_code >= 400 THEN 1 ELSE 0 END) AS failed_requests,
			AVG(latency_ms) AS avg_latency
		FROM usage_logs
		WHERE created_at >= DATE('now', ?)
		GROUP BY DATE(created_at)
		ORDER BY date DESC
	`
	// SQLite date offset format is '-7 days'
	err := r.db.SelectContext(ctx, &stats, query, fmt.Sprintf("-%d days", days))
	return stats, err
}
