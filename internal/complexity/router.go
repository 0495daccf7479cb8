// Package complexity picks a model for a request based on how demanding the
// request looks and how capable each available model is.
package complexity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nulzo/bot-router/internal/routing"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"go.uber.org/zap"
)

// ConfigSource loads a bot's complexity settings.
type ConfigSource interface {
	GetByBot(ctx context.Context, botID string) (*model.ComplexityConfig, error)
}

// LevelTarget is one entry of a bot's level -> model mapping.
type LevelTarget struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
}

type Router struct {
	classifier Classifier
	configs    ConfigSource
	models     routing.ModelSource
	scores     *Scores
	thresholds Thresholds
	logger     *zap.Logger
}

type Option func(*Router)

func WithScores(s *Scores) Option {
	return func(r *Router) { r.scores = s }
}

func WithThresholds(t Thresholds) Option {
	return func(r *Router) { r.thresholds = t }
}

func NewRouter(classifier Classifier, configs ConfigSource, models routing.ModelSource, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		classifier: classifier,
		configs:    configs,
		models:     models,
		scores:     NewScores(nil),
		thresholds: DefaultThresholds(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns nil when complexity routing does not apply to the bot.
func (r *Router) Route(ctx context.Context, req routing.Request) (*routing.Result, error) {
	if r.classifier == nil {
		return nil, nil
	}

	cfg, err := r.configs.GetByBot(ctx, req.BotID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load complexity config: %w", err)
	}
	if !cfg.IsEnabled {
		return nil, nil
	}

	models, err := r.models.ListAvailable(ctx, req.BotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load available models: %w", err)
	}
	models = uniqueModels(models)
	if len(models) == 0 {
		return nil, nil
	}

	start := time.Now()
	cls, err := r.classifier.Classify(ctx, Input{Message: req.Message, Context: req.Context, HasTools: req.HasTools})
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	latency := time.Since(start)

	input := cls.Level
	resolved := input
	if req.HasTools {
		if floor, ok := ParseLevel(cfg.MinToolComplexity); ok {
			resolved = EnsureMinComplexity(input, floor)
		}
	}

	chosen, rule := r.selectModel(resolved, models, r.levelTargets(cfg))

	return &routing.Result{
		Target: routing.Target{
			ProviderKeyRef: chosen.ProviderKeyID,
			Vendor:         chosen.Vendor,
			Model:          chosen.ModelID,
		},
		Strategy: routing.StrategyComplexity,
		Reason: fmt.Sprintf("Complexity %s (resolved %s): %s/%s via %s",
			input, resolved, chosen.Vendor, chosen.ModelID, rule),
		Complexity: &routing.ComplexityInfo{
			InputLevel:    input.String(),
			ResolvedLevel: resolved.String(),
			Latency:       latency,
		},
	}, nil
}

func (r *Router) selectModel(level Level, models []model.AvailableModel, mapping map[Level]LevelTarget) (model.AvailableModel, string) {
	threshold := r.thresholds[level]
	primary, hasPrimary := primaryOf(models)

	if hasPrimary && r.scores.Score(primary.ModelID) >= threshold {
		return primary, "primary model"
	}

	if want, ok := mapping[level]; ok {
		if m, ok := matchMapping(want, models); ok {
			return m, "level mapping"
		}
	}

	var (
		closest model.AvailableModel
		gap     = -1
	)
	for _, m := range models {
		score := r.scores.Score(m.ModelID)
		if score < threshold {
			continue
		}
		if gap == -1 || score-threshold < gap {
			closest, gap = m, score-threshold
		}
	}
	if gap >= 0 {
		return closest, "closest capable model"
	}

	if hasPrimary {
		return primary, "primary fallback"
	}

	best := models[0]
	for _, m := range models[1:] {
		if r.scores.Score(m.ModelID) > r.scores.Score(best.ModelID) {
			best = m
		}
	}
	return best, "highest score"
}

func (r *Router) levelTargets(cfg *model.ComplexityConfig) map[Level]LevelTarget {
	if cfg.LevelModels == "" {
		return nil
	}
	var raw map[string]LevelTarget
	if err := json.Unmarshal([]byte(cfg.LevelModels), &raw); err != nil {
		r.logger.Warn("Ignoring undecodable level mapping", zap.String("bot_id", cfg.BotID), zap.Error(err))
		return nil
	}
	out := make(map[Level]LevelTarget, len(raw))
	for name, t := range raw {
		if level, ok := ParseLevel(name); ok {
			out[level] = t
		}
	}
	return out
}

// matchMapping finds the configured model exactly, else by substring overlap
// in either direction. A configured vendor must match.
func matchMapping(want LevelTarget, models []model.AvailableModel) (model.AvailableModel, bool) {
	wantModel := strings.ToLower(want.Model)
	if wantModel == "" {
		return model.AvailableModel{}, false
	}
	vendorOK := func(m model.AvailableModel) bool {
		return want.Vendor == "" || strings.EqualFold(want.Vendor, m.Vendor)
	}

	for _, m := range models {
		if vendorOK(m) && strings.ToLower(m.ModelID) == wantModel {
			return m, true
		}
	}
	for _, m := range models {
		id := strings.ToLower(m.ModelID)
		if vendorOK(m) && (strings.Contains(id, wantModel) || strings.Contains(wantModel, id)) {
			return m, true
		}
	}
	return model.AvailableModel{}, false
}

func primaryOf(models []model.AvailableModel) (model.AvailableModel, bool) {
	var primaries []model.AvailableModel
	for _, m := range models {
		if m.IsPrimary {
			primaries = append(primaries, m)
		}
	}
	if len(primaries) == 0 {
		return model.AvailableModel{}, false
	}
	return routing.PrimaryModel(primaries)
}

// uniqueModels keeps the first row of each model id; the join yields one row
// per serving key.
func uniqueModels(models []model.AvailableModel) []model.AvailableModel {
	seen := make(map[string]struct{}, len(models))
	out := make([]model.AvailableModel, 0, len(models))
	for _, m := range models {
		if _, ok := seen[m.ModelID]; ok {
			continue
		}
		seen[m.ModelID] = struct{}{}
		out = append(out, m)
	}
	return out
}
