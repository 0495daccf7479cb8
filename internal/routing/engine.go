// Package routing decides which vendor, model and credential serve a bot's
// request.
package routing

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/nulzo/bot-router/internal/platform/metrics"
	"github.com/nulzo/bot-router/internal/store/model"
	"go.uber.org/zap"
)

// ConfigSource lists a bot's enabled routing configs, highest priority first.
type ConfigSource interface {
	ListEnabledByBot(ctx context.Context, botID string) ([]model.RoutingConfig, error)
}

// ModelSource lists the models a bot can currently reach.
type ModelSource interface {
	ListAvailable(ctx context.Context, botID string) ([]model.AvailableModel, error)
}

// ComplexityRouter is consulted before any routing config. A nil result
// defers to the configs.
type ComplexityRouter interface {
	Route(ctx context.Context, req Request) (*Result, error)
}

type Engine struct {
	configs    ConfigSource
	models     ModelSource
	cursors    CursorStore
	complexity ComplexityRouter
	matcher    *Matcher
	intn       func(int) int
	logger     *zap.Logger
}

type Option func(*Engine)

func WithComplexityRouter(r ComplexityRouter) Option {
	return func(e *Engine) { e.complexity = r }
}

// WithRandom replaces the source used by weighted load balancing.
func WithRandom(intn func(int) int) Option {
	return func(e *Engine) { e.intn = intn }
}

func NewEngine(configs ConfigSource, models ModelSource, cursors CursorStore, logger *zap.Logger, opts ...Option) *Engine {
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	e := &Engine{
		configs: configs,
		models:  models,
		cursors: cursors,
		matcher: NewMatcher(),
		intn:    rand.IntN,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RouteRequest resolves the target for a live request.
func (e *Engine) RouteRequest(ctx context.Context, req Request) (*Result, error) {
	res, err := e.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.RoutingDecisions.WithLabelValues(res.Strategy).Inc()
	e.logger.Debug("Routed request",
		zap.String("bot_id", req.BotID),
		zap.String("strategy", res.Strategy),
		zap.String("vendor", res.Vendor),
		zap.String("model", res.Model),
		zap.String("routing_config_id", res.RoutingConfigID),
	)
	return res, nil
}

// TestRoute runs the same resolution as RouteRequest, including load balance
// cursor movement, so a dry run previews exactly what the next call would get.
func (e *Engine) TestRoute(ctx context.Context, req Request) (*Result, error) {
	return e.resolve(ctx, req)
}

// ClearLoadBalanceState resets the cursor of one config, or all cursors when
// configID is empty.
func (e *Engine) ClearLoadBalanceState(ctx context.Context, configID string) error {
	if configID == "" {
		return e.cursors.ResetAll(ctx)
	}
	return e.cursors.Reset(ctx, configID)
}

func (e *Engine) resolve(ctx context.Context, req Request) (*Result, error) {
	if e.complexity != nil {
		res, err := e.complexity.Route(ctx, req)
		if err != nil {
			e.logger.Warn("Complexity routing failed, falling back to routing configs",
				zap.String("bot_id", req.BotID), zap.Error(err))
		} else if res != nil {
			return res, nil
		}
	}

	configs, err := e.configs.ListEnabledByBot(ctx, req.BotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing configs: %w", err)
	}

	for _, cfg := range configs {
		res, ok := e.evaluate(ctx, cfg, req)
		if ok {
			res.RoutingConfigID = cfg.ID
			return res, nil
		}
	}

	return e.defaultRoute(ctx, req.BotID)
}

func (e *Engine) evaluate(ctx context.Context, cfg model.RoutingConfig, req Request) (*Result, bool) {
	strategy, err := Decode(cfg)
	if err != nil {
		e.logger.Warn("Skipping undecodable routing config", zap.String("routing_config_id", cfg.ID), zap.Error(err))
		return nil, false
	}

	var ev evaluation
	switch s := strategy.(type) {
	case FunctionRoute:
		ev = evalFunctionRoute(s, req.Message, e.matcher)
	case LoadBalance:
		ev, err = evalLoadBalance(ctx, s, cfg.ID, e.cursors, e.intn)
		if err != nil {
			e.logger.Warn("Skipping load balance config", zap.String("routing_config_id", cfg.ID), zap.Error(err))
			return nil, false
		}
	case Failover:
		ev = evalFailover(s)
	}

	if !ev.ok {
		e.logger.Debug("Routing config yielded no target", zap.String("routing_config_id", cfg.ID))
		return nil, false
	}
	return ev.result, true
}

func (e *Engine) defaultRoute(ctx context.Context, botID string) (*Result, error) {
	models, err := e.models.ListAvailable(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to load available models: %w", err)
	}

	chosen, ok := PrimaryModel(models)
	if !ok {
		return nil, fmt.Errorf("%w for bot %s", ErrNoRoute, botID)
	}

	kind := "first available model"
	if chosen.IsPrimary {
		kind = "primary model"
	}
	target := Target{ProviderKeyRef: chosen.ProviderKeyID, Vendor: chosen.Vendor, Model: chosen.ModelID}
	return &Result{
		Target:   target,
		Strategy: StrategyDefault,
		Reason:   fmt.Sprintf("Default route: %s %s", kind, target),
	}, nil
}

// PrimaryModel picks the primary model with the lowest model id, or the
// lowest model id overall when none is primary. Ties keep input order.
func PrimaryModel(models []model.AvailableModel) (model.AvailableModel, bool) {
	if len(models) == 0 {
		return model.AvailableModel{}, false
	}
	best := models[0]
	for _, m := range models[1:] {
		switch {
		case m.IsPrimary && !best.IsPrimary:
			best = m
		case m.IsPrimary == best.IsPrimary && m.ModelID < best.ModelID:
			best = m
		}
	}
	return best, true
}
