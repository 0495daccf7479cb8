package gateway

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/bot-router/internal/analytics"
	"github.com/nulzo/bot-router/internal/forwarder"
	"github.com/nulzo/bot-router/internal/keyring"
	"github.com/nulzo/bot-router/internal/routing"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/cache"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.uber.org/zap"
)

// BotStore resolves bots by token digest.
type BotStore interface {
	GetByTokenHash(ctx context.Context, hash string) (*model.Bot, error)
}

type Router interface {
	RouteRequest(ctx context.Context, req routing.Request) (*routing.Result, error)
}

type CredentialSelector interface {
	Select(ctx context.Context, vendorID string, tags []string, keyRef string) (*keyring.Credential, error)
}

type Forwarder interface {
	Stream(ctx context.Context, w http.ResponseWriter, vc vendor.Config, secret string, req *forwarder.Request) (int, error)
	Do(ctx context.Context, vc vendor.Config, secret string, req *forwarder.Request) (*forwarder.Response, error)
}

type QuotaChecker interface {
	Check(ctx context.Context, bot *model.Bot) (bool, error)
}

// ProxyRequest is one inbound call. An empty Vendor asks the routing engine
// to pick the target.
type ProxyRequest struct {
	Vendor   string
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	BotToken string
	// Stream overrides the body's own "stream" flag when set.
	Stream *bool
}

// Result describes how a proxied call ended. StatusCode is 0 when the vendor
// never answered.
type Result struct {
	Success    bool
	StatusCode int
	Streamed   bool
	Route      *routing.Result
	Err        error
}

// Service proxies bot traffic to vendors.
type Service interface {
	Proxy(ctx context.Context, w http.ResponseWriter, req *ProxyRequest) *Result
}

// Dependencies are the collaborators of the proxy service.
type Dependencies struct {
	Bots      BotStore
	Router    Router
	Keys      CredentialSelector
	Vendors   *vendor.Registry
	Forwarder Forwarder
	Ingestor  analytics.Ingestor
	Quota     QuotaChecker
	Cache     cache.CacheService
	CacheTTL  time.Duration
}

type service struct {
	logger *zap.Logger
	deps   Dependencies
}

func NewService(logger *zap.Logger, deps Dependencies) Service {
	if deps.Vendors == nil {
		deps.Vendors = vendor.DefaultRegistry()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 30 * time.Second
	}
	return &service{logger: logger, deps: deps}
}

func (s *service) Proxy(ctx context.Context, w http.ResponseWriter, req *ProxyRequest) *Result {
	start := time.Now()

	bot, err := s.authenticate(ctx, req.BotToken)
	if err != nil {
		return &Result{Err: err}
	}

	p := &proxyCall{bot: bot, req: req, body: req.Body, vendorID: strings.ToLower(req.Vendor)}
	res := s.run(ctx, w, p)

	s.recordUsage(p, res, time.Since(start))
	if res.Success && s.deps.Quota != nil {
		go s.checkQuota(context.WithoutCancel(ctx), bot)
	}
	return res
}

// proxyCall carries the per request state between stages.
type proxyCall struct {
	bot      *model.Bot
	req      *ProxyRequest
	body     []byte
	vendorID string
	route    *routing.Result
	keyID    string
	stream   bool
}

func (s *service) run(ctx context.Context, w http.ResponseWriter, p *proxyCall) *Result {
	insp := inspectBody(p.body)
	p.stream = true
	if insp.stream != nil {
		p.stream = *insp.stream
	}
	if p.req.Stream != nil {
		p.stream = *p.req.Stream
	}

	if err := s.resolveTarget(ctx, p, insp); err != nil {
		return &Result{Route: p.route, Err: err}
	}

	cred, err := s.deps.Keys.Select(ctx, p.vendorID, p.bot.TagList(), p.keyRef())
	if err != nil {
		if errors.Is(err, keyring.ErrNoCredential) {
			err = fmt.Errorf("%w for vendor %s", ErrCredentialUnavailable, p.vendorID)
		} else {
			err = fmt.Errorf("select credential: %w", err)
		}
		return &Result{Route: p.route, Err: err}
	}
	p.keyID = cred.KeyID

	vc, err := s.deps.Vendors.Resolve(p.vendorID, cred.BaseURL, cred.APIType)
	if err != nil {
		return &Result{Route: p.route, Err: err}
	}

	freq := &forwarder.Request{
		Method:   p.req.Method,
		Path:     p.req.Path,
		RawQuery: p.req.RawQuery,
		Header:   p.req.Header,
		Body:     p.body,
	}

	res := &Result{Route: p.route, Streamed: p.stream}
	if p.stream {
		res.StatusCode, res.Err = s.deps.Forwarder.Stream(ctx, w, vc, cred.Secret, freq)
	} else {
		res.StatusCode, res.Err = s.forwardBuffered(ctx, w, vc, cred.Secret, freq)
	}

	if res.Err != nil {
		fields := []zap.Field{
			zap.String("bot_id", p.bot.ID),
			zap.String("vendor", p.vendorID),
			zap.String("provider_key_id", p.keyID),
			zap.Int("status_code", res.StatusCode),
			zap.Error(res.Err),
		}
		if p.route != nil && len(p.route.FallbackChain) > 0 {
			chain := make([]string, 0, len(p.route.FallbackChain))
			for _, t := range p.route.FallbackChain {
				chain = append(chain, t.String())
			}
			fields = append(fields, zap.Strings("fallback_chain", chain))
		}
		s.logger.Warn("Upstream forward failed", fields...)
		return res
	}

	res.Success = res.StatusCode >= 200 && res.StatusCode < 300
	return res
}

func (s *service) resolveTarget(ctx context.Context, p *proxyCall, insp inspection) error {
	if p.vendorID == "" {
		result, err := s.deps.Router.RouteRequest(ctx, routing.Request{
			BotID:    p.bot.ID,
			Message:  insp.message,
			HasTools: insp.hasTools,
			Context:  insp.context,
		})
		if errors.Is(err, routing.ErrNoRoute) {
			return fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
		}
		if err != nil {
			return fmt.Errorf("resolve route: %w", err)
		}
		p.route = result
		p.vendorID = strings.ToLower(result.Vendor)
		p.body = rewriteModel(p.body, result.Model)
	}

	if _, ok := s.deps.Vendors.Get(p.vendorID); !ok {
		return fmt.Errorf("%w: %s", vendor.ErrUnknownVendor, p.vendorID)
	}
	return nil
}

func (p *proxyCall) keyRef() string {
	if p.route == nil {
		return ""
	}
	return p.route.ProviderKeyRef
}

func (p *proxyCall) model() string {
	if p.route != nil {
		return p.route.Model
	}
	return inspectBody(p.body).model
}

func (s *service) forwardBuffered(ctx context.Context, w http.ResponseWriter, vc vendor.Config, secret string, req *forwarder.Request) (int, error) {
	resp, err := s.deps.Forwarder.Do(ctx, vc, secret, req)
	if err != nil {
		return 0, err
	}
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		return resp.StatusCode, fmt.Errorf("write to caller: %w", err)
	}
	return resp.StatusCode, nil
}

// authenticate resolves the bot behind a token. Every failure maps to
// ErrInvalidBotToken; store errors are logged.
func (s *service) authenticate(ctx context.Context, token string) (*model.Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidBotToken
	}

	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])
	cacheKey := "bot:" + hash

	if s.deps.Cache != nil {
		var cached model.Bot
		if err := s.deps.Cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Debug("Bot cache read failed", zap.Error(err))
		}
	}

	bot, err := s.deps.Bots.GetByTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Bot lookup failed", zap.Error(err))
		}
		return nil, ErrInvalidBotToken
	}
	if !bot.IsActive {
		return nil, ErrInvalidBotToken
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, cacheKey, bot, s.deps.CacheTTL); err != nil {
			s.logger.Debug("Bot cache write failed", zap.Error(err))
		}
	}
	return bot, nil
}

func (s *service) recordUsage(p *proxyCall, res *Result, latency time.Duration) {
	if s.deps.Ingestor == nil {
		return
	}

	entry := &model.UsageLog{
		ID:            uuid.NewString(),
		BotID:         p.bot.ID,
		Vendor:        p.vendorID,
		ProviderKeyID: p.keyID,
		Model:         p.model(),
		IsStreamed:    res.Streamed,
		LatencyMS:     latency.Milliseconds(),
		RequestPath:   p.req.Path,
		CreatedAt:     time.Now().UTC(),
	}
	if p.route != nil {
		entry.RoutingConfigID = p.route.RoutingConfigID
		entry.Strategy = p.route.Strategy
	}
	if res.Err != nil {
		entry.ErrorMessage = res.Err.Error()
	} else if res.StatusCode != 0 {
		entry.StatusCode = sql.NullInt64{Int64: int64(res.StatusCode), Valid: true}
	}

	s.deps.Ingestor.Log(entry)
}

func (s *service) checkQuota(ctx context.Context, bot *model.Bot) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.deps.Quota.Check(ctx, bot); err != nil {
		s.logger.Warn("Quota check failed", zap.String("bot_id", bot.ID), zap.Error(err))
	}
}
