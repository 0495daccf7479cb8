// Package availability keeps the model_availability table in line with what
// each provider key can actually serve.
package availability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nulzo/bot-router/internal/forwarder"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.uber.org/zap"
)

// ErrEmptyListing means the vendor answered with no models at all. Existing
// rows are left alone so a scoped-down key cannot wipe a bot's routes.
var ErrEmptyListing = errors.New("vendor listed no models")

type KeyStore interface {
	List(ctx context.Context, filter model.ProviderKeyFilter) ([]model.ProviderKey, error)
}

type Store interface {
	ListAvailability(ctx context.Context, providerKeyID string) ([]model.ModelAvailability, error)
	SetAvailability(ctx context.Context, a *model.ModelAvailability) error
}

type VendorResolver interface {
	Resolve(id, baseURL string, apiType vendor.APIType) (vendor.Config, error)
}

type Fetcher interface {
	Do(ctx context.Context, vc vendor.Config, secret string, req *forwarder.Request) (*forwarder.Response, error)
}

// Summary reports one key's harvest.
type Summary struct {
	ProviderKeyID string   `json:"provider_key_id"`
	Vendor        string   `json:"vendor"`
	Available     int      `json:"available"`
	Withdrawn     []string `json:"withdrawn,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type Harvester struct {
	logger  *zap.Logger
	keys    KeyStore
	store   Store
	vendors VendorResolver
	fetcher Fetcher
}

func NewHarvester(logger *zap.Logger, keys KeyStore, store Store, vendors VendorResolver, fetcher Fetcher) *Harvester {
	return &Harvester{
		logger:  logger,
		keys:    keys,
		store:   store,
		vendors: vendors,
		fetcher: fetcher,
	}
}

// HarvestAll refreshes every active key. A failing key is reported in its
// summary and does not stop the others.
func (h *Harvester) HarvestAll(ctx context.Context) ([]Summary, error) {
	keys, err := h.keys.List(ctx, model.ProviderKeyFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list provider keys: %w", err)
	}

	summaries := make([]Summary, 0, len(keys))
	for _, key := range keys {
		s, err := h.HarvestKey(ctx, key)
		if err != nil {
			s.Error = err.Error()
			h.logger.Warn("Model harvest failed",
				zap.String("provider_key_id", key.ID),
				zap.String("vendor", key.Vendor),
				zap.Error(err),
			)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// HarvestKey lists the key's live models and marks them available. Models
// recorded earlier but no longer listed are marked unavailable.
func (h *Harvester) HarvestKey(ctx context.Context, key model.ProviderKey) (Summary, error) {
	summary := Summary{ProviderKeyID: key.ID, Vendor: key.Vendor}

	live, err := h.fetch(ctx, key)
	if err != nil {
		return summary, err
	}
	if len(live) == 0 {
		return summary, ErrEmptyListing
	}

	known, err := h.store.ListAvailability(ctx, key.ID)
	if err != nil {
		return summary, fmt.Errorf("load availability: %w", err)
	}

	for id := range live {
		if err := h.store.SetAvailability(ctx, &model.ModelAvailability{
			ModelID:       id,
			ProviderKeyID: key.ID,
			IsAvailable:   true,
		}); err != nil {
			return summary, fmt.Errorf("mark %s available: %w", id, err)
		}
	}
	summary.Available = len(live)

	for _, row := range known {
		if _, ok := live[row.ModelID]; ok || !row.IsAvailable {
			continue
		}
		if err := h.store.SetAvailability(ctx, &model.ModelAvailability{
			ModelID:       row.ModelID,
			ProviderKeyID: key.ID,
			IsAvailable:   false,
		}); err != nil {
			return summary, fmt.Errorf("withdraw %s: %w", row.ModelID, err)
		}
		summary.Withdrawn = append(summary.Withdrawn, row.ModelID)
	}

	h.logger.Info("Harvest complete",
		zap.String("provider_key_id", key.ID),
		zap.String("vendor", key.Vendor),
		zap.Int("available", summary.Available),
		zap.Int("withdrawn", len(summary.Withdrawn)),
	)
	return summary, nil
}

// Run harvests on every tick until ctx is done. A non-positive interval
// disables the loop.
func (h *Harvester) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.HarvestAll(ctx); err != nil {
				h.logger.Error("Scheduled harvest failed", zap.Error(err))
			}
		}
	}
}

func (h *Harvester) fetch(ctx context.Context, key model.ProviderKey) (map[string]struct{}, error) {
	vc, err := h.vendors.Resolve(key.Vendor, key.BaseURL, vendor.APIType(key.APIType))
	if err != nil {
		return nil, err
	}

	resp, err := h.fetcher.Do(ctx, vc, key.Secret, &forwarder.Request{
		Method: http.MethodGet,
		Path:   "/models",
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: list models returned %d", forwarder.ErrUpstream, resp.StatusCode)
	}
	return parseListing(resp.Body)
}

// modelListing covers the OpenAI style {"data":[{"id"}]} shape, which
// Anthropic shares, and the Gemini {"models":[{"name"}]} shape.
type modelListing struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func parseListing(body []byte) (map[string]struct{}, error) {
	var listing modelListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode model listing: %w", err)
	}

	ids := make(map[string]struct{}, len(listing.Data)+len(listing.Models))
	for _, m := range listing.Data {
		if m.ID != "" {
			ids[m.ID] = struct{}{}
		}
	}
	for _, m := range listing.Models {
		if id := strings.TrimPrefix(m.Name, "models/"); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}
