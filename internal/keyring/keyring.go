// Package keyring picks the provider credential used for an upstream call.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.uber.org/zap"
)

// ErrNoCredential means no active key matched the vendor and tags.
var ErrNoCredential = errors.New("no credential available")

// Credential is the selected key. Secret must never be logged.
type Credential struct {
	KeyID   string
	Vendor  string
	Secret  string
	BaseURL string
	APIType vendor.APIType
}

// KeyStore is the slice of store.ProviderKeyRepository the keyring needs.
type KeyStore interface {
	List(ctx context.Context, filter model.ProviderKeyFilter) ([]model.ProviderKey, error)
	GetByID(ctx context.Context, id string) (*model.ProviderKey, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type Keyring struct {
	keys   KeyStore
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*atomic.Uint64

	// last use per key, written to the store by Flush
	touchMu  sync.Mutex
	lastUsed map[string]time.Time
}

func New(keys KeyStore, logger *zap.Logger) *Keyring {
	return &Keyring{
		keys:     keys,
		logger:   logger,
		now:      time.Now,
		counters: make(map[string]*atomic.Uint64),
		lastUsed: make(map[string]time.Time),
	}
}

// Select returns one credential for vendorID. A non-empty keyRef pins the
// key, which must be active and belong to the vendor. Otherwise the active
// keys carrying every tag in tags are considered and the highest priority
// ones are rotated per vendor.
func (k *Keyring) Select(ctx context.Context, vendorID string, tags []string, keyRef string) (*Credential, error) {
	vendorID = strings.ToLower(vendorID)

	if keyRef != "" {
		key, err := k.keys.GetByID(ctx, keyRef)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w for vendor %s", ErrNoCredential, vendorID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load provider key: %w", err)
		}
		if !key.IsActive || !strings.EqualFold(key.Vendor, vendorID) {
			return nil, fmt.Errorf("%w for vendor %s", ErrNoCredential, vendorID)
		}
		return k.issue(key), nil
	}

	keys, err := k.keys.List(ctx, model.ProviderKeyFilter{Vendor: vendorID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list provider keys: %w", err)
	}

	candidates := topPriority(matchingTags(keys, tags))
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for vendor %s", ErrNoCredential, vendorID)
	}

	idx := k.counter(vendorID).Add(1) - 1
	key := candidates[idx%uint64(len(candidates))]
	return k.issue(&key), nil
}

func (k *Keyring) issue(key *model.ProviderKey) *Credential {
	k.touchMu.Lock()
	k.lastUsed[key.ID] = k.now()
	k.touchMu.Unlock()

	return &Credential{
		KeyID:   key.ID,
		Vendor:  strings.ToLower(key.Vendor),
		Secret:  key.Secret,
		BaseURL: key.BaseURL,
		APIType: vendor.APIType(key.APIType),
	}
}

// Flush writes the pending last-used times, one update per key no matter
// how often it was selected since the previous flush.
func (k *Keyring) Flush(ctx context.Context) error {
	k.touchMu.Lock()
	pending := k.lastUsed
	k.lastUsed = make(map[string]time.Time, len(pending))
	k.touchMu.Unlock()

	var errs []error
	for id, at := range pending {
		if err := k.keys.Touch(ctx, id, at); err != nil {
			k.logger.Warn("Failed to update provider key usage", zap.String("key_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes on every tick until ctx is done.
func (k *Keyring) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = k.Flush(flushCtx)
			cancel()
		}
	}
}

func (k *Keyring) counter(vendorID string) *atomic.Uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.counters[vendorID]
	if !ok {
		c = &atomic.Uint64{}
		k.counters[vendorID] = c
	}
	return c
}

func matchingTags(keys []model.ProviderKey, required []string) []model.ProviderKey {
	if len(required) == 0 {
		return keys
	}
	out := make([]model.ProviderKey, 0, len(keys))
	for _, key := range keys {
		if hasAll(key.TagList(), required) {
			out = append(out, key)
		}
	}
	return out
}

func hasAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// topPriority keeps the keys sharing the highest priority, in input order.
func topPriority(keys []model.ProviderKey) []model.ProviderKey {
	if len(keys) == 0 {
		return nil
	}
	best := keys[0].Priority
	for _, key := range keys[1:] {
		if key.Priority > best {
			best = key.Priority
		}
	}
	out := make([]model.ProviderKey, 0, len(keys))
	for _, key := range keys {
		if key.Priority == best {
			out = append(out, key)
		}
	}
	return out
}
