package availability_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/bot-router/internal/availability"
	"github.com/nulzo/bot-router/internal/forwarder"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/store/sqlite"
	"github.com/nulzo/bot-router/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	repo, err := sqlite.NewSQLiteStorage(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func addKey(t *testing.T, repo store.Repository, id, vendorID, apiType, baseURL string) model.ProviderKey {
	t.Helper()
	now := time.Now().UTC()
	key := model.ProviderKey{
		ID:        id,
		Vendor:    vendorID,
		APIType:   apiType,
		BaseURL:   baseURL,
		Secret:    "sk-" + id,
		Tags:      "[]",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.ProviderKeys().Create(context.Background(), &key))
	return key
}

func newHarvester(repo store.Repository) *availability.Harvester {
	return availability.NewHarvester(
		zap.NewNop(),
		repo.ProviderKeys(),
		repo.BotModels(),
		vendor.DefaultRegistry(),
		forwarder.New(http.DefaultClient, zap.NewNop()),
	)
}

func TestHarvestKey_MarksLiveAndWithdrawsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-key-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	repo := newRepo(t)
	ctx := context.Background()
	key := addKey(t, repo, "key-1", "openai", "openai", srv.URL+"/v1")
	require.NoError(t, repo.BotModels().SetAvailability(ctx, &model.ModelAvailability{ModelID: "gpt-3.5-turbo", ProviderKeyID: "key-1", IsAvailable: true}))

	summary, err := newHarvester(repo).HarvestKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Available)
	assert.Equal(t, []string{"gpt-3.5-turbo"}, summary.Withdrawn)

	rows, err := repo.BotModels().ListAvailability(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []model.ModelAvailability{
		{ModelID: "gpt-3.5-turbo", ProviderKeyID: "key-1", IsAvailable: false},
		{ModelID: "gpt-4o", ProviderKeyID: "key-1", IsAvailable: true},
		{ModelID: "gpt-4o-mini", ProviderKeyID: "key-1", IsAvailable: true},
	}, rows)
}

func TestHarvestKey_GeminiListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-key-g", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini-1.5-pro"}]}`))
	}))
	defer srv.Close()

	repo := newRepo(t)
	key := addKey(t, repo, "key-g", "gemini", "gemini", srv.URL)

	summary, err := newHarvester(repo).HarvestKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Available)

	rows, err := repo.BotModels().ListAvailability(context.Background(), "key-g")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gemini-1.5-pro", rows[0].ModelID)
}

func TestHarvestKey_EmptyListingKeepsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	repo := newRepo(t)
	ctx := context.Background()
	key := addKey(t, repo, "key-1", "openai", "openai", srv.URL)
	require.NoError(t, repo.BotModels().SetAvailability(ctx, &model.ModelAvailability{ModelID: "gpt-4o", ProviderKeyID: "key-1", IsAvailable: true}))

	_, err := newHarvester(repo).HarvestKey(ctx, key)
	assert.ErrorIs(t, err, availability.ErrEmptyListing)

	rows, err := repo.BotModels().ListAvailability(ctx, "key-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsAvailable)
}

func TestHarvestAll_ReportsFailuresPerKey(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()

	repo := newRepo(t)
	addKey(t, repo, "key-a", "openai", "openai", good.URL)
	addKey(t, repo, "key-b", "openai", "openai", bad.URL)

	summaries, err := newHarvester(repo).HarvestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byKey := map[string]availability.Summary{}
	for _, s := range summaries {
		byKey[s.ProviderKeyID] = s
	}
	assert.Equal(t, 1, byKey["key-a"].Available)
	assert.Empty(t, byKey["key-a"].Error)
	assert.Contains(t, byKey["key-b"].Error, "401")
}
