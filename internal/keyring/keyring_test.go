package keyring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockKeyStore struct {
	mock.Mock
}

func (m *MockKeyStore) List(ctx context.Context, filter model.ProviderKeyFilter) ([]model.ProviderKey, error) {
	args := m.Called(ctx, filter)
	if v := args.Get(0); v != nil {
		return v.([]model.ProviderKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKeyStore) GetByID(ctx context.Context, id string) (*model.ProviderKey, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*model.ProviderKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKeyStore) Touch(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func key(id string, priority int, tags ...string) model.ProviderKey {
	return model.ProviderKey{
		ID:       id,
		Vendor:   "openai",
		Secret:   "secret-" + id,
		Priority: priority,
		IsActive: true,
		Tags:     model.EncodeTags(tags),
	}
}

func newKeyring(keys *MockKeyStore) *Keyring {
	keys.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return New(keys, zap.NewNop())
}

func TestSelect_RotatesAmongHighestPriority(t *testing.T) {
	keys := new(MockKeyStore)
	keys.On("List", mock.Anything, model.ProviderKeyFilter{Vendor: "openai", ActiveOnly: true}).
		Return([]model.ProviderKey{key("k1", 10), key("k2", 10), key("k3", 1)}, nil)
	k := newKeyring(keys)

	var got []string
	for i := 0; i < 4; i++ {
		cred, err := k.Select(context.Background(), "OpenAI", nil, "")
		require.NoError(t, err)
		got = append(got, cred.KeyID)
	}
	assert.Equal(t, []string{"k1", "k2", "k1", "k2"}, got)
}

func TestSelect_RequiresEveryTag(t *testing.T) {
	keys := new(MockKeyStore)
	keys.On("List", mock.Anything, mock.Anything).
		Return([]model.ProviderKey{key("k1", 50, "team-a"), key("k2", 1, "team-a", "prod")}, nil)
	k := newKeyring(keys)

	cred, err := k.Select(context.Background(), "openai", []string{"team-a", "prod"}, "")
	require.NoError(t, err)
	assert.Equal(t, "k2", cred.KeyID)
	assert.Equal(t, "secret-k2", cred.Secret)

	_, err = k.Select(context.Background(), "openai", []string{"team-b"}, "")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Contains(t, err.Error(), "openai")
	assert.NotContains(t, err.Error(), "k1")
}

func TestSelect_KeyRef(t *testing.T) {
	pinned := key("pinned", 0)
	pinned.BaseURL = "https://proxy.internal/v1"
	pinned.APIType = "anthropic"
	pinned.Vendor = "anthropic"

	inactive := key("inactive", 0)
	inactive.IsActive = false

	keys := new(MockKeyStore)
	keys.On("GetByID", mock.Anything, "pinned").Return(&pinned, nil)
	keys.On("GetByID", mock.Anything, "inactive").Return(&inactive, nil)
	keys.On("GetByID", mock.Anything, "missing").Return(nil, store.ErrNotFound)
	keys.On("GetByID", mock.Anything, "broken").Return(nil, errors.New("db down"))
	k := newKeyring(keys)
	ctx := context.Background()

	cred, err := k.Select(ctx, "anthropic", nil, "pinned")
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.internal/v1", cred.BaseURL)
	assert.Equal(t, vendor.APITypeAnthropic, cred.APIType)

	_, err = k.Select(ctx, "openai", nil, "pinned")
	assert.ErrorIs(t, err, ErrNoCredential, "vendor mismatch")

	_, err = k.Select(ctx, "openai", nil, "inactive")
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = k.Select(ctx, "openai", nil, "missing")
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = k.Select(ctx, "openai", nil, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredential)

	keys.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestFlush_CoalescesTouchesPerKey(t *testing.T) {
	keys := new(MockKeyStore)
	keys.On("List", mock.Anything, mock.Anything).Return([]model.ProviderKey{key("k1", 0)}, nil)

	used := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	keys.On("Touch", mock.Anything, "k1", used).Return(nil).Once()

	k := New(keys, zap.NewNop())
	k.now = func() time.Time { return used }

	for range 3 {
		_, err := k.Select(context.Background(), "openai", nil, "")
		require.NoError(t, err)
	}
	keys.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, k.Flush(context.Background()))
	// nothing pending the second time
	require.NoError(t, k.Flush(context.Background()))
	keys.AssertExpectations(t)
}

func TestFlush_ReportsStoreErrors(t *testing.T) {
	keys := new(MockKeyStore)
	keys.On("GetByID", mock.Anything, "k1").Return(&model.ProviderKey{ID: "k1", Vendor: "openai", IsActive: true}, nil)
	keys.On("Touch", mock.Anything, "k1", mock.Anything).Return(errors.New("database is locked"))

	k := New(keys, zap.NewNop())
	_, err := k.Select(context.Background(), "openai", nil, "k1")
	require.NoError(t, err)

	assert.ErrorContains(t, k.Flush(context.Background()), "database is locked")
}

func TestRun_FlushesOnTick(t *testing.T) {
	keys := new(MockKeyStore)
	keys.On("List", mock.Anything, mock.Anything).Return([]model.ProviderKey{key("k1", 0)}, nil)

	touched := make(chan string, 1)
	keys.On("Touch", mock.Anything, "k1", mock.Anything).
		Run(func(args mock.Arguments) { touched <- args.String(1) }).
		Return(nil)

	k := New(keys, zap.NewNop())
	_, err := k.Select(context.Background(), "openai", nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx, 20*time.Millisecond)

	select {
	case id := <-touched:
		assert.Equal(t, "k1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("key was not touched")
	}
}
