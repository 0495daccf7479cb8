package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nulzo/bot-router/internal/forwarder"
	"github.com/nulzo/bot-router/internal/keyring"
	"github.com/nulzo/bot-router/internal/routing"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/cache"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockBots struct{ mock.Mock }

func (m *MockBots) GetByTokenHash(ctx context.Context, hash string) (*model.Bot, error) {
	args := m.Called(ctx, hash)
	if b := args.Get(0); b != nil {
		return b.(*model.Bot), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRouter struct{ mock.Mock }

func (m *MockRouter) RouteRequest(ctx context.Context, req routing.Request) (*routing.Result, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*routing.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockKeys struct{ mock.Mock }

func (m *MockKeys) Select(ctx context.Context, vendorID string, tags []string, keyRef string) (*keyring.Credential, error) {
	args := m.Called(ctx, vendorID, tags, keyRef)
	if c := args.Get(0); c != nil {
		return c.(*keyring.Credential), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingIngestor struct {
	mu      sync.Mutex
	entries []*model.UsageLog
}

func (r *recordingIngestor) Log(entry *model.UsageLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingIngestor) Start(context.Context) {}

func (r *recordingIngestor) Stop() {}

func (r *recordingIngestor) all() []*model.UsageLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.UsageLog(nil), r.entries...)
}

type quotaSpy struct{ calls chan string }

func (q *quotaSpy) Check(_ context.Context, bot *model.Bot) (bool, error) {
	q.calls <- bot.ID
	return false, nil
}

const botToken = "bot-secret-token"

func tokenHash() string {
	sum := sha256.Sum256([]byte(botToken))
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	bots     *MockBots
	router   *MockRouter
	keys     *MockKeys
	ingestor *recordingIngestor
	quota    *quotaSpy
	svc      Service
}

func newFixture(t *testing.T, upstream *httptest.Server, c cache.CacheService) *fixture {
	t.Helper()
	local, err := vendor.FromBaseURL("local", upstream.URL+"/v1", vendor.APITypeOpenAI)
	require.NoError(t, err)

	f := &fixture{
		bots:     &MockBots{},
		router:   &MockRouter{},
		keys:     &MockKeys{},
		ingestor: &recordingIngestor{},
		quota:    &quotaSpy{calls: make(chan string, 4)},
	}
	f.svc = NewService(zap.NewNop(), Dependencies{
		Bots:      f.bots,
		Router:    f.router,
		Keys:      f.keys,
		Vendors:   vendor.DefaultRegistry(local),
		Forwarder: forwarder.New(upstream.Client(), zap.NewNop(), forwarder.WithIdleTimeout(2*time.Second)),
		Ingestor:  f.ingestor,
		Quota:     f.quota,
		Cache:     c,
	})
	return f
}

func activeBot() *model.Bot {
	return &model.Bot{ID: "bot-1", Name: "bot", Tags: `["team-a"]`, IsActive: true}
}

func sseUpstream(t *testing.T, check func(r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if check != nil {
			check(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"data: a\n\n", "data: b\n\n", "data: [DONE]\n\n"} {
			_, _ = w.Write([]byte(chunk))
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProxy_RoutedStream(t *testing.T) {
	srv := sseUpstream(t, func(r *http.Request, body []byte) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-local", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Bot-Token"))
		assert.JSONEq(t, `{"model":"routed-model","messages":[{"role":"user","content":"写代码"}],"temperature":0.2}`, string(body))
	})
	f := newFixture(t, srv, nil)

	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil)
	f.router.On("RouteRequest", mock.Anything, routing.Request{BotID: "bot-1", Message: "写代码"}).Return(&routing.Result{
		Target:          routing.Target{Vendor: "local", Model: "routed-model", ProviderKeyRef: "key-1"},
		Strategy:        routing.StrategyFunctionRoute,
		RoutingConfigID: "cfg-1",
	}, nil)
	f.keys.On("Select", mock.Anything, "local", []string{"team-a"}, "key-1").
		Return(&keyring.Credential{KeyID: "key-1", Vendor: "local", Secret: "sk-local"}, nil)

	header := http.Header{}
	header.Set("X-Bot-Token", botToken)
	header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	res := f.svc.Proxy(context.Background(), rec, &ProxyRequest{
		Method:   http.MethodPost,
		Path:     "/chat/completions",
		Header:   header,
		Body:     []byte(`{"model":"auto","messages":[{"role":"user","content":"写代码"}],"temperature":0.2}`),
		BotToken: botToken,
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.True(t, res.Streamed)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "data: a\n\ndata: b\n\ndata: [DONE]\n\n", rec.Body.String())

	entries := f.ingestor.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "bot-1", entries[0].BotID)
	assert.Equal(t, "key-1", entries[0].ProviderKeyID)
	assert.Equal(t, "routed-model", entries[0].Model)
	assert.Equal(t, "cfg-1", entries[0].RoutingConfigID)
	assert.Equal(t, int64(200), entries[0].StatusCode.Int64)
	assert.True(t, entries[0].StatusCode.Valid)

	select {
	case id := <-f.quota.calls:
		assert.Equal(t, "bot-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("quota check was not run")
	}
}

func TestProxy_InvalidToken(t *testing.T) {
	srv := sseUpstream(t, func(*http.Request, []byte) { t.Error("upstream must not be called") })
	f := newFixture(t, srv, nil)
	f.bots.On("GetByTokenHash", mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)

	res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Path: "/x", BotToken: "nope"})
	assert.ErrorIs(t, res.Err, ErrInvalidBotToken)
	assert.Equal(t, "invalid bot token", res.Err.Error())

	res = f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Path: "/x"})
	assert.ErrorIs(t, res.Err, ErrInvalidBotToken)

	f.bots.AssertNumberOfCalls(t, "GetByTokenHash", 1)
	f.router.AssertNotCalled(t, "RouteRequest", mock.Anything, mock.Anything)
	assert.Empty(t, f.ingestor.all())
}

func TestProxy_InactiveBotRejected(t *testing.T) {
	f := newFixture(t, sseUpstream(t, nil), nil)
	bot := activeBot()
	bot.IsActive = false
	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(bot, nil)

	res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Path: "/x", BotToken: botToken})
	assert.ErrorIs(t, res.Err, ErrInvalidBotToken)
}

func TestProxy_NoRoute(t *testing.T) {
	f := newFixture(t, sseUpstream(t, nil), nil)
	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil)
	f.router.On("RouteRequest", mock.Anything, mock.Anything).Return(nil, routing.ErrNoRoute)

	res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Path: "/chat/completions", BotToken: botToken})
	assert.ErrorIs(t, res.Err, ErrRoutingUnavailable)
	assert.False(t, res.Success)
	f.keys.AssertNotCalled(t, "Select", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	entries := f.ingestor.all()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].StatusCode.Valid)
	assert.NotEmpty(t, entries[0].ErrorMessage)
}

func TestProxy_NoCredential(t *testing.T) {
	f := newFixture(t, sseUpstream(t, nil), nil)
	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil)
	f.keys.On("Select", mock.Anything, "local", []string{"team-a"}, "").Return(nil, keyring.ErrNoCredential)

	res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Vendor: "LOCAL", Path: "/chat/completions", BotToken: botToken})
	assert.ErrorIs(t, res.Err, ErrCredentialUnavailable)
	assert.NotErrorIs(t, res.Err, ErrInvalidBotToken)
	assert.Contains(t, res.Err.Error(), "local")
	assert.Len(t, f.ingestor.all(), 1)
}

func TestProxy_UnknownStaticVendor(t *testing.T) {
	f := newFixture(t, sseUpstream(t, nil), nil)
	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil)

	res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Vendor: "nowhere", Path: "/x", BotToken: botToken})
	assert.ErrorIs(t, res.Err, vendor.ErrUnknownVendor)
	f.keys.AssertNotCalled(t, "Select", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProxy_BufferedWhenStreamFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1"}`))
	}))
	t.Cleanup(srv.Close)

	f := newFixture(t, srv, nil)
	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil)
	f.keys.On("Select", mock.Anything, "local", mock.Anything, "").
		Return(&keyring.Credential{KeyID: "key-2", Vendor: "local", Secret: "sk"}, nil)

	rec := httptest.NewRecorder()
	res := f.svc.Proxy(context.Background(), rec, &ProxyRequest{
		Vendor:   "local",
		Method:   http.MethodPost,
		Path:     "/chat/completions",
		Body:     []byte(`{"model":"gpt-4o","stream":false}`),
		BotToken: botToken,
	})

	require.NoError(t, res.Err)
	assert.False(t, res.Streamed)
	assert.True(t, res.Success)
	assert.JSONEq(t, `{"id":"cmpl-1"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	entries := f.ingestor.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "gpt-4o", entries[0].Model)
	assert.False(t, entries[0].IsStreamed)
}

func TestProxy_UpstreamFailure(t *testing.T) {
	srv := sseUpstream(t, nil)
	f := newFixture(t, srv, nil)
	srv.Close()

	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil)
	f.keys.On("Select", mock.Anything, "local", mock.Anything, "").
		Return(&keyring.Credential{KeyID: "key-3", Vendor: "local", Secret: "sk-hidden"}, nil)

	res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Vendor: "local", Path: "/chat/completions", BotToken: botToken})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, forwarder.ErrUpstream)
	assert.NotContains(t, res.Err.Error(), "sk-hidden")
	assert.Zero(t, res.StatusCode)

	entries := f.ingestor.all()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].StatusCode.Valid)

	select {
	case <-f.quota.calls:
		t.Fatal("quota check must only run after success")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProxy_CachesBotLookup(t *testing.T) {
	f := newFixture(t, sseUpstream(t, nil), cache.NewMemoryCache())
	f.bots.On("GetByTokenHash", mock.Anything, tokenHash()).Return(activeBot(), nil).Once()
	f.keys.On("Select", mock.Anything, "local", []string{"team-a"}, "").
		Return(&keyring.Credential{KeyID: "key-1", Vendor: "local", Secret: "sk"}, nil)

	for range 2 {
		res := f.svc.Proxy(context.Background(), httptest.NewRecorder(), &ProxyRequest{Vendor: "local", Path: "/chat/completions", BotToken: botToken})
		require.NoError(t, res.Err)
	}
	f.bots.AssertNumberOfCalls(t, "GetByTokenHash", 1)
}

func TestRewriteModel(t *testing.T) {
	out := rewriteModel([]byte(`{"model":"a","stream":true,"n":1}`), "b")
	assert.JSONEq(t, `{"model":"b","stream":true,"n":1}`, string(out))

	assert.Equal(t, "not json", string(rewriteModel([]byte("not json"), "b")))
	assert.Equal(t, `{"model":"a"}`, string(rewriteModel([]byte(`{"model":"a"}`), "")))
}

func TestInspectBody(t *testing.T) {
	insp := inspectBody([]byte(`{
		"model": "x",
		"stream": false,
		"tools": [{"type": "function"}],
		"messages": [
			{"role": "system", "content": "be nice"},
			{"role": "user", "content": "first"},
			{"role": "assistant", "content": "ok"},
			{"role": "user", "content": [{"type": "text", "text": "second"}]}
		]
	}`))
	assert.Equal(t, "second", insp.message)
	assert.Equal(t, []string{"be nice", "first", "ok"}, insp.context)
	assert.True(t, insp.hasTools)
	require.NotNil(t, insp.stream)
	assert.False(t, *insp.stream)
	assert.Equal(t, "x", insp.model)

	assert.Equal(t, inspection{}, inspectBody([]byte("garbage")))
}
