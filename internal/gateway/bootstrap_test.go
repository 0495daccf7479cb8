package gateway

import (
	"testing"

	"github.com/nulzo/bot-router/internal/config"
	"github.com/nulzo/bot-router/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildVendorRegistry(t *testing.T) {
	reg := BuildVendorRegistry([]config.VendorConfig{
		{ID: "internal-llm", BaseURL: "https://llm.internal/api", AuthFormat: "raw", AuthHeader: "X-Token",
			DefaultHeaders: map[string]string{"X-Team": "bots"}},
		{ID: "openai", BaseURL: "https://proxy.example.com/v1"},
		{ID: "broken", BaseURL: "not a url"},
		{ID: "", BaseURL: "https://x.example.com"},
	}, zap.NewNop())

	custom, ok := reg.Get("internal-llm")
	require.True(t, ok)
	assert.Equal(t, "llm.internal", custom.Host)
	assert.Equal(t, "/api", custom.BasePath)
	assert.Equal(t, "X-Token", custom.AuthHeader)
	assert.Equal(t, "sk", custom.AuthValue("sk"))
	assert.Equal(t, "bots", custom.DefaultHeaders["X-Team"])

	openai, ok := reg.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "proxy.example.com", openai.Host)
	assert.Equal(t, "Bearer sk", openai.AuthValue("sk"))

	_, ok = reg.Get("broken")
	assert.False(t, ok)

	anthropic, ok := reg.Get("anthropic")
	require.True(t, ok)
	assert.Equal(t, vendor.APITypeAnthropic, anthropic.APIType)
}
