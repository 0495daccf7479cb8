package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestNew_Encodings(t *testing.T) {
	for _, cfg := range []Config{
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "console"},
		{Level: "info", Format: "console", EnableColor: true},
	} {
		l, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestColoredConsoleEncoder_KeepsHeader(t *testing.T) {
	cfg := zap.NewProductionEncoderConfig()
	enc := newColoredConsoleEncoder(cfg)

	buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: "routed", Time: time.Now()},
		[]zapcore.Field{zap.String("bot_id", "b1")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "routed")
	assert.Contains(t, buf.String(), "bot_id")
}

func TestSetAndGet(t *testing.T) {
	nop := zap.NewNop()
	Set(nop)
	assert.Same(t, nop, Get())
}
