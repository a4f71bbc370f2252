package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalLoggerChains(t *testing.T) {
	// Level methods must be callable directly off the accessor.
	L().Debug().Str("k", "v").Msg("chained off global")
	Ctx(context.Background()).Debug().Msg("chained off context fallback")
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.Same(t, L(), Ctx(context.Background()))
}

func TestCtxReturnsAttachedLogger(t *testing.T) {
	child := New(Config{Level: "debug"})
	ctx := WithLogger(context.Background(), &child)

	got := Ctx(ctx)
	require.NotNil(t, got)
	assert.Same(t, &child, got)
	assert.Equal(t, zerolog.DebugLevel, got.GetLevel())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"fatal":    zerolog.FatalLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNewAppliesServiceField(t *testing.T) {
	l := New(Config{Level: "warn", Service: "radio"})
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}
