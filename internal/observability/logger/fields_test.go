package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmailIsMasked(t *testing.T) {
	require.Equal(t, "j***@example.org", Email("jdoe@example.org").String)
	require.Equal(t, "***", Email("not-an-email").String)
}

func TestFromFallsBackToSingleton(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	From(context.Background()).Info("hello")
	require.Equal(t, 1, logs.Len())

	scoped := zap.New(core).With(RequestID("r1"))
	From(ToContext(context.Background(), scoped)).Info("scoped")
	require.Equal(t, 2, logs.Len())
	require.Equal(t, "r1", logs.All()[1].ContextMap()["request_id"])
}
