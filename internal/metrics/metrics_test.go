package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := Register(reg)
	require.NoError(t, err)
	require.NotNil(t, h)
	_, err = Register(reg)
	require.NoError(t, err)
}

func TestObserveIdPCall(t *testing.T) {
	before := testutil.ToFloat64(IdPRequests.WithLabelValues("test", "token", "error"))
	ObserveIdPCall("test", "token", time.Now(), errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(IdPRequests.WithLabelValues("test", "token", "error")))
}
