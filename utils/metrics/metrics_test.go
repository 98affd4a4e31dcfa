package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistryLifecycle(t *testing.T) {
	Initialize(zaptest.NewLogger(t))

	m := NewSubstrateMetrics("flashjit")
	m.Pools.Set(3)
	m.Providers.Set(2)
	m.Snapshots.Inc()
	m.Reverts.Inc()

	families, err := Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["flashjit_pools"])
	assert.True(t, names["flashjit_loan_providers"])
	assert.True(t, names["flashjit_snapshots_total"])
	assert.True(t, names["flashjit_reverts_total"])
	assert.True(t, names["go_goroutines"])

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "flashjit_pools")
}
