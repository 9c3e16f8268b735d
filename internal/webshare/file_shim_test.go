package webshare_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/webshare"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileShimLifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shim.json")
	shim := webshare.NewFileShim(path, logs.NewTestingLog(t))

	list, err := shim.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "missing file is an empty allow-list")

	first, err := shim.Create(ctx, "1.2.3.4")
	require.NoError(t, err)
	second, err := shim.Create(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	list, err = shim.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationList{*first, *second}, list)

	require.NoError(t, shim.Delete(ctx, first.ID))
	assert.ErrorIs(t, shim.Delete(ctx, first.ID), domain.ErrGatewayApplication)

	list, err = shim.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationList{*second}, list)
}

func TestFileShimWhatsMyIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ip_address":"198.51.100.1","next_id":5,"results":[{"id":4,"ip_address":"198.51.100.1"}]}`), 0644))
	shim := webshare.NewFileShim(path, logs.NewTestingLog(t))

	addr, err := shim.WhatsMyIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Address("198.51.100.1"), addr)

	auth, err := shim.Create(context.Background(), "198.51.100.2")
	require.NoError(t, err)
	assert.Equal(t, "5", auth.ID)
}

func TestFileShimCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
	shim := webshare.NewFileShim(path, logs.NewTestingLog(t))

	_, err := shim.List(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayApplication)
}
