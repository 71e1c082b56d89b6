package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/config"
)

func TestConnectWithoutIntegrations(t *testing.T) {
	t.Parallel()

	a := New(config.Config{}, nil)
	require.NoError(t, a.Connect(context.Background()))
	assert.Nil(t, a.BlobStore())
	assert.Nil(t, a.Publisher())
	assert.Nil(t, a.RunStore())
	a.Close()
}

func TestConnectLocalStorage(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Storage: config.StorageConfig{Provider: config.StorageLocal, LocalDir: t.TempDir()}}
	a := New(cfg, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))
	defer a.Close()

	require.NotNil(t, a.BlobStore())
	uri, err := a.BlobStore().PutObject(context.Background(), "run/results.csv", "text/csv", strings.NewReader("title\n"))
	require.NoError(t, err)
	assert.Contains(t, uri, "results.csv")
}

func TestConnectBadDSN(t *testing.T) {
	t.Parallel()

	a := New(config.Config{DB: config.DBConfig{DSN: "postgres://%zz"}}, nil)
	require.Error(t, a.Connect(context.Background()))
	a.Close()
}

func TestRegistryGathers(t *testing.T) {
	t.Parallel()

	a := New(config.Config{}, nil)
	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
