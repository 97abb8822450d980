package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-exchange/client"
	"github.com/agentuity/go-exchange/exchange"
	"github.com/agentuity/go-exchange/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionResponses = `
responses:
  - query: "query { items }"
    results:
      - data:
          items:
            - __typename: Item
              id: "1"
  - query: "mutation { addItem }"
    results:
      - data:
          addItem:
            __typename: Item
            id: "2"
`

func TestSQLiteBackendInvalidatesAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cache.db")
	runSession := func(steps string) []Report {
		fn := filepath.Join(dir, "scenario.yaml")
		require.NoError(t, os.WriteFile(fn, []byte(sessionResponses+steps), 0o644))
		out, err := execute(t, "run", fn, "--store", StoreSQLite, "--sqlite-path", dbPath)
		require.NoError(t, err)
		return decodeReports(t, out)
	}

	first := runSession(`
steps:
  - query: "query { items }"
`)
	require.Len(t, first, 1)
	assert.Equal(t, SourceNetwork, first[0].Source)

	cached := runSession(`
steps:
  - query: "query { items }"
`)
	require.Len(t, cached, 1)
	assert.Equal(t, SourceCache, cached[0].Source)

	second := runSession(`
steps:
  - kind: mutation
    query: "mutation { addItem }"
  - query: "query { items }"
`)
	require.Len(t, second, 2)
	assert.Equal(t, SourceNetwork, second[0].Source)
	assert.Equal(t, SourceNetwork, second[1].Source)
}

func TestRedisBackendIndexSurvivesStoreClear(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	b, err := openBackend(ctx, logger.NewTestLogger(), backendConfig{
		store:    StoreRedis,
		redisURL: "redis://" + mr.Addr(),
		prefix:   "app",
		expires:  time.Hour,
	})
	require.NoError(t, err)
	defer b.Close()

	c := client.New(b.store, b.index)
	result := &exchange.Result{Data: map[string]any{"item": map[string]any{"__typename": "Item", "id": "1"}}}
	require.NoError(t, c.UpdateCacheEntry(ctx, "k1", result))
	assert.True(t, mr.Exists("app-typename:type:Item"))

	require.NoError(t, b.store.Clear(ctx))
	keys, err := b.index.KeysFor(ctx, []string{"Item"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)
}
