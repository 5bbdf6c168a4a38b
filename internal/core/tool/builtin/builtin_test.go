package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/storage/kv"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
)

func newCatalog(t *testing.T, withStore bool) (*tool.Catalog, *kv.Store) {
	t.Helper()
	var store *kv.Store
	if withStore {
		s, err := kv.Open(kv.Config{InMemory: true, Logger: logger.Discard()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
		store = s
	}
	c := tool.NewCatalog(logger.Discard())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, Register(c, Deps{
		InstanceID: "inst-1",
		Category:   "test",
		StartedAt:  start,
		Store:      store,
		Now:        func() time.Time { return start.Add(90 * time.Second) },
	}))
	return c, store
}

func call(t *testing.T, c *tool.Catalog, connID, name, args string) (any, error) {
	t.Helper()
	tl, ok := c.Lookup(name)
	require.True(t, ok, name)
	return tl.Handler(tool.WithConnectionID(context.Background(), connID), json.RawMessage(args))
}

func TestRegister_WithoutStore(t *testing.T) {
	c, _ := newCatalog(t, false)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup("kv_get")
	assert.False(t, ok)

	cat, ok := c.CategoryOf("echo")
	assert.True(t, ok)
	assert.Equal(t, CategoryUtil, cat)
}

func TestRegister_Duplicate(t *testing.T) {
	c, _ := newCatalog(t, false)
	err := Register(c, Deps{})
	assert.ErrorIs(t, err, domain.ErrDuplicateTool)
}

func TestEcho(t *testing.T) {
	c, _ := newCatalog(t, false)
	out, err := call(t, c, "c1", "echo", `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"x":1}`), out)
}

func TestServerInfo(t *testing.T) {
	c, _ := newCatalog(t, true)
	out, err := call(t, c, "c1", "server_info", `{}`)
	require.NoError(t, err)

	info, ok := out.(serverInfoResult)
	require.True(t, ok)
	assert.Equal(t, "inst-1", info.InstanceID)
	assert.Equal(t, "test", info.Category)
	assert.Equal(t, int64(90), info.UptimeSeconds)
	assert.NotEmpty(t, info.Build.GoVersion)
	assert.NotNil(t, info.KV)
}

func TestKVTools_RoundTrip(t *testing.T) {
	c, _ := newCatalog(t, true)
	assert.Equal(t, 6, c.Len())

	_, err := call(t, c, "c1", "kv_set", `{"key":"color","value":"blue"}`)
	require.NoError(t, err)

	out, err := call(t, c, "c1", "kv_get", `{"key":"color"}`)
	require.NoError(t, err)
	assert.Equal(t, kvValue{Key: "color", Value: "blue", Found: true}, out)

	// Another connection does not see it.
	out, err = call(t, c, "c2", "kv_get", `{"key":"color"}`)
	require.NoError(t, err)
	assert.Equal(t, kvValue{Key: "color"}, out)

	_, err = call(t, c, "c1", "kv_delete", `{"key":"color"}`)
	require.NoError(t, err)
	out, err = call(t, c, "c1", "kv_get", `{"key":"color"}`)
	require.NoError(t, err)
	assert.False(t, out.(kvValue).Found)
}

func TestKVTools_List(t *testing.T) {
	c, _ := newCatalog(t, true)
	for _, k := range []string{"user.a", "user.b", "other"} {
		_, err := call(t, c, "c1", "kv_set", `{"key":"`+k+`","value":"v","ttl_seconds":60}`)
		require.NoError(t, err)
	}
	_, err := call(t, c, "c2", "kv_set", `{"key":"user.z","value":"v"}`)
	require.NoError(t, err)

	out, err := call(t, c, "c1", "kv_list", `{"prefix":"user."}`)
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, 2, res["count"])
	entries := res["entries"].([]kvValue)
	assert.Equal(t, "user.a", entries[0].Key)
	assert.False(t, entries[0].ExpiresAt.IsZero())

	out, err = call(t, c, "c1", "kv_list", `{"limit":1}`)
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["count"])
}

func TestKVTools_InvalidArguments(t *testing.T) {
	c, _ := newCatalog(t, true)

	_, err := call(t, c, "c1", "kv_set", `{"value":"v"}`)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = call(t, c, "c1", "kv_get", `[1,2]`)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = call(t, c, "c1", "kv_delete", `{}`)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestConnectionCleanup(t *testing.T) {
	c, store := newCatalog(t, true)
	_, err := call(t, c, "c1", "kv_set", `{"key":"a","value":"1"}`)
	require.NoError(t, err)
	_, err = call(t, c, "c2", "kv_set", `{"key":"a","value":"2"}`)
	require.NoError(t, err)

	cleanup := ConnectionCleanup(store)
	require.NoError(t, cleanup(context.Background(), "c1"))
	require.NoError(t, cleanup(context.Background(), ""))

	out, err := call(t, c, "c1", "kv_get", `{"key":"a"}`)
	require.NoError(t, err)
	assert.False(t, out.(kvValue).Found)
	out, err = call(t, c, "c2", "kv_get", `{"key":"a"}`)
	require.NoError(t, err)
	assert.True(t, out.(kvValue).Found)

	// A closed store is not an error at teardown.
	require.NoError(t, store.Shutdown(context.Background()))
	assert.NoError(t, cleanup(context.Background(), "c2"))
}
