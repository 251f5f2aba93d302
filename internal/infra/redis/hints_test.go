package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("BIOMES_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BIOMES_TEST_REDIS_URL not set")
	}

	c, err := NewClient(context.Background(), Config{URL: url, KeyPrefix: "test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHintStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewHintStore(newTestClient(t))

	_, ok, err := store.LastDevLogin(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetLastDevLogin(ctx, "9001"))
	id, ok, err := store.LastDevLogin(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "9001", id)

	require.NoError(t, store.ClearLastDevLogin(ctx))
	_, ok, err = store.LastDevLogin(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClient_Key(t *testing.T) {
	c := &Client{prefix: "biomes-client"}
	require.Equal(t, "biomes-client:hints:last_dev_login", c.key("hints", "last_dev_login"))
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{URL: "not a url"})
	require.Error(t, err)
}
