//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cl3t4p/ip-notifier/internal/store"
	redisstore "github.com/cl3t4p/ip-notifier/internal/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var _ store.AddressStore = (*redisstore.Store)(nil)

// setupRedis starts a throwaway Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestStore_LoadSaveRoundTrip(t *testing.T) {
	url := setupRedis(t)

	s, err := redisstore.New(url, "test:last-known")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	addr, found, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, addr)

	for _, v := range []string{"1.2.3.4", " 5.6.7.8\n", ""} {
		require.NoError(t, s.Save(ctx, v))
		got, found, err := s.Load(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, v, got)
	}
}

func TestNew_UnreachableServer(t *testing.T) {
	_, err := redisstore.New("redis://127.0.0.1:1/0", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := redisstore.New("not a url", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
