package integration

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fipe-crawler/internal/testutil"
	"fipe-crawler/pkg/cache"
	"fipe-crawler/pkg/fipe"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestRedisStoreRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := cache.NewRedisStore(redisClient, time.Hour)
	key := cache.Key{Reference: "308", VehicleType: "cars", Name: "brands"}

	if _, err := store.Get(ctx, key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for absent key, got %v", err)
	}

	payload := []byte(`[{"code":"59","name":"VW"}]`)
	if err := store.Set(ctx, key, payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %s, got %s", payload, got)
	}

	// Entries are namespaced within the shared instance.
	keys, err := redisClient.Keys(ctx, "fipe:cache:*").Result()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "fipe:cache:308:cars:brands" {
		t.Errorf("Unexpected redis keys: %v", keys)
	}
}

// TestListingServedFromRedis exercises the full flow: first listing call
// hits the catalog and fills the cache, second one never leaves Redis.
func TestListingServedFromRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetJSON(testutil.BrandsPath("cars"), `[{"code":"59","name":"VW"},{"code":"21","name":"Fiat"}]`)

	client := fipe.New(fipe.Config{
		BaseURL: mock.URL(),
		Timeout: 5 * time.Second,
		Cache:   cache.NewRedisStore(redisClient, time.Hour),
	})

	ctx := context.Background()
	first, err := client.ListBrands(ctx, fipe.Cars, "308")
	if err != nil {
		t.Fatalf("First ListBrands failed: %v", err)
	}
	second, err := client.ListBrands(ctx, fipe.Cars, "308")
	if err != nil {
		t.Fatalf("Second ListBrands failed: %v", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("Expected 2 brands from both calls, got %d and %d", len(first), len(second))
	}
	if second[0].Name != "VW" || second[1].Name != "Fiat" {
		t.Errorf("Cached listing lost its order: %+v", second)
	}
	if count := mock.RequestCount(); count != 1 {
		t.Errorf("Expected exactly 1 catalog request, got %d", count)
	}
}
