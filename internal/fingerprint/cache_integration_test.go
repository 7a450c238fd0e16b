//go:build integration

package fingerprint

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, err := NewRedisCache(ctx, setupRedis(t), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer cache.Close()

	miss, err := cache.Get(ctx, "unknown")
	if err != nil || miss != nil {
		t.Fatalf("expected clean miss, got %v, %v", miss, err)
	}

	want := &Descriptor{Vector: []float32{0.25, -1, 3.5}, BBox: []float64{1, 2, 3, 4}, DetScore: 0.97, Model: "dlib"}
	if err := cache.Set(ctx, "fp", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := cache.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || len(got.Vector) != 3 || got.Vector[1] != -1 || got.Model != "dlib" || got.DetScore != 0.97 {
		t.Errorf("unexpected descriptor %+v", got)
	}
}
