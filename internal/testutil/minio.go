package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MinIO credentials of the test container.
const (
	MinioAccessKey = "minioadmin"
	MinioSecretKey = "minioadmin"
)

var (
	minioOnce      sync.Once
	minioContainer testcontainers.Container
	minioEndpoint  string
	minioErr       error
)

// Minio returns the host:port of a MinIO container started on first use and
// shared by every test in the package. Call TerminateMinio from TestMain.
func Minio(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	minioOnce.Do(func() {
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "minio/minio:latest",
				ExposedPorts: []string{"9000/tcp"},
				Env: map[string]string{
					"MINIO_ROOT_USER":     MinioAccessKey,
					"MINIO_ROOT_PASSWORD": MinioSecretKey,
				},
				Cmd:        []string{"server", "/data"},
				WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
			},
			Started: true,
		})
		if err != nil {
			minioErr = fmt.Errorf("failed to start MinIO container: %w", err)
			return
		}
		host, err := c.Host(ctx)
		if err != nil {
			_ = c.Terminate(ctx)
			minioErr = fmt.Errorf("failed to get MinIO host: %w", err)
			return
		}
		port, err := c.MappedPort(ctx, "9000/tcp")
		if err != nil {
			_ = c.Terminate(ctx)
			minioErr = fmt.Errorf("failed to get MinIO port: %w", err)
			return
		}
		minioContainer, minioEndpoint = c, fmt.Sprintf("%s:%s", host, port.Port())
	})
	if minioErr != nil {
		t.Fatal(minioErr)
	}
	return minioEndpoint
}

// TerminateMinio stops the shared MinIO container if it was started.
func TerminateMinio(ctx context.Context) error {
	if minioContainer == nil {
		return nil
	}
	return minioContainer.Terminate(ctx)
}
