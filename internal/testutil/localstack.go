// Package testutil starts a shared LocalStack container for integration tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// Region is the region every LocalStack client is configured for.
const Region = "us-east-1"

var (
	once      sync.Once
	container *localstack.LocalStackContainer
	endpoint  string
	startErr  error
)

// LocalStack returns an aws.Config pointing at a LocalStack container that is
// started on first use and shared by every test in the package. Call
// Terminate from TestMain to stop it.
func LocalStack(ctx context.Context, t *testing.T) aws.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	once.Do(func() {
		c, err := localstack.Run(ctx, "localstack/localstack:latest")
		if err != nil {
			startErr = fmt.Errorf("failed to start LocalStack container: %w", err)
			return
		}

		port, _ := nat.NewPort("tcp", "4566")
		uri, err := c.PortEndpoint(ctx, port, "")
		if err != nil {
			_ = c.Terminate(ctx)
			startErr = fmt.Errorf("failed to get LocalStack endpoint: %w", err)
			return
		}
		if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
			uri = "http://" + uri
		}
		container, endpoint = c, uri
	})
	if startErr != nil {
		t.Fatal(startErr)
	}

	return aws.Config{
		Region:       Region,
		BaseEndpoint: aws.String(endpoint),
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		}),
	}
}

// Endpoint returns the LocalStack URL, or "" before LocalStack has started.
func Endpoint() string {
	return endpoint
}

// Terminate stops the shared container if it was started.
func Terminate(ctx context.Context) error {
	if container == nil {
		return nil
	}
	return container.Terminate(ctx)
}
