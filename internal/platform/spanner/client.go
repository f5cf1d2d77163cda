// Package spanner provides Cloud Spanner client initialization and
// transaction scopes.
package spanner

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
)

// Config holds Spanner connection configuration.
type Config struct {
	ProjectID  string `env:"PROJECT_ID"`
	InstanceID string `env:"INSTANCE_ID"`
	DatabaseID string `env:"DATABASE_ID"`
}

// DSN returns the database path.
func (c Config) DSN() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s",
		c.ProjectID, c.InstanceID, c.DatabaseID)
}

// NewClient creates a client. The SPANNER_EMULATOR_HOST environment variable
// is honoured by the client library itself. The caller closes the client.
func NewClient(ctx context.Context, cfg Config) (*spanner.Client, error) {
	client, err := spanner.NewClient(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create spanner client: %w", err)
	}
	return client, nil
}
