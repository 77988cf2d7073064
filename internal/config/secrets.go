package config

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretAccessor reads a secret payload by resource name.
type SecretAccessor interface {
	Access(ctx context.Context, name string) ([]byte, error)
}

type gcpSecrets struct {
	client *secretmanager.Client
}

// NewGCPSecretAccessor opens a Secret Manager client with default credentials.
// The caller must Close the returned closer.
func NewGCPSecretAccessor(ctx context.Context) (SecretAccessor, func() error, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	return &gcpSecrets{client: client}, client.Close, nil
}

func (g *gcpSecrets) Access(ctx context.Context, name string) ([]byte, error) {
	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", name, err)
	}
	return result.Payload.Data, nil
}

// ResolveSecrets fills secret-backed settings that are not set directly.
// A bare secret id is expanded to projects/<project>/secrets/<id>/versions/latest.
func (c *Config) ResolveSecrets(ctx context.Context, accessor SecretAccessor, project string) error {
	if strings.TrimSpace(c.ClassifierAPIKey) != "" || strings.TrimSpace(c.ClassifierAPIKeySecret) == "" {
		return nil
	}
	name := c.ClassifierAPIKeySecret
	if !strings.HasPrefix(name, "projects/") {
		if err := c.Require("GCP_PROJECT", project); err != nil {
			return err
		}
		name = fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, name)
	}
	payload, err := accessor.Access(ctx, name)
	if err != nil {
		return err
	}
	c.ClassifierAPIKey = strings.TrimSpace(string(payload))
	return nil
}
