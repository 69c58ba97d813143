package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"futures-llm-trader/config"
)

// Credentials are the exchange API keys read from a KV-v2 secret.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Client reads trading credentials from HashiCorp Vault so they never sit
// in the config file on disk.
type Client struct {
	client *api.Client
}

// NewClient connects to the configured Vault server.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return &Client{client: client}, nil
}

// ReadCredentials fetches {api_key, secret_key} from the secret at path.
func (c *Client) ReadCredentials(ctx context.Context, path string) (*Credentials, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %s not found", path)
	}

	// KV-v2 nests the payload under "data".
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	creds := &Credentials{}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("vault secret %s missing api_key/secret_key", path)
	}
	return creds, nil
}
