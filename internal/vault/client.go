// Package vault sources exchange API credentials from a HashiCorp Vault
// KV v2 secrets engine so they never have to live in the config file.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"momentum-trading-bot/config"
)

// Credentials is the API key pair stored at the configured KV v2 path.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Client reads the operator's exchange credentials from Vault. When
// disabled it only serves what Store seeded, which keeps the wiring
// identical whether Vault is in play or not.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig

	mu     sync.RWMutex
	cached *Credentials
}

// NewClient creates a Vault client. A disabled config produces a
// cache-only client and never dials anything.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// Enabled reports whether credentials are sourced from Vault.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// Credentials returns the operator key pair, reading it from Vault on
// first use and serving the cache afterwards.
func (c *Client) Credentials(ctx context.Context) (Credentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		creds := *c.cached
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return Credentials{}, fmt.Errorf("no credentials cached and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("credentials not found at %s", c.secretPath())
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("invalid secret format at %s", c.secretPath())
	}

	creds := Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf("credentials at %s are incomplete", c.secretPath())
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()

	return creds, nil
}

// Store writes the key pair to Vault and refreshes the cache. With Vault
// disabled it only seeds the cache, which is how config-file credentials
// enter the client.
func (c *Client) Store(ctx context.Context, creds Credentials) error {
	if c.cfg.Enabled {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":    creds.APIKey,
				"secret_key": creds.SecretKey,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), payload); err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()

	return nil
}

// Refresh drops the cache so the next Credentials call re-reads Vault.
// Used after a key rotation.
func (c *Client) Refresh() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// Health checks the Vault connection. A disabled client is always healthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path for the credential secret.
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.cfg.Mount, c.cfg.Path)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
