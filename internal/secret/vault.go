package secret

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig holds connection settings for the Vault source.
type VaultConfig struct {
	Address string
	Token   string
	// AppRole credentials, used when Token is empty.
	RoleID   string
	SecretID string
}

// VaultSource reads secrets from HashiCorp Vault KV v2.
// Path format: "mount/data/path#key"; the key defaults to "value".
type VaultSource struct {
	client *vault.Client
}

// NewVaultSource connects and authenticates against Vault.
func NewVaultSource(cfg VaultConfig) (*VaultSource, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
	case cfg.RoleID != "":
		auth, err := client.Logical().Write("auth/approle/login", map[string]any{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault approle login: %w", err)
		}
		if auth == nil || auth.Auth == nil {
			return nil, fmt.Errorf("vault login returned no auth info")
		}
		client.SetToken(auth.Auth.ClientToken)
	default:
		return nil, fmt.Errorf("vault source requires a token or approle credentials")
	}

	return &VaultSource{client: client}, nil
}

// Get reads one field of a Vault secret.
func (s *VaultSource) Get(ctx context.Context, path string) (string, error) {
	secretPath, key := path, "value"
	if idx := strings.LastIndex(path, "#"); idx != -1 {
		secretPath, key = path[:idx], path[idx+1:]
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %q not found", secretPath)
	}

	data := secret.Data
	// KV v2 nests the payload under "data".
	if nested, ok := secret.Data["data"].(map[string]any); ok {
		data = nested
	}

	val, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("vault secret %q has no string field %q", secretPath, key)
	}
	return val, nil
}

// Close is a no-op; the vault client has no persistent connection.
func (s *VaultSource) Close() error { return nil }
