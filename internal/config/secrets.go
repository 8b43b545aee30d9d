package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SecretStore holds values that must not live in the config file.
type SecretStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// fileSecrets is a flat JSON object readable only by the owner.
type fileSecrets struct {
	path string
}

// NewSecretStore returns the secrets file store at $XDG_DATA_HOME/roamr/secrets.json.
func NewSecretStore() SecretStore {
	return fileSecrets{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func (s fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

// Get returns "" for a missing key.
func (s fileSecrets) Get(key string) (string, error) {
	secrets, err := s.read()
	if err != nil {
		return "", err
	}
	return secrets[key], nil
}

func (s fileSecrets) Set(key, value string) error {
	secrets, err := s.read()
	if err != nil {
		return err
	}
	secrets[key] = value

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

// EnsureJWTSecret returns the configured signing secret, generating and
// storing a random one on first use.
func EnsureJWTSecret(cfg *Config, secrets SecretStore) (string, error) {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := secrets.Set("auth.jwt_secret", secret); err != nil {
		return "", fmt.Errorf("storing jwt secret: %w", err)
	}
	cfg.Auth.JWTSecret = secret
	return secret, nil
}
