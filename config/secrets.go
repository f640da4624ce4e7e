package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretManager retrieves a named secret from a backing store
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager reads VIGIL_<KEY> environment variables (default)
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "VIGIL_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	path   string
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := config.Secrets.Vault.Path
	if path == "" {
		path = "secret/vigil"
	}
	return &VaultSecretManager{path: path, client: client}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", v.path)
	}

	data := secret.Data
	// KV v2 nests the key/value pairs under "data".
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(config.Secrets.AWS.Region)}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "vigil/secrets"
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("AWS secret %s has no string value", a.secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}
	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

// NewSecretManager creates the secret manager named by provider
func NewSecretManager(config *Config, provider string) (SecretManager, error) {
	switch provider {
	case "", "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// SecretResolver turns credential references into secret values. Backing
// managers are created on first use so that an unused Vault or AWS
// configuration is never contacted.
type SecretResolver struct {
	config   *Config
	managers map[string]SecretManager
	factory  func(config *Config, provider string) (SecretManager, error)
}

// NewSecretResolver creates a resolver for the given configuration
func NewSecretResolver(config *Config) *SecretResolver {
	return &SecretResolver{
		config:   config,
		managers: map[string]SecretManager{},
		factory:  NewSecretManager,
	}
}

// Resolve returns the secret a reference points at:
//
//	env:NAME    the NAME environment variable
//	vault:key   key at the configured Vault path
//	aws:key     key in the configured AWS secret
//	secret:key  key in the configured default secrets provider
//
// Anything else is a literal value and is returned unchanged.
func (r *SecretResolver) Resolve(ref string) (string, error) {
	scheme, key, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, nil
	}

	switch scheme {
	case "env":
		value := os.Getenv(key)
		if value == "" {
			return "", fmt.Errorf("environment variable %s not set", key)
		}
		return value, nil
	case "vault", "aws":
		return r.fromManager(scheme, key)
	case "secret":
		return r.fromManager(r.config.Secrets.Provider, key)
	default:
		return ref, nil
	}
}

func (r *SecretResolver) fromManager(provider, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty secret key in %s reference", provider)
	}
	if provider == "" {
		provider = "env"
	}
	m, ok := r.managers[provider]
	if !ok {
		var err error
		m, err = r.factory(r.config, provider)
		if err != nil {
			return "", fmt.Errorf("failed to create %s secret manager: %w", provider, err)
		}
		r.managers[provider] = m
	}
	return m.GetSecret(key)
}

// LoadSecrets resolves every credential reference in the configuration once,
// replacing each reference with its value.
func LoadSecrets(config *Config) error {
	resolver := NewSecretResolver(config)

	for i := range config.Narrative.Providers {
		p := &config.Narrative.Providers[i]
		if p.Credential == "" {
			continue
		}
		value, err := resolver.Resolve(p.Credential)
		if err != nil {
			return fmt.Errorf("failed to resolve credential for provider %s: %w", p.Name, err)
		}
		p.Credential = value
	}

	if config.Redis.Password != "" {
		value, err := resolver.Resolve(config.Redis.Password)
		if err != nil {
			return fmt.Errorf("failed to resolve redis password: %w", err)
		}
		config.Redis.Password = value
	}
	return nil
}
