package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

// SecretsAPI is the part of the Secrets Manager API the relay calls.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerClient wraps the AWS Secrets Manager client. It backs the
// secret gate's master key.
type SecretsManagerClient struct {
	svc    SecretsAPI
	logger *zap.Logger
}

// NewSecretsManagerClient uses the default AWS configuration chain.
func NewSecretsManagerClient(ctx context.Context) (*SecretsManagerClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return NewSecretsManagerClientWithAPI(secretsmanager.NewFromConfig(cfg)), nil
}

func NewSecretsManagerClientWithAPI(svc SecretsAPI) *SecretsManagerClient {
	return &SecretsManagerClient{svc: svc, logger: logger.Or(nil)}
}

// GetSecretString resolves a secret by the ARN held in arnEnvVar, falling
// back to the literal value of fallbackEnvVar when the ARN is unset or the
// fetch fails. A secret stored as a single-key JSON object resolves to that
// key's value. Values are never logged.
func (c *SecretsManagerClient) GetSecretString(ctx context.Context, arnEnvVar string, fallbackEnvVar string) (string, error) {
	log := c.logger.With(zap.String("arn_env", arnEnvVar), zap.String("fallback_env", fallbackEnvVar))

	if arn := os.Getenv(arnEnvVar); arn != "" {
		value, err := c.fetch(ctx, arn)
		if err == nil {
			log.Info("Fetched secret from Secrets Manager", zap.String("secret_arn", arn))
			return unwrapSingleKey(value), nil
		}
		log.Warn("Failed to fetch secret from Secrets Manager, trying env var",
			zap.String("secret_arn", arn), zap.Error(err))
	}

	if value := os.Getenv(fallbackEnvVar); value != "" {
		log.Info("Using secret from environment variable")
		return value, nil
	}
	return "", fmt.Errorf("secret not found using ARN env var '%s' or direct env var '%s'", arnEnvVar, fallbackEnvVar)
}

func (c *SecretsManagerClient) fetch(ctx context.Context, arn string) (string, error) {
	out, err := c.svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(arn)})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}
	return *out.SecretString, nil
}

// unwrapSingleKey returns the lone value of {"key":"value"}; anything else
// is returned as is.
func unwrapSingleKey(raw string) string {
	var obj map[string]string
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || len(obj) != 1 {
		return raw
	}
	for _, v := range obj {
		return v
	}
	return raw
}
