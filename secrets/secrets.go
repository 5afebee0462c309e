// Package secrets resolves credentials for the purchase agent from AWS
// Secrets Manager or the process environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("secret not found")

// Secret names shared by every backend.
const (
	WebhookSecret    = "pi_webhook_shared_secret"
	AccountEmail     = "bnb_email"
	AccountPassword  = "bnb_password"
	CardNumber       = "cc_number"
	CardExpMonth     = "cc_exp_month"
	CardExpYear      = "cc_exp_year"
	CardCVV          = "cc_cvv"
	BillingName      = "billing_name"
	BillingAddress1  = "billing_address1"
	BillingAddress2  = "billing_address2"
	BillingCity      = "billing_city"
	BillingState     = "billing_state"
	BillingZip       = "billing_zip"
	DOBMonth         = "dob_month"
	DOBDay           = "dob_day"
	DOBYear          = "dob_year"
	PushoverAppToken = "pushover_app_token"
	PushoverUserKey  = "pushover_user_key"
)

type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from upper-cased environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (e *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(name)
	if v, ok := e.lookup(key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// SecretsManagerAPI is the part of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads secrets from AWS Secrets Manager and caches them for
// the life of the process.
type AWSProvider struct {
	client SecretsManagerAPI
	prefix string
	cache  map[string]string
	mu     sync.RWMutex
}

func NewAWSProvider(cfg sdkaws.Config, prefix string) *AWSProvider {
	return NewAWSProviderWithClient(secretsmanager.NewFromConfig(cfg), prefix)
}

func NewAWSProviderWithClient(client SecretsManagerAPI, prefix string) *AWSProvider {
	return &AWSProvider{
		client: client,
		prefix: prefix,
		cache:  make(map[string]string),
	}
}

func (s *AWSProvider) GetSecret(ctx context.Context, name string) (string, error) {
	id := s.prefix + name

	s.mu.RLock()
	if v, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrNotFound, id)
	}

	s.mu.Lock()
	s.cache[id] = *out.SecretString
	s.mu.Unlock()

	return *out.SecretString, nil
}

// ChainProvider tries each provider in order and returns the first hit.
type ChainProvider struct {
	providers []Provider
	logger    *zap.Logger
}

func NewChainProvider(logger *zap.Logger, providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers, logger: logger}
}

func (c *ChainProvider) GetSecret(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, p := range c.providers {
		v, err := p.GetSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		c.logger.Debug("Secret provider miss, trying next", zap.String("secret_name", name), zap.Error(err))
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %s: %w", ErrNotFound, name, errors.Join(errs...))
}
