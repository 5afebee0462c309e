package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSecretsManager struct {
	values map[string]string
	calls  int
}

func (m *mockSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	v, ok := m.values[*in.SecretId]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
}

type mapProvider map[string]string

func (m mapProvider) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("PI_WEBHOOK_SHARED_SECRET", "s3cret")
	p := NewEnvProvider()

	v, err := p.GetSecret(context.Background(), WebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = p.GetSecret(context.Background(), "definitely_not_set_anywhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAWSProvider_CachesAndPrefixes(t *testing.T) {
	sm := &mockSecretsManager{values: map[string]string{"fortaleza/bnb_email": "me@example.com"}}
	p := NewAWSProviderWithClient(sm, "fortaleza/")

	for i := 0; i < 3; i++ {
		v, err := p.GetSecret(context.Background(), AccountEmail)
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", v)
	}
	assert.Equal(t, 1, sm.calls)

	_, err := p.GetSecret(context.Background(), AccountPassword)
	assert.Error(t, err)
}

func TestChainProvider_FallsBack(t *testing.T) {
	sm := &mockSecretsManager{values: map[string]string{}}
	chain := NewChainProvider(zap.NewNop(),
		NewAWSProviderWithClient(sm, ""),
		mapProvider{AccountEmail: "local@example.com"},
	)

	v, err := chain.GetSecret(context.Background(), AccountEmail)
	require.NoError(t, err)
	assert.Equal(t, "local@example.com", v)

	_, err = chain.GetSecret(context.Background(), AccountPassword)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVault(t *testing.T) {
	full := mapProvider{
		AccountEmail: "me@example.com", AccountPassword: "pw",
		CardNumber: "4111111111111111", CardExpMonth: "12", CardExpYear: "2030", CardCVV: "123",
		BillingName: "A B", BillingAddress1: "1 Main", BillingCity: "Town", BillingState: "CA", BillingZip: "94000",
		DOBMonth: "01", DOBDay: "02", DOBYear: "1980",
	}
	v := NewVault(full)
	ctx := context.Background()

	creds, err := v.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", creds.Email)

	pay, err := v.Payment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111", pay.CardNumber)
	assert.Equal(t, "94000", pay.BillingZip)
	assert.Empty(t, pay.BillingAddress2)

	dob, err := v.DateOfBirth(ctx)
	require.NoError(t, err)
	require.NotNil(t, dob)
	assert.Equal(t, "1980", dob.Year)

	delete(full, DOBYear)
	dob, err = v.DateOfBirth(ctx)
	require.NoError(t, err)
	assert.Nil(t, dob)

	_, _, err = v.Pushover(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
