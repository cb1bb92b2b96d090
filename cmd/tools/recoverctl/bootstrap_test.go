package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoverly/internal/security"
)

type mockSSM struct {
	existing map[string]bool
	getErr   error
	putErr   error
	puts     []*ssm.PutParameterInput
}

func (m *mockSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	name := aws.ToString(in.Name)
	if !m.existing[name] {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String("x")}}, nil
}

func (m *mockSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.puts = append(m.puts, in)
	return &ssm.PutParameterOutput{}, nil
}

func TestBootstrap_WritesMissingSecrets(t *testing.T) {
	mock := &mockSSM{existing: map[string]bool{"/dev/recoverly/cron_secret": true}}
	var out bytes.Buffer
	b := &bootstrapper{client: mock, env: "dev", out: &out}

	require.NoError(t, b.Run(context.Background()))

	require.Len(t, mock.puts, 2)
	byName := map[string]*ssm.PutParameterInput{}
	for _, p := range mock.puts {
		byName[aws.ToString(p.Name)] = p
		assert.Equal(t, ssmtypes.ParameterTypeSecureString, p.Type)
		assert.False(t, aws.ToBool(p.Overwrite))
	}

	admin := byName["/dev/recoverly/admin_api_key"]
	require.NotNil(t, admin)
	assert.Len(t, aws.ToString(admin.Value), 64)

	key := byName["/dev/recoverly/secrets_key"]
	require.NotNil(t, key)
	_, err := security.NewSealer(aws.ToString(key.Value))
	assert.NoError(t, err, "generated key must open a sealer")

	s := out.String()
	assert.Contains(t, s, "ADMIN_API_KEY_SSM_PARAM=/dev/recoverly/admin_api_key")
	assert.Contains(t, s, "CRON_SECRET_SSM_PARAM=/dev/recoverly/cron_secret")
	assert.Contains(t, s, "/dev/recoverly/cron_secret exists, skipped")
	assert.NotContains(t, s, aws.ToString(admin.Value))
}

func TestBootstrap_Overwrite(t *testing.T) {
	mock := &mockSSM{getErr: errors.New("must not probe")}
	b := &bootstrapper{client: mock, env: "prod", overwrite: true, out: &bytes.Buffer{}}

	require.NoError(t, b.Run(context.Background()))
	require.Len(t, mock.puts, len(internalSecrets))
	for _, p := range mock.puts {
		assert.True(t, aws.ToBool(p.Overwrite))
	}
}

func TestBootstrap_Errors(t *testing.T) {
	t.Run("probe failure", func(t *testing.T) {
		b := &bootstrapper{client: &mockSSM{getErr: errors.New("AccessDenied")}, env: "dev", out: &bytes.Buffer{}}
		err := b.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AccessDenied")
	})
	t.Run("write failure", func(t *testing.T) {
		b := &bootstrapper{client: &mockSSM{putErr: errors.New("throttled")}, env: "dev", out: &bytes.Buffer{}}
		err := b.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "/dev/recoverly/admin_api_key")
	})
}

func TestGeneratedSecretsAreUnique(t *testing.T) {
	a, err := hexToken()
	require.NoError(t, err)
	b, err := hexToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	k, err := sealingKey()
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(k)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestBootstrapCmd_RejectsUnknownEnv(t *testing.T) {
	_, err := execute(t, "", "bootstrap", "--env", "qa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--env must be")
}
