package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/spf13/cobra"

	"recoverly/internal/app"
	"recoverly/internal/config"
)

// SSMClient is the subset of the SSM API bootstrap needs.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

const ssmOperationTimeout = 15 * time.Second

// internalSecret is a secret generated locally rather than issued by a vendor.
type internalSecret struct {
	Env      string
	Name     string
	generate func() (string, error)
}

var internalSecrets = []internalSecret{
	{Env: "ADMIN_API_KEY", Name: "admin_api_key", generate: hexToken},
	{Env: "CRON_SECRET", Name: "cron_secret", generate: hexToken},
	{Env: "SECRETS_KEY", Name: "secrets_key", generate: sealingKey},
}

// hexToken returns 32 random bytes hex encoded.
func hexToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sealingKey returns a base64 32-byte key for the credential sealer.
func sealingKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating sealing key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func ssmPath(env, name string) string {
	return fmt.Sprintf("/%s/recoverly/%s", env, name)
}

// bootstrapper writes generated secrets to SSM. Values are never printed.
type bootstrapper struct {
	client    SSMClient
	env       string
	overwrite bool
	out       io.Writer
}

func (b *bootstrapper) exists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := b.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

func (b *bootstrapper) put(ctx context.Context, path, value string) error {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := b.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(b.overwrite),
	})
	if err != nil {
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}
	return nil
}

// Run generates every missing internal secret and prints the *_SSM_PARAM
// lines that point the services at them.
func (b *bootstrapper) Run(ctx context.Context) error {
	for _, s := range internalSecrets {
		path := ssmPath(b.env, s.Name)

		if !b.overwrite {
			ok, err := b.exists(ctx, path)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(b.out, "# %s exists, skipped\n", path)
				fmt.Fprintf(b.out, "%s_SSM_PARAM=%s\n", s.Env, path)
				continue
			}
		}

		value, err := s.generate()
		if err != nil {
			return err
		}
		if err := b.put(ctx, path, value); err != nil {
			return err
		}
		fmt.Fprintf(b.out, "# %s written\n", path)
		fmt.Fprintf(b.out, "%s_SSM_PARAM=%s\n", s.Env, path)
	}
	return nil
}

func bootstrapCmd() *cobra.Command {
	var (
		env       string
		region    string
		endpoint  string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Generate internal secrets into SSM Parameter Store",
		Long: `Generate ADMIN_API_KEY, CRON_SECRET and SECRETS_KEY and store them as
SecureString parameters under /{env}/recoverly/. Existing parameters are
left alone unless --overwrite is given. Rotating SECRETS_KEY makes sealed
tenant credentials unreadable.

Vendor credentials (Stripe, email provider) are not generated here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch env {
			case "dev", "staging", "prod":
			default:
				return fmt.Errorf("--env must be dev, staging or prod, got %q", env)
			}

			awsCfg, err := app.LoadAWS(cmd.Context(), config.AWSConfig{Region: region, EndpointURL: endpoint})
			if err != nil {
				return err
			}
			b := &bootstrapper{
				client:    ssm.NewFromConfig(awsCfg),
				env:       env,
				overwrite: overwrite,
				out:       cmd.OutOrStdout(),
			}
			return b.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&env, "env", "dev", "target environment (dev, staging, prod)")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "AWS region")
	cmd.Flags().StringVar(&endpoint, "endpoint-url", "", "AWS endpoint override, e.g. LocalStack")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing parameters")
	return cmd
}
