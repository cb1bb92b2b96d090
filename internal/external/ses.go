package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"recoverly/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient sends email with AWS SES v2. It authenticates with the process
// IAM role, so SendInput.APIKey is ignored.
type SESClient struct {
	api    SESAPI
	logger *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, logger *slog.Logger) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), logger)
}

// NewSESClientWithAPI creates an SESClient on a caller-supplied API.
func NewSESClientWithAPI(api SESAPI, logger *slog.Logger) *SESClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, logger: logger}
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// Send transmits input as a simple (non-templated) SES message.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	msg := &sestypes.Message{
		Subject: utf8Content(input.Subject),
		Body:    &sestypes.Body{Text: utf8Content(input.BodyText)},
	}
	if input.BodyHTML != "" {
		msg.Body.Html = utf8Content(input.BodyHTML)
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(input.From)),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content:          &sestypes.EmailContent{Simple: msg},
	}
	if input.ReferenceID != "" {
		in.EmailTags = []sestypes.MessageTag{{Name: aws.String("ReferenceID"), Value: aws.String(input.ReferenceID)}}
	}

	out, err := s.api.SendEmail(ctx, in)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeEmailBlocked, fmt.Sprintf("SES rejected message: %v", err), err)
	}
	var tooMany *sestypes.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	}
	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES account sending paused", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err)
}

var _ EmailProvider = (*SESClient)(nil)
