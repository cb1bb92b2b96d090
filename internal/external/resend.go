package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"recoverly/internal/types"
)

const resendAPIBase = "https://api.resend.com"

// ResendClientConfig configures a ResendClient.
type ResendClientConfig struct {
	// Used when SendInput.APIKey is empty.
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// ResendClient sends email through the Resend HTTP API. Each call may carry
// its own API key so tenants can send from their own account.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient builds a ResendClient on base. A nil base gets the default
// retry policy and a "resend" breaker.
func NewResendClient(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	if base == nil {
		base = NewBaseClient(nil, "resend", DefaultRetryPolicy())
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Send posts input to /emails. ReferenceID doubles as the Idempotency-Key so
// a replayed retry is not delivered twice.
//
// Error mapping:
//   - 401/403 -> ErrCodeEmailBlocked (key rejected or domain not verified)
//   - 429, 5xx -> handled by BaseClient
//   - other 4xx -> ErrCodeUpstreamEmailProvider
func (r *ResendClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	key := input.APIKey.Unmask()
	if key == "" {
		key = r.apiKey
	}
	if key == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "no Resend API key configured", nil)
	}

	body, err := json.Marshal(resendEmail{
		From:    formatAddress(input.From),
		To:      []string{input.To},
		Subject: input.Subject,
		Text:    input.BodyText,
		HTML:    input.BodyHTML,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal Resend payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Resend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if input.ReferenceID != "" {
		req.Header.Set("Idempotency-Key", input.ReferenceID)
	}

	resp, err := r.base.Do(req)
	if err != nil {
		if isAppError(err) {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "Resend request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out resendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "failed to decode Resend response", err)
		}
		return out.ID, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)
	var re resendError
	if json.Unmarshal(raw, &re) == nil && re.Message != "" {
		msg = re.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("Resend rejected the request: %s", msg), nil)
	default:
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("Resend error (%d): %s", resp.StatusCode, msg), nil)
	}
}

func formatAddress(a types.SenderIdentity) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

var _ EmailProvider = (*ResendClient)(nil)
