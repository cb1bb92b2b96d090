package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"recoverly/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// CustomerLookup retrieves provider customers. The API key is per call
// because each tenant owns its own provider account.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, apiKey, customerID string) (*stripe.Customer, error)
}

// StripeClientConfig configures a StripeClient.
type StripeClientConfig struct {
	BaseURL string
	Logger  *slog.Logger
}

// StripeClient calls the Stripe REST API through BaseClient.
type StripeClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewStripeClient builds a StripeClient on base. A nil base gets the default
// retry policy and a "stripe" breaker.
func NewStripeClient(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	if base == nil {
		base = NewBaseClient(nil, "stripe", DefaultRetryPolicy())
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/"), logger: logger}
}

// GetCustomer fetches a customer by ID. A 404 or a deleted customer maps to
// ErrCodeNotFoundTenant since the caller uses it to locate the owning tenant.
func (s *StripeClient) GetCustomer(ctx context.Context, apiKey, customerID string) (*stripe.Customer, error) {
	if customerID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "customer id is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/customers/"+url.PathEscape(customerID), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		if isAppError(err) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "Stripe request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp)
	}

	var c stripe.Customer
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe customer", err)
	}
	if c.Deleted {
		return nil, types.NewAppError(types.ErrCodeNotFoundTenant,
			fmt.Sprintf("customer %s has been deleted", customerID), nil)
	}
	return &c, nil
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var se stripeErrorResponse
	msg := string(raw)
	if json.Unmarshal(raw, &se) == nil && se.Error.Message != "" {
		msg = se.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundTenant, fmt.Sprintf("Stripe resource not found: %s", msg), nil)
	case http.StatusUnauthorized:
		return types.NewAppError(types.ErrCodeTenantNotConfigured, "Stripe rejected the API key", nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("Stripe error (%d): %s", resp.StatusCode, msg), nil)
	}
}

var _ CustomerLookup = (*StripeClient)(nil)
