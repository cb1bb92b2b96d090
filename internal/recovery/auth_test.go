package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"recoverly/internal/events"
	"recoverly/internal/external"
	"recoverly/internal/recovery/recoverytest"
	"recoverly/internal/types"
)

const globalSecret = "whsec_global"

func newMetadataAuth(store *recoverytest.Store, customers *fakeCustomers) *MetadataAuthenticator {
	var lookup external.CustomerLookup
	if customers != nil {
		lookup = customers
	}
	return NewMetadataAuthenticator(store, events.NewVerifier(0), lookup, globalSecret, "sk_global", nil)
}

func metadataStore() *recoverytest.Store {
	s := recoverytest.NewStore()
	s.PutTenant(&types.Tenant{ID: tenantID, ProviderAPIKey: "sk_t", WebhookSecret: "whsec_t"})
	return s
}

func TestMetadataAuth_InvoiceMetadata(t *testing.T) {
	a := newMetadataAuth(metadataStore(), nil)
	body := invoiceEvent("evt_1", "invoice.payment_failed", "inv_1", `, "metadata": {"creator_id": "ten_1"}`)

	tenant, ev, err := a.Authenticate(context.Background(), signed(body, globalSecret))
	require.NoError(t, err)
	assert.Equal(t, tenantID, tenant.ID)
	assert.IsType(t, events.PaymentFailed{}, ev.Payload)
}

func TestMetadataAuth_CustomerLookup(t *testing.T) {
	fc := &fakeCustomers{customer: &stripe.Customer{ID: "cust_1", Metadata: map[string]string{"creator_id": tenantID}}}
	a := newMetadataAuth(metadataStore(), fc)

	tenant, _, err := a.Authenticate(context.Background(), signed(invoiceEvent("evt_1", "invoice.payment_succeeded", "inv_1", ""), globalSecret))
	require.NoError(t, err)
	assert.Equal(t, tenantID, tenant.ID)
	assert.Equal(t, []string{"sk_global"}, fc.keys)
}

func TestMetadataAuth_Rejections(t *testing.T) {
	body := invoiceEvent("evt_1", "invoice.payment_failed", "inv_1", "")

	tests := []struct {
		name      string
		customers *fakeCustomers
		in        InboundWebhook
		want      types.ErrorCode
	}{
		{"tenant secret is not the global secret", nil, signed(body, "whsec_t"), types.ErrCodeWebhookBadSignature},
		{"no metadata and no lookup", nil, signed(body, globalSecret), types.ErrCodeTenantNotConfigured},
		{"customer without metadata", &fakeCustomers{customer: &stripe.Customer{ID: "cust_1"}}, signed(body, globalSecret), types.ErrCodeTenantNotConfigured},
		{"customer gone", &fakeCustomers{err: types.NewAppError(types.ErrCodeNotFoundTenant, "gone", nil)}, signed(body, globalSecret), types.ErrCodeTenantNotConfigured},
		{"provider down", &fakeCustomers{err: types.NewAppError(types.ErrCodeUpstreamStripe, "down", nil)}, signed(body, globalSecret), types.ErrCodeUpstreamStripe},
		{"unknown tenant", nil, signed(invoiceEvent("evt_1", "invoice.payment_failed", "inv_1", `, "metadata": {"tenant_id": "ten_x"}`), globalSecret), types.ErrCodeTenantNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant, ev, err := newMetadataAuth(metadataStore(), tt.customers).Authenticate(context.Background(), tt.in)
			assert.Nil(t, tenant)
			assert.Nil(t, ev)
			assert.Equal(t, tt.want, types.CodeOf(err))
		})
	}
}

func TestMetadataAuth_UnhandledNeedsNoTenant(t *testing.T) {
	a := newMetadataAuth(metadataStore(), nil)
	body := `{"id":"evt_c","object":"event","type":"customer.created","created":1,"data":{"object":{"id":"cus_1","object":"customer"}}}`

	tenant, ev, err := a.Authenticate(context.Background(), signed(body, globalSecret))
	require.NoError(t, err)
	assert.Nil(t, tenant)
	assert.IsType(t, events.Unhandled{}, ev.Payload)
}

func TestMetadataAuth_NoGlobalSecret(t *testing.T) {
	a := NewMetadataAuthenticator(metadataStore(), events.NewVerifier(0), nil, "", "", nil)
	_, _, err := a.Authenticate(context.Background(), signed("{}", globalSecret))
	assert.Equal(t, types.ErrCodeTenantNotConfigured, types.CodeOf(err))
}

func TestPathAuth_DBErrorPassesThrough(t *testing.T) {
	s := metadataStore()
	s.ErrTenant = errors.New("boom")
	_, _, err := NewPathAuthenticator(s, events.NewVerifier(0)).Authenticate(context.Background(), InboundWebhook{TenantID: tenantID})
	assert.EqualError(t, err, "boom")
}

func TestDispatcher_MetadataModeEndToEnd(t *testing.T) {
	store := metadataStore()
	n := &recoverytest.Notifier{}
	d := NewDispatcher(DispatcherConfig{
		Auth:     newMetadataAuth(store, nil),
		Payments: store,
		Retries:  store,
		Logs:     store,
		Notifier: n,
	})
	body := invoiceEvent("evt_1", "invoice.payment_failed", "inv_1", `, "metadata": {"creator_id": "ten_1"}`)
	in := signed(body, globalSecret)
	in.TenantID = ""

	res, err := d.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, tenantID, res.TenantID)
	assert.Equal(t, types.OutcomeRecorded, res.Outcome)
	assert.Equal(t, 1, n.Count())
}
