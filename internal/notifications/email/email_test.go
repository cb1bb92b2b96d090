package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoverly/internal/external"
	"recoverly/internal/types"
)

func strPtr(s string) *string { return &s }

func testPayment() *types.PaymentRecord {
	return &types.PaymentRecord{
		ID:            "pay_1",
		TenantID:      "ten_1",
		InvoiceID:     "in_1",
		CustomerName:  "Jane",
		CustomerEmail: strPtr("jane@example.com"),
		ProductName:   "Pro plan",
		Amount:        types.Money{Amount: 4900, Currency: "usd"},
		InvoiceURL:    "https://invoice.stripe.com/i/in_1",
		Status:        types.PaymentStatusFailed,
	}
}

func TestVarsFor_Defaults(t *testing.T) {
	v := VarsFor(&types.PaymentRecord{Amount: types.Money{Amount: 5}})
	assert.Equal(t, Vars{
		Name:              DefaultRecipientName,
		ProductName:       types.DefaultProductName,
		Amount:            "0.05",
		PaymentUpdateLink: types.DefaultUpdateLink,
	}, v)
}

func TestExpand(t *testing.T) {
	v := VarsFor(testPayment())

	got := v.Expand("Hi {name}, your {product_name} payment of {amount} failed. {payment_update_link} {name} {unknown}")
	assert.Equal(t, "Hi Jane, your Pro plan payment of 49.00 failed. https://invoice.stripe.com/i/in_1 Jane {unknown}", got)
}

func TestRender(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	tenant := &types.Tenant{
		EmailSubject: "Action needed for {product_name}",
		EmailBody:    "Hi {name} <script>,\n\nWe could not charge {amount}.",
	}
	msg, err := r.Render(tenant, testPayment())
	require.NoError(t, err)

	assert.Equal(t, "Action needed for Pro plan", msg.Subject)
	assert.Equal(t, "Hi Jane <script>,\n\nWe could not charge 49.00.", msg.BodyText)
	assert.Contains(t, msg.BodyHTML, "Hi Jane &lt;script&gt;,")
	assert.Contains(t, msg.BodyHTML, "We could not charge 49.00.")
	assert.Contains(t, msg.BodyHTML, `href="https://invoice.stripe.com/i/in_1"`)
}

func TestRender_TenantDefaults(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(&types.Tenant{}, testPayment())
	require.NoError(t, err)
	assert.Equal(t, types.DefaultEmailSubject, msg.Subject)
	assert.Equal(t, types.DefaultEmailBody, msg.BodyText)
}

func newTestNotifier(t *testing.T, p external.EmailProvider) *Notifier {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return NewNotifier(NotifierConfig{
		Provider: p,
		Renderer: r,
		From:     types.SenderIdentity{Address: "billing@example.com"},
		Timeout:  time.Second,
	})
}

func TestNotify(t *testing.T) {
	stub := external.NewStubEmailProvider(nil)
	n := newTestNotifier(t, stub)
	tenant := &types.Tenant{ID: "ten_1", NotificationAPIKey: types.SecretString("re_tenant")}

	id, err := n.Notify(context.Background(), tenant, testPayment(), "rty_1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sent := stub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@example.com", sent[0].To)
	assert.Equal(t, "re_tenant", sent[0].APIKey.Unmask())
	assert.Equal(t, "rty_1", sent[0].ReferenceID)
	assert.Equal(t, "billing@example.com", sent[0].From.Address)
}

func TestNotify_NoRecipient(t *testing.T) {
	stub := external.NewStubEmailProvider(nil)
	p := testPayment()
	p.CustomerEmail = strPtr("  ")

	_, err := newTestNotifier(t, stub).Notify(context.Background(), &types.Tenant{}, p, "rty_1")
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, stub.Sent())
}

func TestNotify_ProviderError(t *testing.T) {
	stub := external.NewStubEmailProvider(nil)
	stub.Err = types.NewAppError(types.ErrCodeEmailBlocked, "blocked", nil)

	_, err := newTestNotifier(t, stub).Notify(context.Background(), &types.Tenant{}, testPayment(), "rty_1")
	require.Error(t, err)
	assert.True(t, IsBlocklistError(err))
}

type deadlineProvider struct{ deadline time.Time }

func (d *deadlineProvider) Send(ctx context.Context, _ types.SendInput) (string, error) {
	dl, ok := ctx.Deadline()
	if !ok {
		return "", errors.New("no deadline")
	}
	d.deadline = dl
	return "ok", nil
}

func TestNotify_AppliesTimeout(t *testing.T) {
	p := &deadlineProvider{}
	_, err := newTestNotifier(t, p).Notify(context.Background(), &types.Tenant{}, testPayment(), "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Second), p.deadline, time.Second)
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "j***@gmail.com", RedactEmail("john@gmail.com"))
	assert.Equal(t, "***", RedactEmail("nope"))
	assert.Equal(t, "***@x.io", RedactEmail("@x.io"))
	assert.Equal(t, "", RedactEmail(""))
	assert.False(t, strings.Contains(RedactEmail("secret@x.io"), "secret"))
}
