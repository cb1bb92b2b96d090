package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recoverly/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// paymentRow returns column values in paymentColumns order.
func paymentRow(id, invoiceID string, status types.PaymentStatus, recoveredAt *time.Time) []any {
	return []any{
		id, "tenant_1", "cus_1", invoiceID, "Ada Lovelace", strPtr("ada@example.com"),
		"Pro Plan", int64(4900), "usd", string(status), strPtr("https://pay.stripe.com/i/1"),
		testNow, recoveredAt,
	}
}

func failedInput() *types.PaymentRecord {
	return &types.PaymentRecord{
		TenantID:      "tenant_1",
		CustomerID:    "cus_1",
		InvoiceID:     "in_1",
		CustomerName:  "Ada Lovelace",
		CustomerEmail: strPtr("ada@example.com"),
		ProductName:   "Pro Plan",
		Amount:        types.Money{Amount: 4900, Currency: "usd"},
		InvoiceURL:    "https://pay.stripe.com/i/1",
		CreatedAt:     testNow,
	}
}

func TestPaymentRepository_UpsertFailed_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "ON CONFLICT (tenant_id, invoice_id) DO NOTHING")
	}), mock.Anything).Return(rowOf(paymentRow("pay_1", "in_1", types.PaymentStatusFailed, nil)...))

	got, created, err := repo.UpsertFailed(context.Background(), failedInput())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "pay_1", got.ID)
	assert.Equal(t, types.PaymentStatusFailed, got.Status)
	assert.Equal(t, types.Money{Amount: 4900, Currency: "usd"}, got.Amount)
	assert.Equal(t, "ada@example.com", got.Recipient())
	db.AssertExpectations(t)
}

func TestPaymentRepository_UpsertFailed_DuplicateReturnsExisting(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "INSERT INTO payments") }), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "WHERE tenant_id = $1 AND invoice_id = $2") }), []any{"tenant_1", "in_1"}).
		Return(rowOf(paymentRow("pay_existing", "in_1", types.PaymentStatusFailed, nil)...)).Once()

	got, created, err := repo.UpsertFailed(context.Background(), failedInput())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "pay_existing", got.ID)
	db.AssertExpectations(t)
}

func TestPaymentRepository_UpsertFailed_DuplicateOfRecovered(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)
	recoveredAt := testNow.Add(time.Hour)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "INSERT INTO payments") }), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "SELECT") }), mock.Anything).
		Return(rowOf(paymentRow("pay_1", "in_1", types.PaymentStatusRecovered, &recoveredAt)...)).Once()

	got, created, err := repo.UpsertFailed(context.Background(), failedInput())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, types.PaymentStatusRecovered, got.Status, "existing record must not be reset to failed")
	require.NotNil(t, got.RecoveredAt)
}

func TestPaymentRepository_UpsertFailed_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, _, err := repo.UpsertFailed(context.Background(), failedInput())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestPaymentRepository_FindByInvoice_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"tenant_1", "in_missing"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := repo.FindByInvoice(context.Background(), "tenant_1", "in_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPaymentRepository_GetPayment(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"pay_1"}).
		Return(rowOf(paymentRow("pay_1", "in_1", types.PaymentStatusFailed, nil)...))
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"pay_gone"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := repo.GetPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "in_1", got.InvoiceID)

	gone, err := repo.GetPayment(context.Background(), "pay_gone")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPaymentRepository_MarkRecovered(t *testing.T) {
	tests := []struct {
		name          string
		recovered     int
		cancelled     int
		wantRecovered bool
	}{
		{"failed payment with pending retries", 1, 2, true},
		{"already recovered", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewPaymentRepository(db)

			db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return contains(sql, "status = 'failed'") && contains(sql, "UPDATE payment_retries")
			}), []any{"pay_1", testNow}).Return(rowOf(tt.recovered, tt.cancelled))

			recovered, cancelled, err := repo.MarkRecovered(context.Background(), "pay_1", testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRecovered, recovered)
			assert.Equal(t, tt.cancelled, cancelled)
		})
	}
}

func TestPaymentRepository_ListByTenant(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	rows := newMockRows([][]any{
		paymentRow("pay_2", "in_2", types.PaymentStatusFailed, nil),
		paymentRow("pay_1", "in_1", types.PaymentStatusFailed, nil),
	})
	db.On("Query", mock.Anything, mock.Anything, []any{"tenant_1", "failed", 10}).Return(rows, nil)

	got, err := repo.ListByTenant(context.Background(), "tenant_1", PaymentFilter{Status: types.PaymentStatusFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pay_2", got[0].ID)
	assert.True(t, rows.closed)
}

func TestPaymentRepository_ListByTenant_RowsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	rows := &mockRows{idx: -1, errVal: errors.New("iteration failed")}
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := repo.ListByTenant(context.Background(), "tenant_1", PaymentFilter{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
