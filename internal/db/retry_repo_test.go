package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recoverly/internal/types"
)

func TestRetryRepository_ScheduleRetry(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"inserted", "INSERT 0 1", true},
		{"duplicate or payment not failed", "INSERT 0 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewRetryRepository(db)
			at := testNow.Add(24 * time.Hour)

			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return contains(sql, "p.status = 'failed'") && contains(sql, "ON CONFLICT (payment_id, retry_number) DO NOTHING")
			}), mock.MatchedBy(func(args []any) bool {
				return len(args) == 5 && args[1] == "pay_1" && args[2] == 0 && args[3] == at
			})).Return(pgconn.NewCommandTag(tt.tag), nil)

			got, err := repo.ScheduleRetry(context.Background(), "pay_1", 0, at, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			db.AssertExpectations(t)
		})
	}
}

func TestRetryRepository_Claim(t *testing.T) {
	stale := testNow.Add(-15 * time.Minute)

	t.Run("won", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return contains(sql, "status = 'sending'") && contains(sql, "status = 'pending'")
		}), []any{"rty_1", testNow, stale}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		ok, err := NewRetryRepository(db).Claim(context.Background(), "rty_1", testNow, stale)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("lost", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		ok, err := NewRetryRepository(db).Claim(context.Background(), "rty_1", testNow, stale)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("boom"))

		_, err := NewRetryRepository(db).Claim(context.Background(), "rty_1", testNow, stale)
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

func TestRetryRepository_Complete(t *testing.T) {
	t.Run("sent", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "WHERE id = $1 AND status = 'sending'") }),
			[]any{"rty_1", "sent", testNow}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		require.NoError(t, NewRetryRepository(db).Complete(context.Background(), "rty_1", types.RetryStatusSent, testNow))
	})

	t.Run("claim lost", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		err := NewRetryRepository(db).Complete(context.Background(), "rty_1", types.RetryStatusFailed, testNow)
		assert.Equal(t, types.ErrCodeConflictConcurrent, types.CodeOf(err))
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		db := new(mockDBTX)

		err := NewRetryRepository(db).Complete(context.Background(), "rty_1", types.RetryStatusPending, testNow)
		require.Error(t, err)
		db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRetryRepository_ReleaseAndCancel(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryRepository(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "status = 'pending', claimed_at = NULL") }),
		[]any{"rty_1", testNow}).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "status IN ('pending', 'sending')") }),
		[]any{"rty_2", testNow}).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	require.NoError(t, repo.Release(context.Background(), "rty_1", testNow))
	require.NoError(t, repo.Cancel(context.Background(), "rty_2", testNow))
	db.AssertExpectations(t)
}

func TestRetryRepository_CancelPending(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, []any{"pay_1", testNow}).Return(pgconn.NewCommandTag("UPDATE 2"), nil)

	n, err := NewRetryRepository(db).CancelPending(context.Background(), "pay_1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// dueRow returns retry columns followed by nullable payment columns.
func dueRow(retryID, paymentID string, withPayment bool) []any {
	row := []any{
		retryID, paymentID, 1, testNow.Add(-time.Hour), (*time.Time)(nil), "pending", (*time.Time)(nil),
		testNow.Add(-48 * time.Hour), testNow.Add(-48 * time.Hour),
	}
	if !withPayment {
		return append(row, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	}
	amount := int64(4900)
	created := testNow.Add(-72 * time.Hour)
	return append(row,
		strPtr(paymentID), strPtr("tenant_1"), strPtr("cus_1"), strPtr("in_1"), strPtr("Ada"), strPtr("ada@example.com"),
		strPtr("Pro Plan"), &amount, strPtr("usd"), strPtr("failed"), (*string)(nil), &created, (*time.Time)(nil),
	)
}

func TestRetryRepository_ListDue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryRepository(db)
	stale := testNow.Add(-15 * time.Minute)

	rows := newMockRows([][]any{
		dueRow("rty_1", "pay_1", true),
		dueRow("rty_2", "pay_gone", false),
	})
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "LEFT JOIN payments") && contains(sql, "r.scheduled_at <= $1")
	}), []any{testNow, stale, 50}).Return(rows, nil)

	due, err := repo.ListDue(context.Background(), testNow, stale, nil, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)

	assert.Equal(t, "rty_1", due[0].Retry.ID)
	assert.Equal(t, types.RetryStatusPending, due[0].Retry.Status)
	require.NotNil(t, due[0].Payment)
	assert.Equal(t, types.Money{Amount: 4900, Currency: "usd"}, due[0].Payment.Amount)
	assert.Equal(t, types.PaymentStatusFailed, due[0].Payment.Status)

	assert.Equal(t, "pay_gone", due[1].Retry.PaymentID)
	assert.Nil(t, due[1].Payment, "orphaned retry has no payment")
}

func TestRetryRepository_ListDue_AfterCursor(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryRepository(db)
	stale := testNow.Add(-15 * time.Minute)
	cursor := &types.RetryCursor{ScheduledAt: testNow.Add(-2 * time.Hour), ID: "rty_9"}

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "(r.scheduled_at, r.id) > ($4, $5)") && contains(sql, "LIMIT $3")
	}), []any{testNow, stale, 2, cursor.ScheduledAt, "rty_9"}).Return(newMockRows([][]any{dueRow("rty_10", "pay_1", true)}), nil)

	due, err := repo.ListDue(context.Background(), testNow, stale, cursor, 2)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "rty_10", due[0].Retry.ID)
	db.AssertExpectations(t)
}

func TestRetryRepository_ListByPayment(t *testing.T) {
	db := new(mockDBTX)
	sent := testNow
	rows := newMockRows([][]any{
		{"rty_0", "pay_1", 0, testNow, &sent, "sent", &sent, testNow, testNow},
		{"rty_1", "pay_1", 1, testNow.Add(72 * time.Hour), (*time.Time)(nil), "pending", (*time.Time)(nil), testNow, testNow},
	})
	db.On("Query", mock.Anything, mock.Anything, []any{"pay_1"}).Return(rows, nil)

	got, err := NewRetryRepository(db).ListByPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.RetryStatusSent, got[0].Status)
	assert.Equal(t, 1, got[1].RetryNumber)
}
