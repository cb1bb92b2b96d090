package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recoverly/internal/types"
)

// prefixSealer is a reversible stand-in for the secretbox sealer.
type prefixSealer struct{ openErr error }

func (prefixSealer) Seal(p string) (string, error) { return "sealed:" + p, nil }
func (s prefixSealer) Open(c string) (string, error) {
	if s.openErr != nil {
		return "", s.openErr
	}
	return strings.TrimPrefix(c, "sealed:"), nil
}

func tenantRow(apiKey, secret, notifyKey *string) []any {
	return []any{"tenant_1", apiKey, secret, notifyKey, "Subject {name}", "", testNow, testNow}
}

func TestTenantRepository_GetTenant_OpensCredentials(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db, prefixSealer{})

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"tenant_1"}).
		Return(rowOf(tenantRow(strPtr("sealed:sk_test_1"), strPtr("sealed:whsec_1"), nil)...))

	got, err := repo.GetTenant(context.Background(), "tenant_1")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_1", got.ProviderAPIKey.Unmask())
	assert.Equal(t, "whsec_1", got.WebhookSecret.Unmask())
	assert.False(t, got.NotificationAPIKey.IsSet())
	assert.True(t, got.Configured())
	assert.Equal(t, types.DefaultEmailBody, got.Body())
}

func TestTenantRepository_GetTenant_NotConfigured(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db, prefixSealer{})

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowOf(tenantRow(strPtr("sealed:sk_test_1"), nil, nil)...))

	got, err := repo.GetTenant(context.Background(), "tenant_1")
	require.NoError(t, err)
	assert.False(t, got.Configured())
}

func TestTenantRepository_GetTenant_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, err := NewTenantRepository(db, prefixSealer{}).GetTenant(context.Background(), "nope")
		assert.Equal(t, types.ErrCodeNotFoundTenant, types.CodeOf(err))
	})

	t.Run("corrupt ciphertext", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
			Return(rowOf(tenantRow(strPtr("garbage"), nil, nil)...))

		_, err := NewTenantRepository(db, prefixSealer{openErr: errors.New("auth failed")}).GetTenant(context.Background(), "tenant_1")
		assert.Equal(t, types.ErrCodeInternalCrypto, types.CodeOf(err))
	})
}

func TestTenantRepository_UpsertTenant_SealsOnlyProvidedFields(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db, prefixSealer{})

	secret := types.SecretString("whsec_new")
	subject := "Your card was declined"

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool { return contains(sql, "ON CONFLICT (id) DO UPDATE") }),
		mock.MatchedBy(func(args []any) bool {
			return args[0] == "tenant_1" &&
				args[1].(*string) == nil &&
				*args[2].(*string) == "sealed:whsec_new" &&
				args[3].(*string) == nil &&
				*args[4].(*string) == subject &&
				args[5].(*string) == nil
		})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"tenant_1"}).
		Return(rowOf(tenantRow(nil, strPtr("sealed:whsec_new"), nil)...))

	got, err := repo.UpsertTenant(context.Background(), "tenant_1", TenantUpdate{WebhookSecret: &secret, EmailSubject: &subject}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "whsec_new", got.WebhookSecret.Unmask())
	db.AssertExpectations(t)
}
