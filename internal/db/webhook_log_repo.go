package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"recoverly/internal/types"
)

// Shared codecs; EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// WebhookLogRepository stores the audit trail of webhook calls. Raw payloads
// are kept zstd-compressed.
type WebhookLogRepository struct {
	db DBTX
}

// NewWebhookLogRepository creates a WebhookLogRepository.
func NewWebhookLogRepository(db DBTX) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// Insert writes l, assigning an ID and processed_at if unset.
func (r *WebhookLogRepository) Insert(ctx context.Context, l *types.WebhookLog) error {
	if l.ID == "" {
		l.ID = newID("whl")
	}
	if l.ProcessedAt.IsZero() {
		l.ProcessedAt = time.Now().UTC()
	}

	var compressed []byte
	if len(l.Payload) > 0 {
		enc, _, err := codecs()
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "zstd unavailable", err)
		}
		compressed = enc.EncodeAll(l.Payload, nil)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_logs (id, tenant_id, event_id, event_type, status, error_message, payload_zstd, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.TenantID, nilIfEmpty(l.EventID), nilIfEmpty(l.EventType), string(l.Status),
		nilIfEmpty(l.ErrorMessage), compressed, l.ProcessedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write webhook log", err)
	}
	return nil
}

// ListByTenant returns the most recent logs for a tenant with payloads
// decompressed.
func (r *WebhookLogRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*types.WebhookLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, event_id, event_type, status, error_message, payload_zstd, processed_at
		 FROM webhook_logs WHERE tenant_id = $1
		 ORDER BY processed_at DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list webhook logs", err)
	}
	defer rows.Close()

	var out []*types.WebhookLog
	for rows.Next() {
		var (
			l                            types.WebhookLog
			eventID, eventType, errorMsg *string
			status                       string
			compressed                   []byte
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &eventID, &eventType, &status, &errorMsg, &compressed, &l.ProcessedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan webhook log", err)
		}
		l.EventID = derefString(eventID)
		l.EventType = derefString(eventType)
		l.ErrorMessage = derefString(errorMsg)
		l.Status = types.WebhookLogStatus(status)
		if len(compressed) > 0 {
			payload, err := decompress(compressed)
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "corrupt webhook payload "+l.ID, err)
			}
			l.Payload = payload
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate webhook logs", err)
	}
	return out, nil
}

func decompress(b []byte) ([]byte, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
