package worker

// dlq.go — Dead Letter Queue
// Transactions that reach terminal failed are mirrored here so operator
// tooling can list them without scanning the ledger. The ledger row
// itself is never deleted; the DLQ entry is a pointer plus diagnostics.
// Uses a Redis list: dlq:fiscal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const FiscalDLQKey = "dlq:fiscal"

// DLQEntry wraps a terminally failed transaction with debugging metadata.
type DLQEntry struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	BranchID      string `json:"branch_id"`
	Reason        string `json:"reason"`
	ResponseCode  string `json:"response_code,omitempty"`
	FailedAt      string `json:"failed_at"` // ISO 8601
	Attempts      int    `json:"attempts"`
}

// SendToDLQ records a terminally failed transaction for manual inspection.
func SendToDLQ(ctx context.Context, rdb *redis.Client, entry DLQEntry) {
	entry.FailedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", entry.TransactionID).Msg("dlq: failed to marshal entry")
		return
	}

	if err := rdb.LPush(ctx, FiscalDLQKey, data).Err(); err != nil {
		log.Error().Err(err).Str("transaction_id", entry.TransactionID).Msg("dlq: failed to push entry")
		return
	}

	log.Warn().
		Str("transaction_id", entry.TransactionID).
		Str("order_id", entry.OrderID).
		Str("reason", entry.Reason).
		Int("attempts", entry.Attempts).
		Msg("dlq: transaction moved to dead letter queue")
}

// DLQLength returns the number of entries for monitoring.
func DLQLength(ctx context.Context, rdb *redis.Client) (int64, error) {
	return rdb.LLen(ctx, FiscalDLQKey).Result()
}
