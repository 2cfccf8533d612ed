package worker

// snapshot_store.go
// Bridges the external order subsystem to the drainer: when a fiscal
// event is recorded, the order snapshot it carried is cached here so the
// drainer can compile the receipt payload on the first submission
// attempt. Once compiled, the payload lives on the record itself and the
// cache entry is no longer needed.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/receipt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSnapshotMissing is returned when no cached snapshot exists for a
// record that has no compiled payload yet.
var ErrSnapshotMissing = errors.New("order snapshot not available")

// SnapshotSource provides the order snapshot for a transaction's first
// submission attempt.
type SnapshotSource interface {
	Snapshot(ctx context.Context, txID uuid.UUID) (*receipt.OrderSnapshot, error)
}

// SnapshotCache is the write side used when recording a transaction.
type SnapshotCache interface {
	SnapshotSource
	Save(ctx context.Context, txID uuid.UUID, snap *receipt.OrderSnapshot) error
}

// SnapshotStore caches order snapshots in Redis, keyed by transaction id.
type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotStore(rdb *redis.Client) *SnapshotStore {
	// Snapshots outlive any realistic retry schedule; the compiled
	// payload replaces them after the first attempt.
	return &SnapshotStore{rdb: rdb, ttl: 7 * 24 * time.Hour}
}

var _ SnapshotCache = (*SnapshotStore)(nil)

type snapshotEnvelope struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	TakenAt       time.Time           `json:"taken_at"`
	Lines         []receipt.OrderLine `json:"lines"`
	PaymentMethod string              `json:"payment_method"`
	Closing       bool                `json:"closing"`
}

func (s *SnapshotStore) key(txID uuid.UUID) string {
	return "fiscal:snapshot:" + txID.String()
}

func (s *SnapshotStore) Save(ctx context.Context, txID uuid.UUID, snap *receipt.OrderSnapshot) error {
	data, err := json.Marshal(snapshotEnvelope{
		OrderID:       snap.OrderID,
		OrderNumber:   snap.OrderNumber,
		TakenAt:       snap.TakenAt,
		Lines:         snap.Lines,
		PaymentMethod: snap.PaymentMethod,
		Closing:       snap.Closing,
	})
	if err != nil {
		return fmt.Errorf("snapshot store: marshal: %w", err)
	}
	return s.rdb.Set(ctx, s.key(txID), data, s.ttl).Err()
}

func (s *SnapshotStore) Snapshot(ctx context.Context, txID uuid.UUID) (*receipt.OrderSnapshot, error) {
	data, err := s.rdb.Get(ctx, s.key(txID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotMissing
	}
	if err != nil {
		return nil, err
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("snapshot store: unmarshal: %w", err)
	}
	return &receipt.OrderSnapshot{
		OrderID:       env.OrderID,
		OrderNumber:   env.OrderNumber,
		TakenAt:       env.TakenAt,
		Lines:         env.Lines,
		PaymentMethod: env.PaymentMethod,
		Closing:       env.Closing,
	}, nil
}
