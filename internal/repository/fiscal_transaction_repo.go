package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDuplicateActive is returned when a record is created while another
// one for the same (order_id, transaction_type) is still pending or
// processing. The caller must wait for the in-flight record to resolve.
var ErrDuplicateActive = errors.New("an active fiscal transaction already exists for this order and type")

type FiscalTransactionRepository interface {
	Create(ctx context.Context, t *model.FiscalTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.FiscalTransaction, error)

	// Claim atomically transitions pending → processing. Returns false
	// when the record was no longer pending (claimed by a concurrent
	// drain or already resolved).
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// Outcome transitions — all guarded on status='processing' so a
	// completed record can never be mutated again.
	MarkCompleted(ctx context.Context, id uuid.UUID, authorityTxID, responseCode string, completedAt time.Time) error
	Reschedule(ctx context.Context, t *model.FiscalTransaction) error
	MarkFailed(ctx context.Context, t *model.FiscalTransaction) error

	// SavePayloadSnapshot stores the compiled payload on first submission
	// so retries can resubmit byte-identical data.
	SavePayloadSnapshot(ctx context.Context, id uuid.UUID, payload []byte) error

	ListEligible(ctx context.Context, branchID uuid.UUID, now time.Time, limit int) ([]model.FiscalTransaction, error)
	BranchesWithEligible(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.FiscalTransaction, error)
	ReleaseToPending(ctx context.Context, id uuid.UUID) error

	CurrentByOrder(ctx context.Context, orderID uuid.UUID) (*model.FiscalTransaction, error)
	HistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]model.FiscalTransaction, error)

	CountPending(ctx context.Context, branchID uuid.UUID) (int64, error)
	CountByStatus(ctx context.Context, branchID uuid.UUID) (map[string]int64, error)

	// ResetForResubmit re-queues a terminal failed record. Explicit
	// operator action only — never called by the drainer.
	ResetForResubmit(ctx context.Context, id uuid.UUID) (bool, error)
}

type fiscalTransactionRepo struct{ db *gorm.DB }

func NewFiscalTransactionRepository(db *gorm.DB) FiscalTransactionRepository {
	return &fiscalTransactionRepo{db: db}
}

// Create inserts the record inside a transaction, first verifying the
// idempotency invariant: at most one pending/processing record per
// (order_id, transaction_type). A partial unique index backs this at the
// DB level (see infra.NewDatabase); the explicit check gives callers a
// typed error instead of a driver constraint violation.
func (r *fiscalTransactionRepo) Create(ctx context.Context, t *model.FiscalTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&model.FiscalTransaction{}).
			Where("order_id = ? AND transaction_type = ? AND status IN ?",
				t.OrderID, t.TransactionType, []string{model.StatusPending, model.StatusProcessing}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateActive
		}
		return tx.Create(t).Error
	})
}

func (r *fiscalTransactionRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.FiscalTransaction, error) {
	var t model.FiscalTransaction
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	return &t, err
}

func (r *fiscalTransactionRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"status":        model.StatusProcessing,
			"processing_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *fiscalTransactionRepo) MarkCompleted(ctx context.Context, id uuid.UUID, authorityTxID, responseCode string, completedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":                   model.StatusCompleted,
			"authority_transaction_id": authorityTxID,
			"response_code":            responseCode,
			"completed_at":             completedAt,
			"next_retry_at":            nil,
			"processing_at":            nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *fiscalTransactionRepo) Reschedule(ctx context.Context, t *model.FiscalTransaction) error {
	return r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ? AND status = ?", t.ID, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.StatusPending,
			"retry_count":   t.RetryCount,
			"response_code": t.ResponseCode,
			"error_message": t.ErrorMessage,
			"next_retry_at": t.NextRetryAt,
			"last_error_at": t.LastErrorAt,
			"processing_at": nil,
		}).Error
}

func (r *fiscalTransactionRepo) MarkFailed(ctx context.Context, t *model.FiscalTransaction) error {
	return r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ? AND status = ?", t.ID, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"retry_count":   t.RetryCount,
			"response_code": t.ResponseCode,
			"error_message": t.ErrorMessage,
			"next_retry_at": nil,
			"last_error_at": t.LastErrorAt,
			"processing_at": nil,
		}).Error
}

func (r *fiscalTransactionRepo) SavePayloadSnapshot(ctx context.Context, id uuid.UUID, payload []byte) error {
	return r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ?", id).
		Update("payload_snapshot", payload).Error
}

// ListEligible selects pending records whose backoff has elapsed,
// oldest first — per-branch FIFO keeps the fiscal record chronological.
func (r *fiscalTransactionRepo) ListEligible(ctx context.Context, branchID uuid.UUID, now time.Time, limit int) ([]model.FiscalTransaction, error) {
	var out []model.FiscalTransaction
	err := r.db.WithContext(ctx).
		Where("branch_id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			branchID, model.StatusPending, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *fiscalTransactionRepo) BranchesWithEligible(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Distinct("branch_id").
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", model.StatusPending, now).
		Pluck("branch_id", &out).Error
	return out, err
}

func (r *fiscalTransactionRepo) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.FiscalTransaction, error) {
	var out []model.FiscalTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND processing_at < ?", model.StatusProcessing, olderThan).
		Order("processing_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *fiscalTransactionRepo) ReleaseToPending(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.StatusPending,
			"processing_at": nil,
		}).Error
}

// CurrentByOrder returns the active record for the order, or the most
// recently created one when none is active.
func (r *fiscalTransactionRepo) CurrentByOrder(ctx context.Context, orderID uuid.UUID) (*model.FiscalTransaction, error) {
	var t model.FiscalTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []string{model.StatusPending, model.StatusProcessing}).
		Order("created_at DESC").
		First(&t).Error
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	err = r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&t).Error
	return &t, err
}

func (r *fiscalTransactionRepo) HistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]model.FiscalTransaction, error) {
	var out []model.FiscalTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *fiscalTransactionRepo) CountPending(ctx context.Context, branchID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("branch_id = ? AND status = ?", branchID, model.StatusPending).
		Count(&n).Error
	return n, err
}

func (r *fiscalTransactionRepo) CountByStatus(ctx context.Context, branchID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Select("status, COUNT(*) AS n").
		Where("branch_id = ?", branchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func (r *fiscalTransactionRepo) ResetForResubmit(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.FiscalTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusFailed).
		Updates(map[string]interface{}{
			"status":        model.StatusPending,
			"retry_count":   0,
			"next_retry_at": nil,
			"error_message": nil,
			"response_code": nil,
		})
	return res.RowsAffected == 1, res.Error
}
