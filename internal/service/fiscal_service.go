package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/dto"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/receipt"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotResubmittable is returned when an operator tries to resubmit a
// record that is not in terminal failed state.
var ErrNotResubmittable = errors.New("only terminally failed transactions can be resubmitted")

// ErrInvalidRequest marks request-shape problems the caller can fix.
// Handlers map it to 400; anything else is a server fault.
var ErrInvalidRequest = errors.New("invalid request")

type FiscalService interface {
	// CreateTransaction records a sale, refund, or payment-method change.
	CreateTransaction(ctx context.Context, req dto.CreateFiscalTransactionRequest) (*dto.FiscalTransactionResponse, error)

	// Read-side projections — never trigger submission attempts.
	Status(ctx context.Context, orderID uuid.UUID) (*dto.FiscalTransactionResponse, error)
	History(ctx context.Context, orderID uuid.UUID) (*dto.FiscalHistoryResponse, error)
	QueueStats(ctx context.Context, branchID uuid.UUID) (*dto.QueueStatsResponse, error)
	ReceiptPDF(ctx context.Context, id uuid.UUID) ([]byte, error)

	// ProcessQueue drains the branch's outstanding transactions.
	ProcessQueue(ctx context.Context, branchID uuid.UUID) (*dto.DrainReportResponse, error)

	// Resubmit re-queues a terminally failed record. Explicit, audited
	// operator action — never part of automatic draining.
	Resubmit(ctx context.Context, id uuid.UUID, operator string) (*dto.FiscalTransactionResponse, error)
}

type fiscalService struct {
	repo       repository.FiscalTransactionRepository
	snapshots  worker.SnapshotCache
	drainer    *worker.Drainer
	events     *infra.EventPublisher
	rdb        *redis.Client
	maxRetries int
	qrBaseURL  string
}

func NewFiscalService(
	repo repository.FiscalTransactionRepository,
	snapshots worker.SnapshotCache,
	drainer *worker.Drainer,
	events *infra.EventPublisher,
	rdb *redis.Client,
	maxRetries int,
	qrBaseURL string,
) FiscalService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &fiscalService{
		repo:       repo,
		snapshots:  snapshots,
		drainer:    drainer,
		events:     events,
		rdb:        rdb,
		maxRetries: maxRetries,
		qrBaseURL:  qrBaseURL,
	}
}

var _ worker.TransactionRecorder = (FiscalService)(nil)

func (s *fiscalService) CreateTransaction(ctx context.Context, req dto.CreateFiscalTransactionRequest) (*dto.FiscalTransactionResponse, error) {
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid order_id: %v", ErrInvalidRequest, err)
	}
	branchID, err := uuid.Parse(req.BranchID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid branch_id: %v", ErrInvalidRequest, err)
	}
	if _, err := time.Parse(time.RFC3339, req.Order.TakenAt); err != nil {
		return nil, fmt.Errorf("%w: invalid taken_at: %v", ErrInvalidRequest, err)
	}
	if req.TransactionType == model.TypeSale && req.RefundType != nil {
		return nil, fmt.Errorf("%w: refund_type is only valid on REM transactions", ErrInvalidRequest)
	}
	if req.RefundType != nil && *req.RefundType == model.RefundTypePaymentChange {
		if req.OriginalPayment == nil || req.ChangeTo == nil {
			return nil, fmt.Errorf("%w: payment_method_change requires original_payment_method and change_to", ErrInvalidRequest)
		}
	}

	snap := snapshotFromDTO(orderID, req.Order)

	tx := &model.FiscalTransaction{
		ID:                    uuid.New(),
		OrderID:               orderID,
		BranchID:              branchID,
		TransactionType:       req.TransactionType,
		RefundType:            req.RefundType,
		OriginalPaymentMethod: req.OriginalPayment,
		ChangeTo:              req.ChangeTo,
		Status:                model.StatusPending,
		Amount:                receipt.Total(snap),
		MaxRetries:            s.maxRetries,
	}

	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	// The snapshot feeds the first compilation; its loss only delays the
	// record (retried as transient), so creation does not fail on it.
	if err := s.snapshots.Save(ctx, tx.ID, &snap); err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.ID.String()).Msg("fiscal: snapshot cache write failed")
	}

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("order_id", tx.OrderID.String()).
		Str("type", tx.TransactionType).
		Str("amount", tx.Amount.String()).
		Msg("fiscal: transaction recorded")

	return toResponse(tx), nil
}

func (s *fiscalService) Status(ctx context.Context, orderID uuid.UUID) (*dto.FiscalTransactionResponse, error) {
	tx, err := s.repo.CurrentByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toResponse(tx), nil
}

func (s *fiscalService) History(ctx context.Context, orderID uuid.UUID) (*dto.FiscalHistoryResponse, error) {
	records, err := s.repo.HistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	resp := &dto.FiscalHistoryResponse{
		OrderID: orderID.String(),
		Count:   len(records),
		Data:    make([]dto.FiscalTransactionResponse, 0, len(records)),
	}
	for i := range records {
		resp.Data = append(resp.Data, *toResponse(&records[i]))
	}
	return resp, nil
}

func (s *fiscalService) ProcessQueue(ctx context.Context, branchID uuid.UUID) (*dto.DrainReportResponse, error) {
	report, err := s.drainer.Drain(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return &dto.DrainReportResponse{
		Attempted:    report.Attempted,
		Completed:    report.Completed,
		Failed:       report.Failed,
		StillPending: report.StillPending,
	}, nil
}

func (s *fiscalService) Resubmit(ctx context.Context, id uuid.UUID, operator string) (*dto.FiscalTransactionResponse, error) {
	tx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.StatusFailed {
		return nil, ErrNotResubmittable
	}

	reset, err := s.repo.ResetForResubmit(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reset {
		// Lost a race with another operator — already re-queued
		return nil, ErrNotResubmittable
	}

	log.Info().
		Str("transaction_id", id.String()).
		Str("order_id", tx.OrderID.String()).
		Str("operator", operator).
		Msg("fiscal: terminally failed transaction resubmitted by operator")

	s.events.Publish(ctx, infra.FiscalEvent{
		Event:           "resubmitted",
		TransactionID:   id.String(),
		OrderID:         tx.OrderID.String(),
		BranchID:        tx.BranchID.String(),
		TransactionType: tx.TransactionType,
		OccurredAt:      time.Now().UTC().Format(time.RFC3339),
	})

	refreshed, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toResponse(refreshed), nil
}

func (s *fiscalService) QueueStats(ctx context.Context, branchID uuid.UUID) (*dto.QueueStatsResponse, error) {
	counts, err := s.repo.CountByStatus(ctx, branchID)
	if err != nil {
		return nil, err
	}
	stats := &dto.QueueStatsResponse{
		BranchID:   branchID.String(),
		Pending:    counts[model.StatusPending],
		Processing: counts[model.StatusProcessing],
		Completed:  counts[model.StatusCompleted],
		Failed:     counts[model.StatusFailed],
	}
	if s.rdb != nil {
		if depth, err := worker.DLQLength(ctx, s.rdb); err == nil {
			stats.DLQDepth = depth
		}
	}
	return stats, nil
}

// ReceiptPDF renders the printable QR receipt for a completed record.
// Pure read-side transformation of the persisted payload snapshot.
func (s *fiscalService) ReceiptPDF(ctx context.Context, id uuid.UUID) ([]byte, error) {
	tx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.StatusCompleted || tx.AuthorityTransactionID == nil {
		return nil, fmt.Errorf("receipt not available — transaction is '%s'", tx.Status)
	}
	if len(tx.PayloadSnapshot) == 0 {
		return nil, errors.New("receipt not available — no payload snapshot")
	}

	var payload receipt.Payload
	if err := json.Unmarshal(tx.PayloadSnapshot, &payload); err != nil {
		return nil, fmt.Errorf("decode payload snapshot: %w", err)
	}

	verificationURL := fmt.Sprintf("%s/%s", s.qrBaseURL, *tx.AuthorityTransactionID)
	return infra.RenderReceiptPDF(&payload, *tx.AuthorityTransactionID, verificationURL)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func snapshotFromDTO(orderID uuid.UUID, o dto.OrderSnapshotDTO) receipt.OrderSnapshot {
	takenAt, _ := time.Parse(time.RFC3339, o.TakenAt)
	lines := make([]receipt.OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, receipt.OrderLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxCode:     l.TaxCode,
		})
	}
	return receipt.OrderSnapshot{
		OrderID:       orderID,
		OrderNumber:   o.OrderNumber,
		TakenAt:       takenAt,
		Lines:         lines,
		PaymentMethod: o.PaymentMethod,
		Closing:       o.Closing,
	}
}

func toResponse(t *model.FiscalTransaction) *dto.FiscalTransactionResponse {
	resp := &dto.FiscalTransactionResponse{
		ID:                     t.ID.String(),
		OrderID:                t.OrderID.String(),
		BranchID:               t.BranchID.String(),
		TransactionType:        t.TransactionType,
		RefundType:             t.RefundType,
		OriginalPayment:        t.OriginalPaymentMethod,
		ChangeTo:               t.ChangeTo,
		Status:                 t.Status,
		AuthorityTransactionID: t.AuthorityTransactionID,
		ResponseCode:           t.ResponseCode,
		ErrorMessage:           t.ErrorMessage,
		Amount:                 t.Amount,
		RetryCount:             t.RetryCount,
		MaxRetries:             t.MaxRetries,
		CreatedAt:              t.CreatedAt.Format(time.RFC3339),
	}
	if t.NextRetryAt != nil {
		s := t.NextRetryAt.Format(time.RFC3339)
		resp.NextRetryAt = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	if t.LastErrorAt != nil {
		s := t.LastErrorAt.Format(time.RFC3339)
		resp.LastErrorAt = &s
	}
	return resp
}
