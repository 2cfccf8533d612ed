package worker

// drainer.go
// The unit of work that pushes outstanding fiscal transactions through
// the WEB-SRM gateway. Invoked on demand (POST /v1/fiscal/queue/process)
// and on a schedule (drain_cron.go). Safe to run concurrently: the
// atomic claim in the repository guarantees each record is processed by
// exactly one invocation. One record's failure never aborts the run.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/receipt"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// GatewayClient is the boundary to the fiscal authority.
// Implemented by infra.SRMClient; substituted by fakes in tests.
type GatewayClient interface {
	Submit(ctx context.Context, payload []byte) (*infra.SubmitResult, error)
	Lookup(ctx context.Context, clientRef string) (*infra.SubmitResult, error)
}

// DrainReport summarizes one drain run.
type DrainReport struct {
	Attempted    int
	Completed    int
	Failed       int
	StillPending int64
}

// DrainerConfig wires all drainer dependencies.
type DrainerConfig struct {
	Repo       repository.FiscalTransactionRepository
	Branches   repository.BranchRepository
	Snapshots  SnapshotSource
	Client     GatewayClient
	CB         *infra.CircuitBreaker // optional
	Policy     RetryPolicy
	Events     *infra.EventPublisher // optional
	Dispatcher *Dispatcher           // optional — operator alerts
	RDB        *redis.Client         // optional — DLQ mirror
	AlertEmail string
	BatchSize  int           // per-run count budget
	Budget     time.Duration // per-run wall-clock budget
	StaleAfter time.Duration // processing claims older than this are reclaimed
}

type Drainer struct {
	cfg DrainerConfig
}

func NewDrainer(cfg DrainerConfig) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Budget <= 0 {
		cfg.Budget = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Drainer{cfg: cfg}
}

// Drain processes one batch of eligible records for a branch, oldest
// first, until the batch is exhausted or the wall-clock budget expires.
func (d *Drainer) Drain(ctx context.Context, branchID uuid.UUID) (*DrainReport, error) {
	report := &DrainReport{}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Budget)
	defer cancel()

	batch, err := d.cfg.Repo.ListEligible(runCtx, branchID, time.Now(), d.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("drain: select eligible: %w", err)
	}

	for i := range batch {
		if runCtx.Err() != nil {
			break
		}
		if d.cfg.CB != nil && d.cfg.CB.State() == infra.CBOpen {
			log.Debug().Msg("drain: circuit breaker open, stopping run")
			break
		}
		d.processRecord(runCtx, &batch[i], report)
	}

	// Count against the parent context — the run budget may be spent
	report.StillPending, err = d.cfg.Repo.CountPending(ctx, branchID)
	if err != nil {
		log.Warn().Err(err).Str("branch_id", branchID.String()).Msg("drain: pending count failed")
	}
	return report, nil
}

func (d *Drainer) processRecord(ctx context.Context, rec *model.FiscalTransaction, report *DrainReport) {
	now := time.Now()

	claimed, err := d.cfg.Repo.Claim(ctx, rec.ID, now)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: claim failed")
		return
	}
	if !claimed {
		// A concurrent drain got it first — not our record anymore
		return
	}
	report.Attempted++

	payload, err := d.payloadFor(ctx, rec)
	if errors.Is(err, errPayloadInputs) {
		// The gateway was never contacted, so this is not a submission
		// failure: release the claim with the retry budget untouched,
		// the same as a circuit-open skip. The next run tries again once
		// the missing input is back.
		log.Warn().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: payload inputs unavailable, releasing claim")
		if relErr := d.cfg.Repo.ReleaseToPending(ctx, rec.ID); relErr != nil {
			log.Error().Err(relErr).Str("transaction_id", rec.ID.String()).Msg("drain: release failed")
		}
		report.Attempted--
		return
	}
	if err == nil {
		// A prior attempt may have been registered even though we saw an
		// error: check with the authority before resubmitting.
		if rec.RetryCount > 0 || rec.LastErrorAt != nil {
			if res := d.lookupPrior(ctx, rec); res != nil {
				d.complete(ctx, rec, res, report)
				return
			}
		}
		var res *infra.SubmitResult
		res, err = d.submit(ctx, payload)
		if err == nil {
			d.complete(ctx, rec, res, report)
			return
		}
		if errors.Is(err, infra.ErrCircuitOpen) {
			// No submission happened — release the claim untouched
			if relErr := d.cfg.Repo.ReleaseToPending(ctx, rec.ID); relErr != nil {
				log.Error().Err(relErr).Str("transaction_id", rec.ID.String()).Msg("drain: release failed")
			}
			report.Attempted--
			return
		}
	}

	var ge *infra.GatewayError
	if !errors.As(err, &ge) {
		ge = &infra.GatewayError{Kind: infra.KindTransient, Message: err.Error()}
	}
	d.fail(ctx, rec, ge, report)
}

// errPayloadInputs marks records whose inputs could not be loaded before
// any gateway contact. Distinguished from submission failures so the
// retry budget is never charged for them.
var errPayloadInputs = errors.New("payload inputs unavailable")

// payloadFor reuses the stored snapshot on retries (byte-identical
// resubmission) and compiles from the order snapshot on first attempt.
// Missing inputs wrap errPayloadInputs; a compilation defect is a
// terminal internal error.
func (d *Drainer) payloadFor(ctx context.Context, rec *model.FiscalTransaction) ([]byte, error) {
	if len(rec.PayloadSnapshot) > 0 {
		return []byte(rec.PayloadSnapshot), nil
	}

	snap, err := d.cfg.Snapshots.Snapshot(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: order snapshot: %v", errPayloadInputs, err)
	}
	branch, err := d.cfg.Branches.FindByID(ctx, rec.BranchID)
	if err != nil {
		return nil, fmt.Errorf("%w: branch fiscal identity: %v", errPayloadInputs, err)
	}

	_, raw, err := receipt.Compile(rec, *snap, merchantInfo(branch))
	if err != nil {
		return nil, &infra.GatewayError{Kind: infra.KindInternal,
			Message: fmt.Sprintf("payload compilation failed: %v", err)}
	}
	if err := d.cfg.Repo.SavePayloadSnapshot(ctx, rec.ID, raw); err != nil {
		log.Error().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: persist payload snapshot failed")
	}
	rec.PayloadSnapshot = raw
	return raw, nil
}

func (d *Drainer) submit(ctx context.Context, payload []byte) (*infra.SubmitResult, error) {
	if d.cfg.CB == nil {
		return d.cfg.Client.Submit(ctx, payload)
	}
	var res *infra.SubmitResult
	err := d.cfg.CB.Execute(func() error {
		r, err := d.cfg.Client.Submit(ctx, payload)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lookupPrior asks the authority whether the record's previous attempt
// was registered. A lookup failure is logged and ignored: resubmission
// is the lesser risk versus dropping a legally required record.
func (d *Drainer) lookupPrior(ctx context.Context, rec *model.FiscalTransaction) *infra.SubmitResult {
	res, err := d.cfg.Client.Lookup(ctx, rec.ID.String())
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: dedup lookup failed, resubmitting")
		return nil
	}
	if res != nil {
		log.Info().
			Str("transaction_id", rec.ID.String()).
			Str("authority_transaction_id", res.AuthorityTransactionID).
			Msg("drain: prior attempt was registered — completing without resubmission")
	}
	return res
}

func (d *Drainer) complete(ctx context.Context, rec *model.FiscalTransaction, res *infra.SubmitResult, report *DrainReport) {
	now := time.Now()
	if err := d.cfg.Repo.MarkCompleted(ctx, rec.ID, res.AuthorityTransactionID, res.ResponseCode, now); err != nil {
		log.Error().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: mark completed failed")
		return
	}
	report.Completed++
	log.Info().
		Str("transaction_id", rec.ID.String()).
		Str("order_id", rec.OrderID.String()).
		Str("authority_transaction_id", res.AuthorityTransactionID).
		Int("retries", rec.RetryCount).
		Msg("drain: transaction registered with authority")

	d.cfg.Events.Publish(ctx, infra.FiscalEvent{
		Event:                  "completed",
		TransactionID:          rec.ID.String(),
		OrderID:                rec.OrderID.String(),
		BranchID:               rec.BranchID.String(),
		TransactionType:        rec.TransactionType,
		AuthorityTransactionID: res.AuthorityTransactionID,
		ResponseCode:           res.ResponseCode,
		RetryCount:             rec.RetryCount,
		OccurredAt:             now.UTC().Format(time.RFC3339),
	})
}

func (d *Drainer) fail(ctx context.Context, rec *model.FiscalTransaction, gerr *infra.GatewayError, report *DrainReport) {
	now := time.Now()
	rec.RetryCount++
	msg := gerr.Message
	rec.ErrorMessage = &msg
	if gerr.Code != "" {
		code := gerr.Code
		rec.ResponseCode = &code
	}
	rec.LastErrorAt = &now

	decision := d.cfg.Policy.Decide(gerr, rec.RetryCount, rec.MaxRetries, now)
	if !decision.Terminal {
		rec.NextRetryAt = &decision.NextRetryAt
		if err := d.cfg.Repo.Reschedule(ctx, rec); err != nil {
			log.Error().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: reschedule failed")
			return
		}
		log.Warn().
			Str("transaction_id", rec.ID.String()).
			Str("kind", gerr.Kind.String()).
			Int("retry_count", rec.RetryCount).
			Time("next_retry_at", decision.NextRetryAt).
			Msg("drain: submission failed, retry scheduled")
		return
	}

	rec.NextRetryAt = nil
	if err := d.cfg.Repo.MarkFailed(ctx, rec); err != nil {
		log.Error().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: mark failed failed")
		return
	}
	report.Failed++
	log.Error().
		Str("transaction_id", rec.ID.String()).
		Str("order_id", rec.OrderID.String()).
		Str("kind", gerr.Kind.String()).
		Int("retries", rec.RetryCount).
		Msg("drain: transaction terminally failed — operator action required")

	if d.cfg.RDB != nil {
		code := ""
		if rec.ResponseCode != nil {
			code = *rec.ResponseCode
		}
		SendToDLQ(ctx, d.cfg.RDB, DLQEntry{
			TransactionID: rec.ID.String(),
			OrderID:       rec.OrderID.String(),
			BranchID:      rec.BranchID.String(),
			Reason:        gerr.Message,
			ResponseCode:  code,
			Attempts:      rec.RetryCount,
		})
	}
	if d.cfg.Dispatcher != nil && d.cfg.AlertEmail != "" {
		alert := AlertJobPayload{
			ToEmail: d.cfg.AlertEmail,
			Subject: fmt.Sprintf("Fiscal transaction %s requires attention", rec.ID),
			Body: fmt.Sprintf("Transaction %s (order %s) failed after %d attempts: %s",
				rec.ID, rec.OrderID, rec.RetryCount, gerr.Message),
		}
		if err := d.cfg.Dispatcher.EnqueueAlert(ctx, alert); err != nil {
			log.Warn().Err(err).Msg("drain: failed to enqueue operator alert")
		}
	}

	d.cfg.Events.Publish(ctx, infra.FiscalEvent{
		Event:           "failed",
		TransactionID:   rec.ID.String(),
		OrderID:         rec.OrderID.String(),
		BranchID:        rec.BranchID.String(),
		TransactionType: rec.TransactionType,
		ErrorMessage:    gerr.Message,
		RetryCount:      rec.RetryCount,
		OccurredAt:      now.UTC().Format(time.RFC3339),
	})
}

// RecoverStale reclaims processing claims orphaned by a crash. The
// previous attempt is indeterminate, so each record is checked against
// the authority first and completed in place when it was registered.
func (d *Drainer) RecoverStale(ctx context.Context) {
	olderThan := time.Now().Add(-d.cfg.StaleAfter)
	stale, err := d.cfg.Repo.ListStaleProcessing(ctx, olderThan, d.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("drain: stale claim query failed")
		return
	}
	for i := range stale {
		rec := &stale[i]
		res, err := d.cfg.Client.Lookup(ctx, rec.ID.String())
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: stale claim lookup failed, leaving for next sweep")
			continue
		}
		if res != nil {
			report := &DrainReport{}
			d.complete(ctx, rec, res, report)
			continue
		}
		if err := d.cfg.Repo.ReleaseToPending(ctx, rec.ID); err != nil {
			log.Error().Err(err).Str("transaction_id", rec.ID.String()).Msg("drain: stale claim release failed")
			continue
		}
		log.Warn().
			Str("transaction_id", rec.ID.String()).
			Msg("drain: stale processing claim reclaimed")
	}
}

func merchantInfo(b *model.Branch) receipt.MerchantInfo {
	return receipt.MerchantInfo{
		LegalName: b.LegalName,
		Address:   b.Address,
		Phone:     b.Phone,
		GSTNumber: b.GSTNumber,
		QSTNumber: b.QSTNumber,
		DeviceID:  b.DeviceID,
	}
}
