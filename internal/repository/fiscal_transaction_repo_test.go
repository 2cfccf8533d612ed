//go:build integration

package repository

// Integration tests against real Postgres via testcontainers.
// Run with: go test -tags integration ./internal/repository/... -v

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) FiscalTransactionRepository {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("fiscal_test"),
		tcPostgres.WithUsername("fiscal"),
		tcPostgres.WithPassword("fiscal"),
		testcontainers.WithWaitStrategy(
			tcPostgres.BasicWaitStrategies()...,
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := infra.NewDatabase(dsn)
	require.NoError(t, err)

	return NewFiscalTransactionRepository(db)
}

func newRecord(branchID uuid.UUID) *model.FiscalTransaction {
	return &model.FiscalTransaction{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		BranchID:        branchID,
		TransactionType: model.TypeSale,
		Status:          model.StatusPending,
		Amount:          decimal.NewFromFloat(23.85),
		MaxRetries:      3,
	}
}

// The atomic claim must hand the record to exactly one of many
// concurrent drains.
func TestClaimExclusivity(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	rec := newRecord(uuid.New())
	require.NoError(t, repo.Create(ctx, rec))

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.Claim(ctx, rec.ID, time.Now())
			assert.NoError(t, err)
			if claimed {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Equal(t, 1, len(wins), "exactly one claimer must win")
}

func TestCreateRejectsDuplicateActive(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	first := newRecord(uuid.New())
	require.NoError(t, repo.Create(ctx, first))

	dup := newRecord(first.BranchID)
	dup.OrderID = first.OrderID
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateActive)

	// A different type for the same order is a distinct fiscal event.
	refund := newRecord(first.BranchID)
	refund.OrderID = first.OrderID
	refund.TransactionType = model.TypeRefund
	assert.NoError(t, repo.Create(ctx, refund))
}

func TestGuardedCompletionIsFinal(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	rec := newRecord(uuid.New())
	require.NoError(t, repo.Create(ctx, rec))

	claimed, err := repo.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.MarkCompleted(ctx, rec.ID, "SRM-REF-1", "00", time.Now()))

	// Completed records accept no further transitions.
	err = repo.MarkCompleted(ctx, rec.ID, "SRM-REF-2", "00", time.Now())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	claimed, err = repo.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "SRM-REF-1", *got.AuthorityTransactionID)
}

func TestListEligibleOrderAndBackoff(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	branchID := uuid.New()

	older := newRecord(branchID)
	require.NoError(t, repo.Create(ctx, older))
	time.Sleep(10 * time.Millisecond)
	newer := newRecord(branchID)
	require.NoError(t, repo.Create(ctx, newer))

	deferred := newRecord(branchID)
	require.NoError(t, repo.Create(ctx, deferred))
	future := time.Now().Add(time.Hour)
	deferred.NextRetryAt = &future
	claimed, err := repo.Claim(ctx, deferred.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.Reschedule(ctx, deferred))

	batch, err := repo.ListEligible(ctx, branchID, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 2, "deferred record must not appear before its backoff elapses")
	assert.Equal(t, older.ID, batch[0].ID, "oldest first")
	assert.Equal(t, newer.ID, batch[1].ID)
}

func TestResetForResubmit(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	rec := newRecord(uuid.New())
	require.NoError(t, repo.Create(ctx, rec))

	claimed, err := repo.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	rec.RetryCount = 3
	msg := "exhausted"
	rec.ErrorMessage = &msg
	now := time.Now()
	rec.LastErrorAt = &now
	require.NoError(t, repo.MarkFailed(ctx, rec))

	reset, err := repo.ResetForResubmit(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.ErrorMessage)

	// Only failed records are resubmittable.
	reset, err = repo.ResetForResubmit(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestStaleProcessingSelection(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	rec := newRecord(uuid.New())
	require.NoError(t, repo.Create(ctx, rec))

	claimedAt := time.Now().Add(-time.Hour)
	claimed, err := repo.Claim(ctx, rec.ID, claimedAt)
	require.NoError(t, err)
	require.True(t, claimed)

	stale, err := repo.ListStaleProcessing(ctx, time.Now().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, rec.ID, stale[0].ID)

	require.NoError(t, repo.ReleaseToPending(ctx, rec.ID))
	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.ProcessingAt)
}
