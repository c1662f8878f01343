package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/szabogaliakos/email-insights-sub001/internal/store"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("insights_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newAccount(t *testing.T, s store.Store) *models.Account {
	t.Helper()
	a := &models.Account{
		ID:         uuid.New(),
		Email:      "owner@x.com",
		Credential: "tok-abc",
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func newScanJob(owner string) *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		Owner:     owner,
		Kind:      models.JobKindScan,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// --- Accounts ---

func TestAccount_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	a := newAccount(t, s)

	got, err := s.GetAccountByEmail(ctx, "owner@x.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "tok-abc", got.Credential)

	got, err = s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Email, got.Email)

	_, err = s.GetAccountByEmail(ctx, "missing@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccount_DuplicateEmail(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	newAccount(t, s)
	err := s.CreateAccount(ctx, &models.Account{
		ID:         uuid.New(),
		Email:      "owner@x.com",
		Credential: "tok-other",
		CreatedAt:  time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- API Keys ---

func TestAPIKey_CreateAndGetByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	a := newAccount(t, s)

	key := &models.APIKey{
		ID:        uuid.New(),
		AccountID: a.ID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "ei_abcde",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeysByPrefix(ctx, "ei_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, a.ID, keys[0].AccountID)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeysByPrefix(ctx, "ei_abcde")
	require.NoError(t, err)
	assert.NotNil(t, keys[0].LastUsedAt)
}

// --- Jobs ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newScanJob("owner@x.com")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindScan, got.Kind)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.Cursor)
	assert.Zero(t, got.Version)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_LabelKindRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	filterID := "f-123"
	job := &models.Job{
		ID:              uuid.New(),
		Owner:           "owner@x.com",
		Kind:            models.JobKindLabelApplication,
		Status:          models.JobStatusPending,
		RuleCriteria:    &models.RuleCriteria{From: "billing@vendor.com", Subject: "invoice"},
		LabelIDs:        []string{"L1", "L2"},
		FilterID:        &filterID,
		RemoveFromInbox: true,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RuleCriteria)
	assert.Equal(t, "billing@vendor.com", got.RuleCriteria.From)
	assert.Equal(t, []string{"L1", "L2"}, got.LabelIDs)
	require.NotNil(t, got.FilterID)
	assert.Equal(t, "f-123", *got.FilterID)
	assert.True(t, got.RemoveFromInbox)
}

func TestJob_UpdateBumpsVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newScanJob("owner@x.com")
	require.NoError(t, s.CreateJob(ctx, job))

	now := time.Now().UTC().Truncate(time.Microsecond)
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	require.NoError(t, s.UpdateJob(ctx, job))
	assert.Equal(t, 1, job.Version)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Version)
}

func TestJob_StaleVersionConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newScanJob("owner@x.com")
	job.Status = models.JobStatusRunning
	require.NoError(t, s.CreateJob(ctx, job))

	// Two readers pick up the same version; only the first commit wins.
	stale, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)

	cursor := "page-2"
	job.Cursor = &cursor
	job.MessagesProcessed = 100
	require.NoError(t, s.CommitBatch(ctx, job))

	stale.MessagesProcessed = 100
	err = s.CommitBatch(ctx, stale)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.MessagesProcessed)
}

func TestJob_CommitBatchRequiresRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newScanJob("owner@x.com")
	job.Status = models.JobStatusPaused
	require.NoError(t, s.CreateJob(ctx, job))

	job.MessagesProcessed = 10
	err := s.CommitBatch(ctx, job)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestJob_DeleteGuards(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newScanJob("owner@x.com")
	job.Status = models.JobStatusRunning
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrJobActive)

	job.Status = models.JobStatusCompleted
	require.NoError(t, s.UpdateJob(ctx, job))
	require.NoError(t, s.DeleteJob(ctx, job.ID))

	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), store.ErrNotFound)
}

func TestJob_ListByOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	j1 := newScanJob("a@x.com")
	require.NoError(t, s.CreateJob(ctx, j1))
	j2 := newScanJob("a@x.com")
	j2.Kind = models.JobKindLabelApplication
	j2.RuleCriteria = &models.RuleCriteria{From: "x@y.com"}
	j2.LabelIDs = []string{"L1"}
	require.NoError(t, s.CreateJob(ctx, j2))
	j3 := newScanJob("b@y.com")
	require.NoError(t, s.CreateJob(ctx, j3))

	jobs, err := s.ListJobsByOwner(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobsByOwner(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
