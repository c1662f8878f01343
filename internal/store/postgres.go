package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, credential, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Email, a.Credential, a.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, credential, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.Credential, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, credential, created_at FROM accounts WHERE email = $1`, email,
	).Scan(&a.ID, &a.Email, &a.Credential, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &a, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, name, key_hash, key_prefix, last_used_at, deleted_at, created_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, account_id, name, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.AccountID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, owner, kind, status, cursor,
	messages_processed, addresses_found, messages_matched, labels_applied,
	rule_criteria, label_ids, filter_id, remove_from_inbox, estimated_total,
	error, retry_count, version, created_at, started_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	criteria, err := marshalCriteria(job.RuleCriteria)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		job.ID, job.Owner, job.Kind, job.Status, job.Cursor,
		job.MessagesProcessed, job.AddressesFound, job.MessagesMatched, job.LabelsApplied,
		criteria, job.LabelIDs, job.FilterID, job.RemoveFromInbox, job.EstimatedTotal,
		job.Error, job.RetryCount, job.Version, job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByOwner(ctx context.Context, owner string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", owner, err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	return s.updateJob(ctx, job, false)
}

func (s *PostgresStore) CommitBatch(ctx context.Context, job *models.Job) error {
	return s.updateJob(ctx, job, true)
}

// updateJob writes all mutable fields in one conditional statement. The
// version guard makes concurrent triggers for the same job safe: the
// loser matches no row and must re-read.
func (s *PostgresStore) updateJob(ctx context.Context, job *models.Job, requireRunning bool) error {
	criteria, err := marshalCriteria(job.RuleCriteria)
	if err != nil {
		return err
	}

	query := `UPDATE jobs SET
		status = $3, cursor = $4,
		messages_processed = $5, addresses_found = $6, messages_matched = $7, labels_applied = $8,
		rule_criteria = $9, label_ids = $10, filter_id = $11, remove_from_inbox = $12, estimated_total = $13,
		error = $14, retry_count = $15, started_at = $16, completed_at = $17,
		version = version + 1
		WHERE id = $1 AND version = $2`
	if requireRunning {
		query += ` AND status = 'running'`
	}

	tag, err := s.pool.Exec(ctx, query,
		job.ID, job.Version,
		job.Status, job.Cursor,
		job.MessagesProcessed, job.AddressesFound, job.MessagesMatched, job.LabelsApplied,
		criteria, job.LabelIDs, job.FilterID, job.RemoveFromInbox, job.EstimatedTotal,
		job.Error, job.RetryCount, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Absent row and lost race look the same here; distinguish.
		if _, getErr := s.GetJob(ctx, job.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	job.Version++
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status IN ('pending', 'completed', 'cancelled', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrJobActive
	}
	return nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var criteria []byte

	err := row.Scan(
		&j.ID, &j.Owner, &j.Kind, &j.Status, &j.Cursor,
		&j.MessagesProcessed, &j.AddressesFound, &j.MessagesMatched, &j.LabelsApplied,
		&criteria, &j.LabelIDs, &j.FilterID, &j.RemoveFromInbox, &j.EstimatedTotal,
		&j.Error, &j.RetryCount, &j.Version, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(criteria) > 0 {
		var c models.RuleCriteria
		if err := json.Unmarshal(criteria, &c); err != nil {
			return nil, fmt.Errorf("decode rule criteria: %w", err)
		}
		j.RuleCriteria = &c
	}
	return &j, nil
}

func marshalCriteria(c *models.RuleCriteria) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode rule criteria: %w", err)
	}
	return raw, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
