package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrVersionConflict means a conditional job update matched no row:
	// another trigger committed first. The caller drops its work.
	ErrVersionConflict = errors.New("job version conflict")

	// ErrJobActive is returned when deleting a job that is running or
	// paused.
	ErrJobActive = errors.New("job may be running")
)

// Store is the data access interface. All database operations go through
// here. Job writes are whole-document: every mutable field is written on
// each update so a batch either fully commits or leaves the row intact.
type Store interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)

	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, owner string) ([]*models.Job, error)
	// UpdateJob writes the job's mutable fields, guarded on the version
	// the caller read. On success the job's Version is bumped in place.
	UpdateJob(ctx context.Context, job *models.Job) error
	// CommitBatch is UpdateJob additionally guarded on the row still
	// being `running`, used by batch commits so a pause or cancel that
	// landed mid-batch wins over the batch result.
	CommitBatch(ctx context.Context, job *models.Job) error
	// DeleteJob removes a terminal or pending job; ErrJobActive otherwise.
	DeleteJob(ctx context.Context, id uuid.UUID) error
}
