package school

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-service/common/metrics"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	table = "schools"

	// idAllocationLockKey identifies the advisory lock held while a
	// transaction allocates and inserts a school id.
	idAllocationLockKey int64 = 7_110_501

	uniqueViolation = "23505"
)

type Repository interface {
	// Create allocates the next free id and inserts the school in one transaction.
	Create(ctx context.Context, school *School) (*School, error)
	GetAll(ctx context.Context) ([]School, error)
	Exists(ctx context.Context, id int) (bool, error)
	Delete(ctx context.Context, id int) error
}

type repository struct {
	db      *bun.DB
	metrics *metrics.Metrics
}

func NewRepository(db *bun.DB, m *metrics.Metrics) Repository {
	if m == nil {
		m = metrics.NewMock()
	}
	return &repository{
		db:      db,
		metrics: m,
	}
}

func (r *repository) record(ctx context.Context, operation string, start time.Time, err error) {
	r.metrics.Database.RecordQuery(ctx, operation, table, time.Since(start), err)
}

func (r *repository) Create(ctx context.Context, school *School) (*School, error) {
	created := &School{
		Name:      school.Name,
		Address:   school.Address,
		Latitude:  school.Latitude,
		Longitude: school.Longitude,
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.lockIDAllocation(ctx, tx); err != nil {
			return err
		}

		id, err := r.allocateNextID(ctx, tx)
		if err != nil {
			return err
		}

		return r.insert(ctx, tx, created, id)
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// lockIDAllocation serializes allocation across concurrent transactions.
// The lock is released on commit or rollback.
func (r *repository) lockIDAllocation(ctx context.Context, tx bun.Tx) error {
	if r.db.Dialect().Name() != dialect.PG {
		return nil
	}

	start := time.Now()
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", idAllocationLockKey)
	r.record(ctx, "lock", start, err)
	if err != nil {
		return fmt.Errorf("failed to lock id allocation: %w", err)
	}
	return nil
}

func (r *repository) allocateNextID(ctx context.Context, tx bun.IDB) (int, error) {
	start := time.Now()
	var ids []int
	err := tx.NewSelect().
		Model((*School)(nil)).
		Column("id").
		Order("id ASC").
		Scan(ctx, &ids)
	r.record(ctx, "select_ids", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to read school ids: %w", err)
	}

	return NextID(ids), nil
}

func (r *repository) insert(ctx context.Context, tx bun.IDB, school *School, id int) error {
	school.ID = id

	start := time.Now()
	_, err := tx.NewInsert().Model(school).Returning("*").Exec(ctx)
	r.record(ctx, "insert", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: id %d", ErrIDConflict, id)
		}
		return fmt.Errorf("failed to insert school: %w", err)
	}
	return nil
}

func (r *repository) GetAll(ctx context.Context) ([]School, error) {
	start := time.Now()
	schools := make([]School, 0)
	err := r.db.NewSelect().Model(&schools).Order("id ASC").Scan(ctx)
	r.record(ctx, "select", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list schools: %w", err)
	}
	return schools, nil
}

func (r *repository) Exists(ctx context.Context, id int) (bool, error) {
	start := time.Now()
	exists, err := r.db.NewSelect().
		Model((*School)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	r.record(ctx, "exists", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to check school %d: %w", id, err)
	}
	return exists, nil
}

func (r *repository) Delete(ctx context.Context, id int) error {
	start := time.Now()
	result, err := r.db.NewDelete().Model(&School{ID: id}).WherePK().Exec(ctx)
	r.record(ctx, "delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete school %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete school %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrSchoolNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == uniqueViolation
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == uniqueViolation
	}

	return false
}
