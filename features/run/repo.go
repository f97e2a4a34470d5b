package run

import (
	"context"
	"database/sql"
)

type Repository interface {
	Create(ctx context.Context, r *Run) error
	Finish(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context) ([]Run, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, run *Run) error {
	query := `INSERT INTO runs (id, query, status, items) VALUES ($1, $2, $3, $4) RETURNING started_at`
	return r.db.QueryRowContext(ctx, query, run.ID, run.Query, run.Status, run.Items).Scan(&run.StartedAt)
}

func (r *PostgresRepo) Finish(ctx context.Context, run *Run) error {
	query := `UPDATE runs SET status = $2, items = $3, succeeded = $4, failed = $5, skipped = $6, merged = $7, final = $8, error = $9, finished_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, run.ID, run.Status, run.Items, run.Succeeded, run.Failed, run.Skipped, run.Merged, run.Final, run.Error)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	query := `SELECT id, query, status, items, succeeded, failed, skipped, merged, final, error, started_at, finished_at FROM runs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Query, &run.Status, &run.Items, &run.Succeeded, &run.Failed,
		&run.Skipped, &run.Merged, &run.Final, &run.Error, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Run, error) {
	query := `SELECT id, query, status, items, succeeded, failed, skipped, merged, final, error, started_at, finished_at FROM runs ORDER BY started_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Query, &run.Status, &run.Items, &run.Succeeded, &run.Failed,
			&run.Skipped, &run.Merged, &run.Final, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
