package run_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyscan/features/run"
)

func TestPostgresRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Now()
	mock.ExpectQuery(`INSERT INTO runs`).
		WithArgs("run-1", "housing policy", run.StatusRunning, 5).
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(started))

	repo := run.NewPostgresRepo(db)
	r := &run.Run{ID: "run-1", Query: "housing policy", Status: run.StatusRunning, Items: 5}
	require.NoError(t, repo.Create(context.Background(), r))
	assert.Equal(t, started, r.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Finish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE runs SET`).
		WithArgs("run-1", run.StatusCompleted, 5, 3, 1, 1, 2, 2, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := run.NewPostgresRepo(db)
	err = repo.Finish(context.Background(), &run.Run{
		ID: "run-1", Status: run.StatusCompleted,
		Items: 5, Succeeded: 3, Failed: 1, Skipped: 1, Merged: 2, Final: 2,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "query", "status", "items", "succeeded", "failed", "skipped", "merged", "final", "error", "started_at", "finished_at",
	}).AddRow("run-1", "q", "completed", 5, 3, 1, 1, 2, 2, "", started, nil)
	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id`).WithArgs("run-1").WillReturnRows(rows)

	repo := run.NewPostgresRepo(db)
	got, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Succeeded)
	assert.False(t, got.FinishedAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "query", "status", "items", "succeeded", "failed", "skipped", "merged", "final", "error", "started_at", "finished_at",
	}).
		AddRow("run-2", "q2", "running", 0, 0, 0, 0, 0, 0, "", started, nil).
		AddRow("run-1", "q1", "completed", 5, 3, 1, 1, 2, 2, "", started.Add(-time.Hour), started)
	mock.ExpectQuery(`SELECT .+ FROM runs ORDER BY started_at DESC`).WillReturnRows(rows)

	repo := run.NewPostgresRepo(db)
	runs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
