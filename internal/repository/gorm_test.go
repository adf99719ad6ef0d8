package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/antisplit/pkg/config"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := NewGormDB(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func TestGormTaskRepository_Lifecycle(t *testing.T) {
	repo := NewGormTaskRepository(setupTestDB(t))
	ctx := context.Background()

	task := model.NewMergeTask("uuid-1", []string{"app.apks"}, "app_antisplit.apk")
	require.NoError(t, repo.Create(ctx, task))
	assert.NotZero(t, task.ID)

	require.NoError(t, repo.UpdatePhase(ctx, "uuid-1", model.PhaseDexMerge))
	got, err := repo.GetByTID(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDexMerge, got.Phase)
	assert.Equal(t, model.MergeStatusRunning, got.Status)
	assert.Equal(t, []string{"app.apks"}, got.Inputs)
	assert.Nil(t, got.EndTime)

	task.Status = model.MergeStatusSucceeded
	task.Phase = model.PhaseDone
	task.Modules = []string{"base", "config.en"}
	task.Signed = true
	task.DexStrategy = model.DexStrategyMerged
	task.Duration = 1500 * time.Millisecond
	require.NoError(t, repo.Finish(ctx, task))
	require.NotNil(t, task.EndTime)

	got, err = repo.GetByTID(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusSucceeded, got.Status)
	assert.Equal(t, model.PhaseDone, got.Phase)
	assert.Equal(t, []string{"base", "config.en"}, got.Modules)
	assert.True(t, got.Signed)
	assert.Equal(t, model.DexStrategyMerged, got.DexStrategy)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.NotNil(t, got.EndTime)
}

func TestGormTaskRepository_NotFound(t *testing.T) {
	repo := NewGormTaskRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByTID(ctx, "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))

	err = repo.UpdatePhase(ctx, "missing", model.PhaseWriting)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))

	err = repo.Finish(ctx, &model.MergeTask{TaskUUID: "missing", Status: model.MergeStatusFailed})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))
}

func TestGormTaskRepository_DuplicateTID(t *testing.T) {
	repo := NewGormTaskRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, model.NewMergeTask("dup", nil, "a.apk")))
	err := repo.Create(ctx, model.NewMergeTask("dup", nil, "b.apk"))
	assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
}

func TestGormTaskRepository_ListRecent(t *testing.T) {
	repo := NewGormTaskRepository(setupTestDB(t))
	ctx := context.Background()

	tasks, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, repo.Create(ctx, model.NewMergeTask(id, []string{id + ".apks"}, id+".apk")))
	}

	tasks, err = repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t3", tasks[0].TaskUUID)
	assert.Equal(t, "t2", tasks[1].TaskUUID)

	tasks, err = repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func newMockGorm(t *testing.T, dialect string) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	var dialector gorm.Dialector
	switch dialect {
	case "mysql":
		dialector = mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true})
	default:
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db, mock
}

func TestGormTaskRepository_MySQL(t *testing.T) {
	db, mock := newMockGorm(t, "mysql")
	repo := NewGormTaskRepository(db)
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `merge_task`").WillReturnResult(sqlmock.NewResult(7, 1))
		mock.ExpectCommit()

		task := model.NewMergeTask("uuid-m", []string{"in.apks"}, "out.apk")
		require.NoError(t, repo.Create(ctx, task))
		assert.Equal(t, int64(7), task.ID)
	})

	t.Run("UpdatePhaseMissing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `merge_task` SET `phase`").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := repo.UpdatePhase(ctx, "nope", model.PhaseSigning)
		assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))
	})

	t.Run("QueryError", func(t *testing.T) {
		mock.ExpectQuery("SELECT \\* FROM `merge_task`").WillReturnError(assert.AnError)

		_, err := repo.ListRecent(ctx, 5)
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTaskRepository_Postgres(t *testing.T) {
	db, mock := newMockGorm(t, "postgres")
	repo := NewGormTaskRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "merge_task"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	task := model.NewMergeTask("uuid-p", []string{"in.xapk"}, "out.apk")
	require.NoError(t, repo.Create(ctx, task))
	assert.Equal(t, int64(9), task.ID)

	rows := sqlmock.NewRows([]string{"id", "tid", "inputs", "output", "status", "phase", "signed", "duration_ms"}).
		AddRow(int64(9), "uuid-p", `["in.xapk"]`, "out.apk", int(model.MergeStatusFailed), int(model.PhaseFailed), false, int64(20))
	mock.ExpectQuery(`SELECT \* FROM "merge_task" WHERE tid = \$1`).WillReturnRows(rows)

	got, err := repo.GetByTID(ctx, "uuid-p")
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusFailed, got.Status)
	assert.Equal(t, []string{"in.xapk"}, got.Inputs)
	assert.Equal(t, 20*time.Millisecond, got.Duration)

	require.NoError(t, mock.ExpectationsWereMet())
}
