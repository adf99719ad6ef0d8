package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
)

// GormTaskRepository implements TaskRepository using GORM.
type GormTaskRepository struct {
	db *gorm.DB
}

// NewGormTaskRepository creates a new GormTaskRepository.
func NewGormTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

func dbError(err error, format string, args ...interface{}) error {
	return apperrors.Wrapf(apperrors.CodeDatabaseError, err, format, args...)
}

func taskNotFound(taskUUID string) error {
	return apperrors.Newf(apperrors.CodeNotFound, "task not found: %s", taskUUID)
}

// Create inserts a new task and sets its ID.
func (r *GormTaskRepository) Create(ctx context.Context, task *model.MergeTask) error {
	if task.CreateTime.IsZero() {
		task.CreateTime = time.Now()
	}
	rec := newRecord(task)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return dbError(err, "create task %s", task.TaskUUID)
	}
	task.ID = rec.ID
	return nil
}

// UpdatePhase records the phase a running task has entered.
func (r *GormTaskRepository) UpdatePhase(ctx context.Context, taskUUID string, phase model.Phase) error {
	result := r.db.WithContext(ctx).
		Model(&MergeTaskRecord{}).
		Where("tid = ?", taskUUID).
		Update("phase", phase)

	if result.Error != nil {
		return dbError(result.Error, "update phase of %s", taskUUID)
	}
	if result.RowsAffected == 0 {
		return taskNotFound(taskUUID)
	}
	return nil
}

// Finish stores the terminal state of a task. EndTime defaults to now.
func (r *GormTaskRepository) Finish(ctx context.Context, task *model.MergeTask) error {
	if task.EndTime == nil {
		now := time.Now()
		task.EndTime = &now
	}
	rec := newRecord(task)

	result := r.db.WithContext(ctx).
		Model(&MergeTaskRecord{}).
		Where("tid = ?", task.TaskUUID).
		Updates(map[string]interface{}{
			"status":        rec.Status,
			"phase":         rec.Phase,
			"modules":       rec.Modules,
			"signed":        rec.Signed,
			"dex_strategy":  rec.DexStrategy,
			"error_code":    rec.ErrorCode,
			"error_message": rec.ErrorMessage,
			"duration_ms":   rec.DurationMS,
			"end_time":      rec.EndTime,
		})

	if result.Error != nil {
		return dbError(result.Error, "finish task %s", task.TaskUUID)
	}
	if result.RowsAffected == 0 {
		return taskNotFound(task.TaskUUID)
	}
	return nil
}

// GetByTID retrieves a task by its UUID.
func (r *GormTaskRepository) GetByTID(ctx context.Context, taskUUID string) (*model.MergeTask, error) {
	var rec MergeTaskRecord

	err := r.db.WithContext(ctx).Where("tid = ?", taskUUID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, taskNotFound(taskUUID)
		}
		return nil, dbError(err, "get task %s", taskUUID)
	}
	return rec.ToModel(), nil
}

// ListRecent returns up to limit tasks, newest first.
func (r *GormTaskRepository) ListRecent(ctx context.Context, limit int) ([]*model.MergeTask, error) {
	if limit <= 0 {
		limit = 20
	}

	var recs []MergeTaskRecord
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, dbError(err, "list tasks")
	}

	tasks := make([]*model.MergeTask, len(recs))
	for i := range recs {
		tasks[i] = recs[i].ToModel()
	}
	return tasks, nil
}
