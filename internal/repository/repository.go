// Package repository records merge runs in a history database.
package repository

import (
	"context"

	"github.com/antisplit/pkg/model"
)

// TaskRepository persists merge tasks.
type TaskRepository interface {
	// Create inserts a new task and sets its ID.
	Create(ctx context.Context, task *model.MergeTask) error

	// UpdatePhase records the phase a running task has entered.
	UpdatePhase(ctx context.Context, taskUUID string, phase model.Phase) error

	// Finish stores the terminal state of a task.
	Finish(ctx context.Context, task *model.MergeTask) error

	// GetByTID retrieves a task by its UUID.
	GetByTID(ctx context.Context, taskUUID string) (*model.MergeTask, error)

	// ListRecent returns the newest tasks first.
	ListRecent(ctx context.Context, limit int) ([]*model.MergeTask, error)
}
