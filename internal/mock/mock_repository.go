package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/antisplit/pkg/model"
)

// MockTaskRepository is a mock implementation of repository.TaskRepository.
type MockTaskRepository struct {
	mock.Mock
}

// Create mocks the Create method.
func (m *MockTaskRepository) Create(ctx context.Context, task *model.MergeTask) error {
	return m.Called(ctx, task).Error(0)
}

// UpdatePhase mocks the UpdatePhase method.
func (m *MockTaskRepository) UpdatePhase(ctx context.Context, taskUUID string, phase model.Phase) error {
	return m.Called(ctx, taskUUID, phase).Error(0)
}

// Finish mocks the Finish method.
func (m *MockTaskRepository) Finish(ctx context.Context, task *model.MergeTask) error {
	return m.Called(ctx, task).Error(0)
}

// GetByTID mocks the GetByTID method.
func (m *MockTaskRepository) GetByTID(ctx context.Context, taskUUID string) (*model.MergeTask, error) {
	args := m.Called(ctx, taskUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MergeTask), args.Error(1)
}

// ListRecent mocks the ListRecent method.
func (m *MockTaskRepository) ListRecent(ctx context.Context, limit int) ([]*model.MergeTask, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.MergeTask), args.Error(1)
}
