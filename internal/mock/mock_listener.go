package mock

import (
	"github.com/stretchr/testify/mock"

	"github.com/antisplit/pkg/model"
)

// MockListener is a mock implementation of merger.Listener.
type MockListener struct {
	mock.Mock
}

// OnLog mocks the OnLog method.
func (m *MockListener) OnLog(line string) {
	m.Called(line)
}

// OnSuccess mocks the OnSuccess method.
func (m *MockListener) OnSuccess(result *model.MergeResult) {
	m.Called(result)
}

// OnFailure mocks the OnFailure method.
func (m *MockListener) OnFailure(report *model.FailureReport) {
	m.Called(report)
}
