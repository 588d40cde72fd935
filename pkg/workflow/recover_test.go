package workflow

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/cortexbuild/cortexflow/pkg/mocks"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockedCoordinator(repo *mocks.MockExecutionRepository) *Coordinator {
	return NewCoordinator(Options{
		Persistence: &mocks.MockPersistence{ExecutionRepo: repo},
		Logger:      slog.New(slog.DiscardHandler),
	})
}

func TestCoordinator_RecoverStaleWithMockedStore(t *testing.T) {
	t.Parallel()

	repo := &mocks.MockExecutionRepository{}
	repo.On("FailStale", mock.Anything, ErrExecutionInterrupted.Error(), mock.AnythingOfType("time.Time")).
		Return(int64(3), nil).Once()

	count, err := newMockedCoordinator(repo).RecoverStale(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	repo.AssertExpectations(t)
}

func TestCoordinator_RecoverStaleStorageError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")

	repo := &mocks.MockExecutionRepository{}
	repo.On("FailStale", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), boom)

	_, err := newMockedCoordinator(repo).RecoverStale(t.Context())
	require.ErrorIs(t, err, boom)
}

func TestCoordinator_ProcessAcksMissingExecution(t *testing.T) {
	t.Parallel()

	repo := &mocks.MockExecutionRepository{}
	repo.On("Get", mock.Anything, "gone").Return(nil, persistence.ErrExecutionNotFound)

	err := newMockedCoordinator(repo).Process(t.Context(), tasks.Task{Type: tasks.TypeWorkflowRun, ID: "gone"})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
