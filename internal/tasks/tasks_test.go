package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"impostor-game/internal/tasks"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func TestHistoryFlushTask_RoundTrip(t *testing.T) {
	task, err := tasks.NewHistoryFlushTask("ABC123")
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeHistoryFlush, task.Type())
	assert.JSONEq(t, `{"roomId":"ABC123"}`, string(task.Payload()))

	p, err := tasks.ParseHistoryFlushPayload(task)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", p.RoomID)
}

func TestParseHistoryFlushPayload_Invalid(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":     `{`,
		"missing room": `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tasks.ParseHistoryFlushPayload(asynq.NewTask(tasks.TypeHistoryFlush, []byte(payload)))
			assert.Error(t, err)
		})
	}
}

func TestFlushEnqueuer(t *testing.T) {
	ctx := context.Background()
	isFlushTask := mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeHistoryFlush
	})

	t.Run("success", func(t *testing.T) {
		client := new(mockEnqueuer)
		client.On("EnqueueContext", ctx, isFlushTask).Return(&asynq.TaskInfo{ID: "flush:R1"}, nil).Once()

		assert.NoError(t, tasks.NewFlushEnqueuer(client).EnqueueFlush(ctx, "R1"))
		client.AssertExpectations(t)
	})

	t.Run("already queued", func(t *testing.T) {
		client := new(mockEnqueuer)
		client.On("EnqueueContext", ctx, isFlushTask).Return(nil, asynq.ErrTaskIDConflict).Once()

		assert.NoError(t, tasks.NewFlushEnqueuer(client).EnqueueFlush(ctx, "R1"))
		client.AssertExpectations(t)
	})

	t.Run("broker down", func(t *testing.T) {
		boom := errors.New("dial tcp: connection refused")
		client := new(mockEnqueuer)
		client.On("EnqueueContext", ctx, isFlushTask).Return(nil, boom).Once()

		err := tasks.NewFlushEnqueuer(client).EnqueueFlush(ctx, "R1")
		assert.ErrorIs(t, err, boom)
		client.AssertExpectations(t)
	})
}
