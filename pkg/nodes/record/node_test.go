package record

import (
	"context"
	"errors"
	"testing"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) SaveRecord(ctx context.Context, record *models.WorkflowRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func TestNode_Execute(t *testing.T) {
	t.Parallel()

	ec := &models.ExecutionContext{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		CompanyID:   "company-a",
		Trigger:     map[string]any{"site": "North yard", "count": 3},
	}

	t.Run("renders and saves", func(t *testing.T) {
		t.Parallel()

		writer := &MockWriter{}
		writer.On("SaveRecord", mock.Anything, mock.MatchedBy(func(r *models.WorkflowRecord) bool {
			return r.Table == "incidents" && r.CompanyID == "company-a" && r.ExecutionID == "exec-1" &&
				r.Data["site"] == "North yard" && r.Data["count"] == float64(3) && r.Data["static"] == true
		})).Return(nil)

		node, err := NewNode("rec", map[string]any{
			"table": "incidents",
			"data": map[string]any{
				"site":   "{{ .trigger.site }}",
				"count":  "{{ .trigger.count }}",
				"static": true,
			},
		}, writer)
		require.NoError(t, err)

		result, err := node.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.NotEmpty(t, result.Data["recordId"])
		assert.Equal(t, "insert", result.Data["action"])
		writer.AssertExpectations(t)
	})

	t.Run("writer failure", func(t *testing.T) {
		t.Parallel()

		writer := &MockWriter{}
		writer.On("SaveRecord", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		node, err := NewNode("rec", map[string]any{"table": "incidents"}, writer)
		require.NoError(t, err)

		_, err = node.Execute(context.Background(), ec)
		require.ErrorContains(t, err, "disk full")
	})

	t.Run("invalid action", func(t *testing.T) {
		t.Parallel()

		_, err := NewNode("rec", map[string]any{"table": "incidents", "action": "truncate"}, &MockWriter{})
		require.Error(t, err)
	})
}
