package transform

import (
	"context"
	"testing"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute(t *testing.T) {
	t.Parallel()

	executionCtx := &models.ExecutionContext{
		ExecutionID: "exec-1",
		Trigger:     map[string]any{"slab": "L3", "volume": 42},
		NodeResults: map[string]any{"fetch": map[string]any{"status": 200}},
	}

	tests := []struct {
		name       string
		expression string
		want       any
	}{
		{"plain string", "pour {{ .trigger.slab }}", "pour L3"},
		{"number", "{{ .trigger.volume }}", float64(42)},
		{"boolean", `{{ eq .trigger.slab "L3" }}`, true},
		{"json object", `{"slab": "{{ .trigger.slab }}", "status": {{ .nodes.fetch.status }}}`, map[string]any{"slab": "L3", "status": float64(200)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			node, err := NewNode("t1", map[string]any{"expression": tt.expression})
			require.NoError(t, err)

			result, err := node.Execute(context.Background(), executionCtx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Data["result"])
		})
	}
}

func TestNode_ExecuteInvalidTemplate(t *testing.T) {
	t.Parallel()

	node, err := NewNode("t1", map[string]any{"expression": "{{ .trigger.slab "})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), &models.ExecutionContext{})
	require.ErrorContains(t, err, "transformation failed")
}

func TestFactory(t *testing.T) {
	t.Parallel()

	factory := NewFactory()
	assert.Equal(t, models.TemplateTransform, factory.ID())
	assert.Equal(t, models.NodeTypeAction, factory.Type())

	node, err := factory.Create(context.Background(), "t1", factory.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "t1", node.ID())
}
