package postgresql

import (
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPersistence(t *testing.T) (*Persistence, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return newPersistence(sqlx.NewDb(db, "sqlmock"), slog.New(slog.DiscardHandler)), mock
}

func TestJSONColumn(t *testing.T) {
	t.Parallel()

	value, err := jsonColumn[map[string]any]{V: map[string]any{"a": 1}}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value.([]byte)))

	var col jsonColumn[[]*models.Connection]
	require.NoError(t, col.Scan(`[{"id":"c1","from":"a","to":"b"}]`))
	require.Len(t, col.V, 1)
	assert.Equal(t, "b", col.V[0].To)

	var empty jsonColumn[map[string]any]
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty.V)

	require.Error(t, empty.Scan(42))
}

func TestWorkflowRepository_Get(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)
	ctx := t.Context()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "description", "nodes", "connections", "is_active", "company_id", "created_by", "created_at", "updated_at"}).
		AddRow("wf-1", "Daily", "", []byte(`[{"id":"n1","type":"trigger","template":"manual"}]`), []byte(`[]`), true, "company-a", "u1", now, now)

	mock.ExpectQuery(`SELECT (.+) FROM workflows WHERE id = \$1`).WithArgs("wf-1").WillReturnRows(rows)
	mock.ExpectQuery(`SELECT (.+) FROM workflows WHERE id = \$1`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	workflow, err := p.Workflows().Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Daily", workflow.Name)
	require.Len(t, workflow.Nodes, 1)
	assert.Equal(t, models.NodeTypeTrigger, workflow.Nodes[0].Type)
	assert.NotNil(t, workflow.Connections)

	_, err = p.Workflows().Get(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepository_DeleteMissing(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)

	mock.ExpectExec(`DELETE FROM workflows`).WithArgs("wf-x").WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Workflows().Delete(t.Context(), "wf-x")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_Finish(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)
	completedAt := time.Now()

	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs("ex-1", "completed", "", completedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs("ex-1", "failed", "boom", completedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := p.Executions().Finish(t.Context(), "ex-1", models.ExecutionStatusCompleted, "", completedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Executions().Finish(t.Context(), "ex-1", models.ExecutionStatusFailed, "boom", completedAt)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ListDefaultsLimit(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)

	mock.ExpectQuery(`FROM workflow_executions`).
		WithArgs("wf-1", persistence.DefaultExecutionLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "status", "started_at", "completed_at", "error_message", "execution_data"}))

	executions, err := p.Executions().ListByWorkflow(t.Context(), "wf-1", 0)
	require.NoError(t, err)
	assert.Empty(t, executions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_CreateDuplicate(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)

	mock.ExpectExec(`INSERT INTO agent_subscriptions`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := p.Subscriptions().Create(t.Context(), &models.AgentSubscription{
		ID:      "sub-1",
		AgentID: "ag-1",
		UserID:  "u1",
		Status:  models.SubscriptionStatusActive,
	})
	assert.True(t, persistence.IsSubscriptionExists(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentRepository_ListMarketplaceFilters(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)
	minRating := 4.0

	mock.ExpectQuery(`a.category = \$1 AND COALESCE\(r.rating, 0\) >= \$2 AND \(a.name ILIKE \$3 ESCAPE '\\' OR a.description ILIKE \$3 ESCAPE '\\'\)`).
		WithArgs("safety", minRating, "%scaffold%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "developer_id", "name", "description", "category", "version", "config", "code", "status", "is_public", "price", "created_at", "updated_at", "subscriptions", "rating"}).
			AddRow("ag-1", "dev-1", "Scaffold check", "Checks scaffolds", "safety", "1.0.0", []byte(`{}`), "return input", "published", true, 0.0, time.Now(), time.Now(), 3, 4.5))

	agents, err := p.Agents().ListMarketplace(t.Context(), persistence.MarketplaceFilter{
		Category:  models.AgentCategorySafety,
		MinRating: &minRating,
		Search:    "scaffold",
	})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, 3, agents[0].Subscriptions)
	assert.InDelta(t, 4.5, agents[0].Rating, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentRepository_ListMarketplaceEscapesWildcards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		search   string
		expected string
	}{
		{"percent", "100%", `%100\%%`},
		{"underscore", "fall_arrest", `%fall\_arrest%`},
		{"backslash", `C:\plans`, `%C:\\plans%`},
		{"plain", "scaffold", "%scaffold%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, mock := newMockPersistence(t)

			mock.ExpectQuery(`a.name ILIKE \$1 ESCAPE`).
				WithArgs(tt.expected).
				WillReturnRows(sqlmock.NewRows([]string{"id"}))

			agents, err := p.Agents().ListMarketplace(t.Context(), persistence.MarketplaceFilter{Search: tt.search})
			require.NoError(t, err)
			assert.Empty(t, agents)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutionRepository_Park(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	point := models.ResumePoint{NodeID: "cure", Since: since, At: since.Add(time.Hour)}

	mock.ExpectExec(`SET execution_data = jsonb_set\(execution_data, '\{resume\}', \$2::jsonb\)`).
		WithArgs("ex-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`execution_data - 'resume'`).
		WithArgs("ex-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`execution_data - 'resume'`).
		WithArgs("ex-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := p.Executions().Park(t.Context(), "ex-1", point)
	require.NoError(t, err)
	assert.True(t, ok)

	claimed, err := p.Executions().Unpark(t.Context(), "ex-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.Executions().Unpark(t.Context(), "ex-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_FailStaleSkipsParked(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)
	completedAt := time.Now()

	mock.ExpectExec(`WHERE status IN \('pending', 'running'\) AND execution_data->'resume' IS NULL`).
		WithArgs("execution interrupted", completedAt).
		WillReturnResult(sqlmock.NewResult(0, 2))

	count, err := p.Executions().FailStale(t.Context(), "execution interrupted", completedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentExecutionRepository_Transitions(t *testing.T) {
	t.Parallel()

	p, mock := newMockPersistence(t)
	repo := p.AgentExecutions()
	completedAt := time.Now()
	duration := int64(12)

	mock.ExpectExec(`SET status = 'running'`).WithArgs("ae-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'completed'`).
		WithArgs("ae-1", sqlmock.AnyArg(), completedAt, duration).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("ae-1", "late", completedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkRunning(t.Context(), "ae-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(t.Context(), "ae-1", map[string]any{"result": "ok"}, completedAt, duration)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Fail(t.Context(), "ae-1", "late", completedAt, &duration)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
