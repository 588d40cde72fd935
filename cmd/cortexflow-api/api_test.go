package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/auth"
	"github.com/cortexbuild/cortexflow/pkg/cmd"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/cortexbuild/cortexflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *auth.Authenticator) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	p, err := cmd.NewPersistence(t.Context(), logger, t.TempDir())
	require.NoError(t, err)

	mux := tasks.NewMux()
	pool := tasks.NewPool(logger, mux.Process, tasks.DefaultPoolConfig())
	t.Cleanup(func() { _ = pool.Close() })

	m := metrics.New(prometheus.NewRegistry())

	engine, err := cmd.NewEngine(logger, cmd.EngineConfig{
		Persistence: p,
		Policy:      must(cmd.NewPolicy("")),
		Dispatcher:  pool,
		Metrics:     m,
	}, mux)
	require.NoError(t, err)

	pool.Start()

	authenticator, err := auth.NewAuthenticator("api-test-secret", auth.DefaultIssuer)
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(
		engine.Workflows,
		engine.Coordinator,
		engine.Agents,
		engine.Runtime,
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	return NewAPI(logger, handlers, authenticator, m).App(), authenticator
}

func must[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}

	return value
}

func get(t *testing.T, app *fiber.App, path, token string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CortexFlow API", body)
}

func TestAPI_Probes(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := get(t, app, path, "")
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "OK", body, path)
	}

	status, body := get(t, app, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"healthy"`)
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "cortexflow_")
}

func TestAPI_WorkflowsRequireToken(t *testing.T) {
	t.Parallel()

	app, authenticator := setupTestApp(t)

	status, _ := get(t, app, "/workflows", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := authenticator.Issue(models.Actor{UserID: "u-1", Role: models.RoleUser, CompanyID: "company-a"}, time.Minute)
	require.NoError(t, err)

	status, body := get(t, app, "/workflows", token)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"success":true,"data":[]}`, body)
}
