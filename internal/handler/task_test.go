package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/go-todo/internal/auth"
	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"github.com/hiroki-koketsu/go-todo/internal/service"
	"github.com/hiroki-koketsu/go-todo/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type testServer struct {
	router http.Handler
	repo   *repository.TaskRepository
}

func newTestServer(t *testing.T, verifier *auth.Verifier) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewTaskRepository()

	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"), repo.Count)
	require.NoError(t, err)

	h := NewTaskHandler(service.NewTaskService(repo, logger), logger, metrics)

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/api-docs", h.Docs)
	r.Route("/api", func(r chi.Router) {
		if verifier != nil {
			r.Use(verifier.Middleware(h.Unauthorized))
		}
		r.Mount("/tasks", h.Routes())
	})
	return &testServer{router: r, repo: repo}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func (s *testServer) seed(t *testing.T, owner, text string) string {
	t.Helper()
	task := &model.Task{Text: text, OwnerID: owner, Status: model.StatusPending}
	require.NoError(t, s.repo.Insert(context.Background(), task))
	return task.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
}

func TestDocs(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/api-docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.0", body["openapi"])

	paths := body["paths"].(map[string]any)
	for _, route := range []string{"/api/tasks", "/api/tasks/{id}/toggle", "/api/tasks/{id}", "/api/tasks/reorder", "/api/tasks/sync"} {
		assert.Contains(t, paths, route)
	}
}

func TestCreateAndList(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/tasks", `{"text":"Buy milk","ownerId":"U1","category":"Shopping"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["id"])

	rec, body = s.do(t, http.MethodGet, "/api/tasks?ownerId=U1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "Buy milk", task["text"])
	assert.Equal(t, "pending", task["status"])
	assert.Equal(t, "Shopping", task["category"])
}

func TestList_UIDAlias(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "U1", "a")

	rec, body := s.do(t, http.MethodGet, "/api/tasks?uid=U1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["tasks"], 1)
}

func TestStatusCodes(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.seed(t, "U1", "mine")

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"list without owner", http.MethodGet, "/api/tasks", "", http.StatusBadRequest},
		{"create empty text", http.MethodPost, "/api/tasks", `{"text":"  ","ownerId":"U1"}`, http.StatusBadRequest},
		{"create too long", http.MethodPost, "/api/tasks", `{"text":"` + strings.Repeat("x", 101) + `","ownerId":"U1"}`, http.StatusBadRequest},
		{"create malformed", http.MethodPost, "/api/tasks", `{`, http.StatusBadRequest},
		{"toggle foreign", http.MethodPatch, "/api/tasks/" + id + "/toggle?ownerId=U2", "", http.StatusForbidden},
		{"toggle missing", http.MethodPatch, "/api/tasks/nope/toggle?ownerId=U1", "", http.StatusNotFound},
		{"delete foreign", http.MethodDelete, "/api/tasks/" + id + "?ownerId=U2", "", http.StatusForbidden},
		{"delete without owner", http.MethodDelete, "/api/tasks/" + id, "", http.StatusBadRequest},
		{"reorder empty", http.MethodPatch, "/api/tasks/reorder?ownerId=U1", `{"orderedIds":[]}`, http.StatusBadRequest},
		{"reorder not array", http.MethodPatch, "/api/tasks/reorder?ownerId=U1", `{"orderedIds":"x"}`, http.StatusBadRequest},
		{"reorder foreign", http.MethodPatch, "/api/tasks/reorder?ownerId=U2", `{"orderedIds":["` + id + `"]}`, http.StatusForbidden},
		{"reorder missing", http.MethodPatch, "/api/tasks/reorder?ownerId=U1", `{"orderedIds":["nope"]}`, http.StatusNotFound},
		{"sync empty", http.MethodPost, "/api/tasks/sync?ownerId=U1", `{"tasks":[]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := s.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestToggleDeleteFlow(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.seed(t, "U1", "Buy milk")

	rec, body := s.do(t, http.MethodPatch, "/api/tasks/"+id+"/toggle?ownerId=U1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, body = s.do(t, http.MethodDelete, "/api/tasks/"+id+"?ownerId=U1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, _ = s.do(t, http.MethodDelete, "/api/tasks/"+id+"?ownerId=U1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReorderAndSync(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/tasks/sync?ownerId=U1",
		`{"tasks":[{"text":"a","createdAtClient":10},{"text":"b","createdAtClient":20}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ids := body["createdIds"].([]any)
	require.Len(t, ids, 2)

	reorder := `{"orderedIds":["` + ids[1].(string) + `","` + ids[0].(string) + `"]}`
	rec, _ = s.do(t, http.MethodPatch, "/api/tasks/reorder?ownerId=U1", reorder)
	require.Equal(t, http.StatusOK, rec.Code)

	first, err := s.repo.Get(context.Background(), ids[0].(string))
	require.NoError(t, err)
	assert.Equal(t, int64(2), *first.Order)
	assert.Equal(t, int64(10), *first.CreatedAtClient)
}

func TestAuth(t *testing.T) {
	verifier := auth.NewVerifier("secret", "go-todo")
	s := newTestServer(t, verifier)
	token, err := verifier.Issue("U1", time.Hour)
	require.NoError(t, err)
	bearer := "Bearer " + token

	rec, body := s.do(t, http.MethodGet, "/api/tasks?ownerId=U1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = s.do(t, http.MethodGet, "/api/tasks?ownerId=U1", "", "Authorization", bearer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/api/tasks?ownerId=U2", "", "Authorization", bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrIdentityMismatch.Message, body["message"])

	rec, _ = s.do(t, http.MethodPost, "/api/tasks", `{"text":"from token"}`, "Authorization", bearer)
	require.Equal(t, http.StatusCreated, rec.Code)

	tasks, err := s.repo.FindByOwner(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "from token", tasks[0].Text)
}
