package client_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/client"
	"github.com/kode4food/conductor/pkg/api"
)

func taskRequest() *api.TaskRequest {
	return &api.TaskRequest{
		Type:    "deploy",
		Payload: json.RawMessage(`{"env":"prod"}`),
	}
}

func TestHTTPSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/tasks", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Conductor-Engine/1.0", r.Header.Get("User-Agent"))

			var env client.TaskEnvelope
			require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
			assert.Equal(t, "deploy", env.Request.Type)
			assert.Equal(t,
				api.PlanExecutionID("plan-1"), env.Scope.PlanExecutionID,
			)

			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(client.SubmitResponse{
				TaskID: "task-1",
			})
		},
	))
	defer server.Close()

	tr := client.NewHTTPTransport(server.URL+"/", 5*time.Second)
	amb := api.NewAmbiance("plan-1", nil, 0)
	id, err := tr.Submit(t.Context(), amb, taskRequest())
	require.NoError(t, err)
	assert.Equal(t, api.TaskID("task-1"), id)
}

func TestHTTPSubmitErrors(t *testing.T) {
	status := http.StatusInternalServerError
	body := `{"error":"boom"}`
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		},
	))
	defer server.Close()

	tr := client.NewHTTPTransport(server.URL, 5*time.Second)
	amb := api.NewAmbiance("plan-1", nil, 0)

	_, err := tr.Submit(t.Context(), amb, taskRequest())
	assert.ErrorIs(t, err, client.ErrHTTPError)

	status = http.StatusOK
	body = `{}`
	_, err = tr.Submit(t.Context(), amb, taskRequest())
	assert.ErrorIs(t, err, client.ErrMissingTaskID)

	body = `not json`
	_, err = tr.Submit(t.Context(), amb, taskRequest())
	assert.Error(t, err)

	_, err = tr.Submit(t.Context(), amb, &api.TaskRequest{})
	assert.ErrorIs(t, err, client.ErrInvalidRequest)
}

func TestHTTPAbortAndExpire(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			if r.URL.Path == "/tasks/gone/abort" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	))
	defer server.Close()

	tr := client.NewHTTPTransport(server.URL, 5*time.Second)

	ok, err := tr.Abort(t.Context(), "task-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Abort(t.Context(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, tr.Expire(t.Context(), "task-1"))
	assert.Equal(t, []string{
		"/tasks/task-1/abort", "/tasks/gone/abort", "/tasks/task-1/expire",
	}, paths)
}

func TestHTTPUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr := client.NewHTTPTransport(url, time.Second)
	_, err := tr.Submit(t.Context(), api.NewAmbiance("p", nil, 0), taskRequest())
	assert.Error(t, err)
	_, err = tr.Abort(t.Context(), "task-1")
	assert.Error(t, err)
}
