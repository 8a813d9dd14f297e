package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/inference"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/prompt"
)

func TestCreatePromptSendsToken(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/prompts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req prompt.CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Prompt{ID: id, Name: req.Name})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := New(srv.URL+"/", "tok").CreatePrompt(context.Background(), prompt.CreateRequest{Name: "greeting"})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "greeting", p.Name)
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"no prior version to roll back to"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Rollback(context.Background(), uuid.New(), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "no prior version to roll back to", apiErr.Message)
}

func TestEnvironmentByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"environments": []models.Environment{
			{ID: uuid.New(), Name: "development"},
			{ID: uuid.New(), Name: "production"},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	env, err := c.EnvironmentByName(context.Background(), "production")
	require.NoError(t, err)
	assert.Equal(t, "production", env.Name)

	_, err = c.EnvironmentByName(context.Background(), "qa")
	assert.Error(t, err)
}

func sse(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			w.(http.Flusher).Flush()
		}
	}
}

func TestRunStream(t *testing.T) {
	srv := httptest.NewServer(sse(
		`{"type":"chunk","text":"Hel"}`,
		`{"type":"chunk","text":"lo"}`,
		`{"type":"done","latency_ms":12,"result":{"text":"Hello","status":"success","latency_ms":12}}`,
	))
	defer srv.Close()

	var got []string
	res, err := New(srv.URL, "tok").RunStream(context.Background(), inference.RunRequest{UserPrompt: "hi"}, func(text string) {
		got = append(got, text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, int64(12), res.LatencyMs)
}

func TestRunStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(sse(
		`{"type":"chunk","text":"par"}`,
		`{"type":"error","error":"upstream failure: overloaded","result":{"status":"error"}}`,
	))
	defer srv.Close()

	res, err := New(srv.URL, "tok").RunStream(context.Background(), inference.RunRequest{UserPrompt: "hi"}, func(string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	require.NotNil(t, res)
	assert.Equal(t, models.OutcomeError, res.Status)
}

func TestRunStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(sse(`{"type":"chunk","text":"par"}`))
	defer srv.Close()

	_, err := New(srv.URL, "tok").RunStream(context.Background(), inference.RunRequest{UserPrompt: "hi"}, func(string) {})
	assert.Error(t, err)
}
