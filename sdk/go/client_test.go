package desklinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFieldSendsKeyAndBody(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"f1","name":"region","value_kind":"text","created_at":"2026-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "dk_test"
	f, err := c.CreateField(context.Background(), "region", "text", "")
	require.NoError(t, err)
	assert.Equal(t, "/v0/fields", gotPath)
	assert.Equal(t, "dk_test", gotKey)
	assert.Equal(t, map[string]any{"name": "region", "value_kind": "text"}, gotBody)
	assert.Equal(t, "f1", f.ID)
}

func TestEnvelopeErrorsAreDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"field_exists","message":"field \"region\" already exists"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateField(context.Background(), "region", "text", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "field_exists", apiErr.Code)
}

func TestLLMCommandUsesBearerAndRootPath(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.LLMCommand(context.Background(), "list team leads")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "/llm-command", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
	assert.Empty(t, apiErr.Code)
}

func TestTicketsPageQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[{"id":"t1","title":"x","status":"open","priority":"low","created_at":"now"}],"next_cursor":"c2"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).TicketsPage(context.Background(), "s1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, "limit=10&session_id=s1", gotQuery)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c2", page.NextCursor)
}

func TestDeleteFieldNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v0/fields/f%201", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).DeleteField(context.Background(), "f 1"))
}
