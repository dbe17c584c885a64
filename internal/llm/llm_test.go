package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"deskline/internal/config"
)

func TestOpenAISendsFunctionAndParsesCall(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"listOperators","arguments":"{\"description\":\"leads\",\"isTeamLead\":true}"}}]}}]}`))
	}))
	defer srv.Close()

	m := NewOpenAI(srv.URL+"/", "sk-test", "gpt-test", time.Second)
	resp, err := m.Generate(context.Background(), Request{
		System: "be terse",
		Prompt: "show team leads",
		Functions: []FunctionSpec{{
			Name:       "listOperators",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{"description": {Type: "string"}}, Required: []string{"description"}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "listOperators", resp.Calls[0].Name)
	assert.JSONEq(t, `{"description":"leads","isTeamLead":true}`, resp.Calls[0].Arguments)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, []string{"description"}, got.Tools[0].Function.Parameters.Required)
}

func TestOpenAIPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"I can only list operators."}}]}`))
	}))
	defer srv.Close()
	resp, err := NewOpenAI(srv.URL, "", "m", time.Second).Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Empty(t, resp.Calls)
	assert.Equal(t, "I can only list operators.", resp.Content)
}

func TestOpenAISurfacesErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()
	_, err := NewOpenAI(srv.URL, "bad", "m", time.Second).Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(&Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"fields": {Type: "array", Items: &Schema{Type: "string", Enum: []string{"name", "role"}}},
			"lead":   {Type: "boolean"},
		},
		Required: []string{"fields"},
	})
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, genai.TypeArray, s.Properties["fields"].Type)
	assert.Equal(t, []string{"name", "role"}, s.Properties["fields"].Items.Enum)
	assert.Equal(t, genai.TypeBoolean, s.Properties["lead"].Type)
	assert.Nil(t, toGenaiSchema(nil))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.ModelConfig{Provider: "mystery"})
	assert.Error(t, err)
	_, err = New(context.Background(), config.ModelConfig{Provider: config.ProviderGemini, Name: "g"})
	assert.Error(t, err)
}
