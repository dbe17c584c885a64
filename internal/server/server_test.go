package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskline/internal/bulk"
	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/llm"
	"deskline/internal/migrate"
	"deskline/internal/session"
)

const testSecret = "test-secret"

type stubModel struct {
	resp llm.Response
	err  error
}

func (m *stubModel) Generate(context.Context, llm.Request) (llm.Response, error) {
	return m.resp, m.err
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Admin  domain.User
	Token  string
	Model  *stubModel
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, func(e engine.Engine, m *stubModel) session.Dispatcher {
		return dispatch.Dispatcher{Vocabulary: e.Repo, Model: m, Operators: e.Repo}
	})
}

func newTestServerWith(t *testing.T, dispatcher func(engine.Engine, *stubModel) session.Dispatcher) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, dialect))
	e := engine.New(conn, dialect, config.Default())
	admin, err := e.CreateUser(ctx, engine.UserCreateOptions{Name: "Root", Email: "root@example.com", Role: domain.RoleAdmin})
	require.NoError(t, err)

	model := &stubModel{}
	handler, err := New(Config{
		Engine:     e,
		Dispatcher: dispatcher(e, model),
		Sessions:   session.NewStore(time.Hour),
		BasePath:   "/v0",
		Auth:       AuthConfig{JWTSecret: testSecret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	token, err := SignToken(testSecret, admin.ID, admin.Role, time.Hour)
	require.NoError(t, err)
	return &testServer{URL: srv.URL, Engine: e, Admin: admin, Token: token, Model: model, client: srv.Client()}
}

func (s *testServer) tokenFor(t *testing.T, u domain.User) string {
	t.Helper()
	token, err := SignToken(testSecret, u.ID, u.Role, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func (s *testServer) seedDirectory(t *testing.T) (support, billing domain.Team, lead domain.User) {
	t.Helper()
	ctx := context.Background()
	e := s.Engine
	var err error
	support, err = e.CreateTeam(ctx, "Support", "", s.Admin.ID)
	require.NoError(t, err)
	billing, err = e.CreateTeam(ctx, "Billing", "", s.Admin.ID)
	require.NoError(t, err)
	lead, err = e.CreateUser(ctx, engine.UserCreateOptions{Name: "Ada", Email: "ada@example.com", IsTeamLead: true, TeamID: support.ID})
	require.NoError(t, err)
	_, err = e.CreateUser(ctx, engine.UserCreateOptions{Name: "Bob", Email: "bob@example.com", TeamID: support.ID})
	require.NoError(t, err)
	return support, billing, lead
}

func TestLLMCommandPreflightNeedsNoToken(t *testing.T) {
	srv := newTestServer(t)
	res, _ := srv.do(t, http.MethodOptions, "/llm-command", nil, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestLLMCommandRejectsMissingOrBadToken(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodPost, "/llm-command", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	body := decode[map[string]string](t, data)
	assert.NotEmpty(t, body["error"])

	res, _ = srv.do(t, http.MethodPost, "/llm-command", map[string]string{"text": "hi"}, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLLMCommandEmptyText(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodPost, "/llm-command", map[string]string{"text": "  "}, srv.Token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "text is required", decode[map[string]string](t, data)["error"])
}

func TestLLMCommandListsTeamLeads(t *testing.T) {
	srv := newTestServer(t)
	_, _, lead := srv.seedDirectory(t)
	srv.Model.resp = llm.Response{Calls: []llm.FunctionCall{{
		Name:      dispatch.FunctionName,
		Arguments: `{"description":"Team leads on Support","teamName":"Support","isTeamLead":true}`,
	}}}

	res, data := srv.do(t, http.MethodPost, "/llm-command", map[string]string{"text": "show team leads on Support"}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	body := decode[llmCommandResponse](t, data)
	assert.Equal(t, "show team leads on Support", body.Input)
	assert.Equal(t, "Team leads on Support", body.Description)
	assert.NotEmpty(t, body.Metadata.ProcessedAt)
	assert.NotEmpty(t, body.Trace)

	var rows []dispatch.Person
	require.NoError(t, json.Unmarshal([]byte(body.Output), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, lead.ID, rows[0].ID)
	assert.Equal(t, "Ada", rows[0].Name)
}

func TestLLMCommandModelErrorIsBadGateway(t *testing.T) {
	srv := newTestServer(t)
	srv.Model.err = errors.New("upstream refused: quota exceeded")
	res, data := srv.do(t, http.MethodPost, "/llm-command", map[string]string{"text": "anyone?"}, srv.Token)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "upstream refused: quota exceeded", decode[map[string]string](t, data)["error"])
}

func TestAPIRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/v0/fields", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	body := decode[apiError](t, data)
	assert.Equal(t, "unauthorized", body.Body.Code)

	res, _ = srv.do(t, http.MethodGet, "/v0/health", nil, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestFieldCatalogEndpoints(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodPost, "/v0/fields", map[string]any{"name": "region", "value_kind": "text"}, srv.Token)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	field := decode[domain.FieldDefinition](t, data)
	assert.Equal(t, domain.KindText, field.ValueKind)

	res, data = srv.do(t, http.MethodPost, "/v0/fields", map[string]any{"name": "region", "value_kind": "integer"}, srv.Token)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "field_exists", decode[apiError](t, data).Body.Code)

	agent, err := srv.Engine.CreateUser(context.Background(), engine.UserCreateOptions{Name: "Eve", Email: "eve@example.com"})
	require.NoError(t, err)
	res, data = srv.do(t, http.MethodDelete, "/v0/fields/"+field.ID, nil, srv.tokenFor(t, agent))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", decode[apiError](t, data).Body.Code)

	res, _ = srv.do(t, http.MethodDelete, "/v0/fields/"+field.ID, nil, srv.Token)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = srv.do(t, http.MethodGet, "/v0/fields", nil, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decode[[]domain.FieldDefinition](t, data))
}

func TestSessionFiltersApplyToTicketListing(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	e := srv.Engine
	region, err := e.CreateField(ctx, "region", domain.KindText, "", srv.Admin.ID)
	require.NoError(t, err)
	emea, err := e.CreateTicket(ctx, engine.TicketCreateOptions{Title: "Invoice", ActorID: srv.Admin.ID})
	require.NoError(t, err)
	_, err = e.CreateTicket(ctx, engine.TicketCreateOptions{Title: "Login", ActorID: srv.Admin.ID})
	require.NoError(t, err)
	_, err = e.SetTicketMetadata(ctx, emea.ID, region.ID, "EMEA", srv.Admin.ID)
	require.NoError(t, err)

	res, data := srv.do(t, http.MethodPost, "/v0/sessions", nil, srv.Token)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	sess := decode[SessionResponse](t, data)

	res, data = srv.do(t, http.MethodPut, "/v0/sessions/"+sess.ID+"/filters/"+region.ID, map[string]any{"value": "EMEA"}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Len(t, decode[SessionResponse](t, data).Filters, 1)

	res, data = srv.do(t, http.MethodGet, "/v0/tickets?session_id="+sess.ID, nil, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedTickets](t, data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, emea.ID, page.Items[0].ID)

	res, _ = srv.do(t, http.MethodPut, "/v0/sessions/"+sess.ID+"/filters-enabled", map[string]any{"enabled": false}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode)
	_, data = srv.do(t, http.MethodGet, "/v0/tickets?session_id="+sess.ID, nil, srv.Token)
	assert.Len(t, decode[paginatedTickets](t, data).Items, 2)

	other, err := e.CreateUser(ctx, engine.UserCreateOptions{Name: "Mal", Email: "mal@example.com"})
	require.NoError(t, err)
	res, _ = srv.do(t, http.MethodGet, "/v0/sessions/"+sess.ID, nil, srv.tokenFor(t, other))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSessionCommandReassignAndConfirm(t *testing.T) {
	srv := newTestServer(t)
	_, billing, lead := srv.seedDirectory(t)
	srv.Model.resp = llm.Response{Calls: []llm.FunctionCall{{
		Name:      dispatch.FunctionName,
		Arguments: `{"description":"Move Support leads to Billing","teamName":"Support","isTeamLead":true,"action":"reassign","targetTeam":"Billing"}`,
	}}}

	_, data := srv.do(t, http.MethodPost, "/v0/sessions", nil, srv.Token)
	sess := decode[SessionResponse](t, data)

	res, data := srv.do(t, http.MethodPost, "/v0/sessions/"+sess.ID+"/command", map[string]string{"text": "move the support leads to billing"}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	cmd := decode[CommandResponse](t, data)
	assert.Equal(t, dispatch.KindReassignPending, cmd.Command.Result.Kind)
	assert.Equal(t, []string{lead.ID}, cmd.Users.Selected)
	assert.Equal(t, billing.ID, cmd.Users.TargetTeam)

	res, data = srv.do(t, http.MethodPost, "/v0/sessions/"+sess.ID+"/selection/users/confirm", nil, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	confirmed := decode[ConfirmResponse](t, data)
	assert.Equal(t, []string{lead.ID}, confirmed.Outcome.IDs)
	assert.Empty(t, confirmed.Selection.Selected)
	assert.Empty(t, confirmed.Selection.Pending)

	moved, err := srv.Engine.GetUser(context.Background(), lead.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.TeamID)
	assert.Equal(t, billing.ID, *moved.TeamID)

	res, data = srv.do(t, http.MethodPost, "/v0/sessions/"+sess.ID+"/selection/users/confirm", nil, srv.Token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestSessionDeleteShowsConsequences(t *testing.T) {
	srv := newTestServer(t)
	_, _, lead := srv.seedDirectory(t)
	_, err := srv.Engine.CreateTicket(context.Background(), engine.TicketCreateOptions{Title: "Printer", ActorID: lead.ID})
	require.NoError(t, err)

	_, data := srv.do(t, http.MethodPost, "/v0/sessions", nil, srv.Token)
	sess := decode[SessionResponse](t, data)
	base := "/v0/sessions/" + sess.ID + "/selection/users"

	res, data := srv.do(t, http.MethodPut, base, map[string]any{"mode": "one", "id": lead.ID}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodPost, base+"/request", map[string]any{"action": "delete"}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodGet, base+"/consequences", nil, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	cons := decode[map[string]any](t, data)
	assert.EqualValues(t, 1, cons["count"])
	assert.EqualValues(t, 1, cons["cascades"].(map[string]any)["tickets"])

	res, _ = srv.do(t, http.MethodPost, base+"/cancel", nil, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode)
	_, err = srv.Engine.GetUser(context.Background(), lead.ID)
	assert.NoError(t, err)
}

type fixedDispatcher struct {
	resp dispatch.Response
}

func (f fixedDispatcher) Dispatch(context.Context, string) (dispatch.Response, error) {
	return f.resp, nil
}

func TestSessionCommandRouteFailureKeepsCommand(t *testing.T) {
	srv := newTestServerWith(t, func(engine.Engine, *stubModel) session.Dispatcher {
		return fixedDispatcher{resp: dispatch.Response{
			Input:  "move the leads to ghost",
			Output: "[]",
			Result: dispatch.CommandResult{
				Kind:       dispatch.KindReassignPending,
				TargetTeam: "Ghost",
				Subjects:   []dispatch.Person{{ID: "u-missing", Name: "Ada", Reassign: true, TargetTeam: "Ghost"}},
			},
		}}
	})
	srv.seedDirectory(t)

	_, data := srv.do(t, http.MethodPost, "/v0/sessions", nil, srv.Token)
	sess := decode[SessionResponse](t, data)

	res, data := srv.do(t, http.MethodPost, "/v0/sessions/"+sess.ID+"/command", map[string]string{"text": "move the leads to ghost"}, srv.Token)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	body := decode[struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Command dispatch.Response `json:"command"`
				Users   bulk.State        `json:"users"`
			} `json:"details"`
		} `json:"error"`
	}](t, data)
	assert.Equal(t, "not_found", body.Error.Code)
	assert.Equal(t, dispatch.KindReassignPending, body.Error.Details.Command.Result.Kind)
	assert.Equal(t, "Ghost", body.Error.Details.Command.Result.TargetTeam)
	assert.Empty(t, body.Error.Details.Users.Pending)
}

func TestSessionActionPermissions(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	agent, err := srv.Engine.CreateUser(ctx, engine.UserCreateOptions{Name: "Ann", Email: "ann@example.com", Role: domain.RoleAgent})
	require.NoError(t, err)
	ticket, err := srv.Engine.CreateTicket(ctx, engine.TicketCreateOptions{Title: "Printer", ActorID: agent.ID})
	require.NoError(t, err)
	token := srv.tokenFor(t, agent)

	res, data := srv.do(t, http.MethodPost, "/v0/sessions", nil, token)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	base := "/v0/sessions/" + decode[SessionResponse](t, data).ID + "/selection/tickets"

	res, data = srv.do(t, http.MethodPut, base, map[string]any{"mode": "one", "id": ticket.ID}, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodPost, base+"/request", map[string]any{"action": "delete"}, token)
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, base+"/confirm", nil, token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	_, err = srv.Engine.GetTicket(ctx, ticket.ID)
	assert.NoError(t, err)
}

func TestUserPatchNullTeamClearsMembership(t *testing.T) {
	srv := newTestServer(t)
	_, _, lead := srv.seedDirectory(t)
	res, data := srv.do(t, http.MethodPatch, "/v0/users/"+lead.ID, map[string]any{"team_id": nil}, srv.Token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Nil(t, decode[domain.User](t, data).TeamID)
}

func TestChangeMatchForTicketScope(t *testing.T) {
	assert.Equal(t, "ticket_id", changeMatch("ticket_messages", "t1").Field)
	assert.Equal(t, "row_id", changeMatch("tickets", "t1").Field)
	assert.Empty(t, changeMatch("", "").Field)
}
