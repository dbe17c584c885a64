package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskline/internal/bulk"
	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/migrate"
	"deskline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	admin, err := eng.CreateUser(ctx, engine.UserCreateOptions{Name: "Root", Email: "root@example.com", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Admin: admin}
}

func (env testEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func TestCreateFieldRejectsDuplicatesAndBadKinds(t *testing.T) {
	env := newTestEnv(t)
	f, err := env.Engine.CreateField(env.Ctx, "  due  ", domain.KindDate, "", env.Admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "due", f.Name)

	_, err = env.Engine.CreateField(env.Ctx, "due", domain.KindText, "", env.Admin.ID)
	var exists engine.FieldExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "due", exists.Name)

	_, err = env.Engine.CreateField(env.Ctx, "colour", domain.ValueKind("enum"), "", env.Admin.ID)
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value_kind", verr.Field)
}

func TestDeleteFieldCascadesToValues(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "Printer on fire", ActorID: env.Admin.ID})
	require.NoError(t, err)
	other, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "Follow-up", ActorID: env.Admin.ID})
	require.NoError(t, err)
	sev, err := env.Engine.CreateField(env.Ctx, "severity", domain.KindInteger, "", env.Admin.ID)
	require.NoError(t, err)
	keep, err := env.Engine.CreateField(env.Ctx, "related", domain.KindTicketRef, "", env.Admin.ID)
	require.NoError(t, err)

	_, err = env.Engine.SetTicketMetadata(env.Ctx, ticket.ID, sev.ID, 3, env.Admin.ID)
	require.NoError(t, err)
	_, err = env.Engine.SetTicketMetadata(env.Ctx, other.ID, sev.ID, "4", env.Admin.ID)
	require.NoError(t, err)
	_, err = env.Engine.SetTicketMetadata(env.Ctx, ticket.ID, keep.ID, other.ID, env.Admin.ID)
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteField(env.Ctx, sev.ID, env.Admin.ID))
	assert.Zero(t, env.count(t, `SELECT count(*) FROM ticket_metadata WHERE field_id=?`, sev.ID))

	values, err := env.Engine.TicketMetadata(env.Ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "related", values[0].FieldName)

	assert.ErrorIs(t, env.Engine.DeleteField(env.Ctx, sev.ID, env.Admin.ID), repo.ErrNotFound)
	assert.Equal(t, 1, env.count(t, `SELECT count(*) FROM changes WHERE table_name='ticket_metadata_field_types' AND op='delete'`))
}

func TestSetTicketMetadataValidatesByKind(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "x", ActorID: env.Admin.ID})
	require.NoError(t, err)
	owner, err := env.Engine.CreateField(env.Ctx, "owner", domain.KindUserRef, "", env.Admin.ID)
	require.NoError(t, err)
	flag, err := env.Engine.CreateField(env.Ctx, "vip", domain.KindBoolean, "", env.Admin.ID)
	require.NoError(t, err)

	var verr engine.ValidationError
	_, err = env.Engine.SetTicketMetadata(env.Ctx, ticket.ID, flag.ID, "sometimes", env.Admin.ID)
	require.ErrorAs(t, err, &verr)
	_, err = env.Engine.SetTicketMetadata(env.Ctx, ticket.ID, owner.ID, "no-such-user", env.Admin.ID)
	require.ErrorAs(t, err, &verr)

	m, err := env.Engine.SetTicketMetadata(env.Ctx, ticket.ID, owner.ID, env.Admin.ID, env.Admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindUserRef, m.Value.Kind)
	assert.Equal(t, env.Admin.ID, *m.Value.UserID)
}

func TestDeleteUserCascades(t *testing.T) {
	env := newTestEnv(t)
	team, err := env.Engine.CreateTeam(env.Ctx, "Support", "", env.Admin.ID)
	require.NoError(t, err)
	doomed, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: "Dee", Email: "dee@example.com", TeamID: team.ID})
	require.NoError(t, err)
	skill, err := env.Engine.CreateSkill(env.Ctx, "Go", env.Admin.ID)
	require.NoError(t, err)
	prof, err := env.Engine.CreateProficiency(env.Ctx, "Expert", 3, env.Admin.ID)
	require.NoError(t, err)
	_, err = env.Engine.SetAgentSkill(env.Ctx, doomed.ID, skill.ID, prof.ID, env.Admin.ID)
	require.NoError(t, err)

	own, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "mine", ActorID: doomed.ID})
	require.NoError(t, err)
	kept, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "theirs", ActorID: env.Admin.ID, AssigneeID: doomed.ID})
	require.NoError(t, err)
	_, err = env.Engine.PostMessage(env.Ctx, kept.ID, "on it", doomed.ID)
	require.NoError(t, err)
	owner, err := env.Engine.CreateField(env.Ctx, "owner", domain.KindUserRef, "", env.Admin.ID)
	require.NoError(t, err)
	_, err = env.Engine.SetTicketMetadata(env.Ctx, kept.ID, owner.ID, doomed.ID, env.Admin.ID)
	require.NoError(t, err)

	fp, err := env.Engine.UserFootprint(env.Ctx, []string{doomed.ID})
	require.NoError(t, err)
	assert.Equal(t, repo.UserFootprint{Tickets: 1, Messages: 1, MetadataValues: 1, Skills: 1, TeamMember: 1}, fp)

	require.NoError(t, env.Engine.DeleteUser(env.Ctx, doomed.ID, env.Admin.ID))

	_, err = env.Engine.GetTicket(env.Ctx, own.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Zero(t, env.count(t, `SELECT count(*) FROM ticket_messages WHERE sender_id=?`, doomed.ID))
	assert.Zero(t, env.count(t, `SELECT count(*) FROM ticket_metadata WHERE value_user_id=?`, doomed.ID))
	assert.Zero(t, env.count(t, `SELECT count(*) FROM agent_skills WHERE user_id=?`, doomed.ID))
	survivor, err := env.Engine.GetTicket(env.Ctx, kept.ID)
	require.NoError(t, err)
	assert.Nil(t, survivor.AssigneeID)
}

func TestUserMutatorReassignThroughController(t *testing.T) {
	env := newTestEnv(t)
	from, err := env.Engine.CreateTeam(env.Ctx, "Tier 1", "", env.Admin.ID)
	require.NoError(t, err)
	to, err := env.Engine.CreateTeam(env.Ctx, "Tier 2", "", env.Admin.ID)
	require.NoError(t, err)
	var ids []string
	for _, email := range []string{"a@example.com", "b@example.com"} {
		u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: email, Email: email, TeamID: from.ID})
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}

	c := bulk.New(engine.UserMutator{Engine: env.Engine, ActorID: env.Admin.ID})
	c.SelectAll(ids)
	require.NoError(t, c.RequestReassign(to.ID))
	_, err = c.Confirm(env.Ctx)
	require.NoError(t, err)

	users, err := env.Engine.ListUsers(env.Ctx, repo.UserFilters{TeamID: to.ID})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Empty(t, c.Selected())
}

func TestUserMutatorDeleteStopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: "Eve", Email: "eve@example.com"})
	require.NoError(t, err)

	c := bulk.New(engine.UserMutator{Engine: env.Engine, ActorID: env.Admin.ID})
	c.SelectAll([]string{u.ID, "missing"})
	require.NoError(t, c.RequestDelete())
	cons, err := c.Consequences(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, "users", cons.Entity)

	_, err = c.Confirm(env.Ctx)
	require.True(t, errors.Is(err, repo.ErrNotFound))
	assert.Equal(t, []string{u.ID, "missing"}, c.Selected())
	_, err = env.Engine.GetUser(env.Ctx, u.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestFilteredTicketsUsesBuilder(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "a", ActorID: env.Admin.ID})
	require.NoError(t, err)
	_, err = env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "b", ActorID: env.Admin.ID})
	require.NoError(t, err)
	region, err := env.Engine.CreateField(env.Ctx, "region", domain.KindText, "", env.Admin.ID)
	require.NoError(t, err)
	_, err = env.Engine.SetTicketMetadata(env.Ctx, a.ID, region.ID, "emea", env.Admin.ID)
	require.NoError(t, err)

	b := newBuilder(t, region, "emea")
	got, err := env.Engine.FilteredTickets(env.Ctx, b, repo.TicketFilters{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}
