package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/filter"
	"deskline/internal/migrate"
	"deskline/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(context.Background(), db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return repo.Repo{DB: conn, Dialect: dialect}
}

func strPtr(s string) *string { return &s }

type fixture struct {
	support, billing domain.Team
	ada, bob, cy     domain.User
	go_, sql         domain.Skill
	expert, novice   domain.Proficiency
}

func seed(t *testing.T, r repo.Repo) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		support: domain.Team{ID: "team-support", Name: "Support", CreatedAt: ts},
		billing: domain.Team{ID: "team-billing", Name: "Billing", CreatedAt: ts},
		go_:     domain.Skill{ID: "skill-go", Name: "Go"},
		sql:     domain.Skill{ID: "skill-sql", Name: "SQL"},
		expert:  domain.Proficiency{ID: "prof-expert", Name: "Expert", Rank: 3},
		novice:  domain.Proficiency{ID: "prof-novice", Name: "Novice", Rank: 1},
	}
	require.NoError(t, r.InsertTeam(ctx, nil, f.support))
	require.NoError(t, r.InsertTeam(ctx, nil, f.billing))
	f.ada = domain.User{ID: "u-ada", Name: "Ada", Email: "ada@example.com", Role: domain.RoleAgent, IsTeamLead: true, TeamID: strPtr(f.support.ID), CreatedAt: ts}
	f.bob = domain.User{ID: "u-bob", Name: "Bob", Email: "bob@example.com", Role: domain.RoleAgent, TeamID: strPtr(f.support.ID), CreatedAt: ts}
	f.cy = domain.User{ID: "u-cy", Name: "Cy", Email: "cy@example.com", Role: domain.RoleAdmin, IsTeamLead: true, TeamID: strPtr(f.billing.ID), CreatedAt: ts}
	for _, u := range []domain.User{f.ada, f.bob, f.cy} {
		require.NoError(t, r.InsertUser(ctx, nil, u))
	}
	require.NoError(t, r.InsertSkill(ctx, nil, f.go_))
	require.NoError(t, r.InsertSkill(ctx, nil, f.sql))
	require.NoError(t, r.InsertProficiency(ctx, nil, f.expert))
	require.NoError(t, r.InsertProficiency(ctx, nil, f.novice))
	require.NoError(t, r.UpsertAgentSkill(ctx, nil, domain.AgentSkill{UserID: f.ada.ID, SkillID: f.go_.ID, ProficiencyID: f.expert.ID}))
	require.NoError(t, r.UpsertAgentSkill(ctx, nil, domain.AgentSkill{UserID: f.bob.ID, SkillID: f.go_.ID, ProficiencyID: f.novice.ID}))
	require.NoError(t, r.UpsertAgentSkill(ctx, nil, domain.AgentSkill{UserID: f.bob.ID, SkillID: f.sql.ID, ProficiencyID: f.expert.ID}))
	return f
}

func TestListOperatorsFilters(t *testing.T) {
	r := newRepo(t)
	f := seed(t, r)
	ctx := context.Background()

	lead := true
	rows, err := r.ListOperators(ctx, repo.OperatorQuery{TeamName: "Support", IsTeamLead: &lead})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, f.ada.ID, rows[0].ID)
	assert.Equal(t, "Support", rows[0].Team)
	assert.Equal(t, []repo.OperatorSkill{{Skill: "Go", Proficiency: "Expert"}}, rows[0].Skills)

	rows, err = r.ListOperators(ctx, repo.OperatorQuery{SkillName: "Go", ProficiencyName: "Expert"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, f.ada.ID, rows[0].ID)

	rows, err = r.ListOperators(ctx, repo.OperatorQuery{ProficiencyName: "Expert"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = r.ListOperators(ctx, repo.OperatorQuery{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = r.ListOperators(ctx, repo.OperatorQuery{TeamName: "Nobody"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestVocabularyNames(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()
	teams, err := r.TeamNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Billing", "Support"}, teams)
	profs, err := r.ProficiencyNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Novice", "Expert"}, profs)
}

func TestUpsertMetadataKeepsOneValuePerField(t *testing.T) {
	r := newRepo(t)
	f := seed(t, r)
	ctx := context.Background()
	require.NoError(t, r.InsertTicket(ctx, nil, domain.Ticket{ID: "t-1", Title: "Broken login", Status: "open", Priority: "high", CreatedBy: f.bob.ID, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertField(ctx, nil, domain.FieldDefinition{ID: "fd-sev", Name: "severity", ValueKind: domain.KindInteger, CreatedAt: ts}))

	for _, raw := range []any{2, 5} {
		v, err := domain.ParseValue(domain.KindInteger, raw)
		require.NoError(t, err)
		require.NoError(t, r.UpsertMetadata(ctx, nil, domain.MetadataValue{TicketID: "t-1", FieldID: "fd-sev", Value: v, UpdatedAt: ts}))
	}
	values, err := r.ListMetadata(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, int64(5), *values[0].Value.Int)
	assert.Equal(t, "severity", values[0].FieldName)
}

func TestListTicketsAppliesMetadataClauses(t *testing.T) {
	r := newRepo(t)
	f := seed(t, r)
	ctx := context.Background()
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		require.NoError(t, r.InsertTicket(ctx, nil, domain.Ticket{ID: id, Title: id, Status: "open", Priority: "low", CreatedBy: f.ada.ID, CreatedAt: ts, UpdatedAt: ts}))
	}
	due := domain.FieldDefinition{ID: "fd-due", Name: "due", ValueKind: domain.KindTimestamp, CreatedAt: ts}
	vip := domain.FieldDefinition{ID: "fd-vip", Name: "vip", ValueKind: domain.KindBoolean, CreatedAt: ts}
	require.NoError(t, r.InsertField(ctx, nil, due))
	require.NoError(t, r.InsertField(ctx, nil, vip))

	set := func(ticket string, fd domain.FieldDefinition, raw any) {
		v, err := domain.ParseValue(fd.ValueKind, raw)
		require.NoError(t, err)
		require.NoError(t, r.UpsertMetadata(ctx, nil, domain.MetadataValue{TicketID: ticket, FieldID: fd.ID, Value: v, UpdatedAt: ts}))
	}
	set("t-1", due, "2024-03-01T18:30:00Z")
	set("t-1", vip, true)
	set("t-2", due, "2024-03-01T08:00:00Z")
	set("t-2", vip, false)
	set("t-3", due, "2024-03-02T08:00:00Z")
	set("t-3", vip, true)

	b := filter.New()
	require.NoError(t, b.SetPredicate(due, "2024-03-01T00:00:00Z"))
	got, err := r.ListTickets(ctx, repo.TicketFilters{Metadata: b.ToQuery()})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t-1", "t-2"}, ticketIDs(got))

	require.NoError(t, b.SetPredicate(vip, true))
	got, err = r.ListTickets(ctx, repo.TicketFilters{Metadata: b.ToQuery()})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, ticketIDs(got))

	b.SetEnabled(false)
	got, err = r.ListTickets(ctx, repo.TicketFilters{Metadata: b.ToQuery()})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDeleteFieldRemovesValues(t *testing.T) {
	r := newRepo(t)
	f := seed(t, r)
	ctx := context.Background()
	require.NoError(t, r.InsertTicket(ctx, nil, domain.Ticket{ID: "t-1", Title: "x", Status: "open", Priority: "low", CreatedBy: f.ada.ID, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertField(ctx, nil, domain.FieldDefinition{ID: "fd-note", Name: "note", ValueKind: domain.KindText, CreatedAt: ts}))
	v, err := domain.ParseValue(domain.KindText, "call back")
	require.NoError(t, err)
	require.NoError(t, r.UpsertMetadata(ctx, nil, domain.MetadataValue{TicketID: "t-1", FieldID: "fd-note", Value: v, UpdatedAt: ts}))

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	removed, err := r.DeleteField(ctx, tx, "fd-note")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(1), removed)

	n, err := r.CountFieldValues(ctx, "fd-note")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = r.GetField(ctx, "fd-note")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestChangesAfterCursor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO changes(ts,table_name,op,row_id,payload_json) VALUES (?,?,?,?,?)`, ts, "tickets", "insert", "t", "{}")
		require.NoError(t, err)
	}
	latest, err := r.LatestChangeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)
	got, err := r.ChangesAfter(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
}

func TestIsUniqueViolation(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	team := domain.Team{ID: "a", Name: "Same", CreatedAt: ts}
	require.NoError(t, r.InsertTeam(ctx, nil, team))
	team.ID = "b"
	err := r.InsertTeam(ctx, nil, team)
	require.Error(t, err)
	assert.True(t, repo.IsUniqueViolation(err))
}

func ticketIDs(ts []domain.Ticket) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
