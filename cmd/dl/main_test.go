package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskline/internal/app"
	"deskline/internal/config"
	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/engine"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	a, err := app.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func promptCmd(input string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(out)
	return cmd, out
}

func TestConfirmAnswers(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	} {
		cmd, out := promptCmd(input)
		ok, err := confirm(cmd, "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "input %q", input)
		assert.Contains(t, out.String(), "Proceed? [y/N]")
	}
}

func seedUsers(t *testing.T, e engine.Engine) (domain.User, domain.Team) {
	t.Helper()
	ctx := context.Background()
	support, err := e.CreateTeam(ctx, "Support", "", "")
	require.NoError(t, err)
	billing, err := e.CreateTeam(ctx, "Billing", "", "")
	require.NoError(t, err)
	_, err = e.CreateUser(ctx, engine.UserCreateOptions{Name: "Root", Email: "root@example.com", Role: domain.RoleAdmin})
	require.NoError(t, err)
	ada, err := e.CreateUser(ctx, engine.UserCreateOptions{
		Name: "Ada", Email: "ada@example.com", Role: domain.RoleAgent, IsTeamLead: true, TeamID: support.ID,
	})
	require.NoError(t, err)
	return ada, billing
}

func TestRunPendingReassignAfterConfirmation(t *testing.T) {
	a := newTestApp(t)
	ada, billing := seedUsers(t, a.Engine)
	res := dispatch.Resolve([]dispatch.Person{{ID: ada.ID, Name: "Ada", Reassign: true, TargetTeam: "Billing"}})
	require.Equal(t, dispatch.KindReassignPending, res.Kind)

	cmd, out := promptCmd("y\n")
	require.NoError(t, runPending(context.Background(), cmd, a.Engine, res, false))
	assert.Contains(t, out.String(), "Done: reassign 1 user(s)")

	u, err := a.Engine.GetUser(context.Background(), ada.ID)
	require.NoError(t, err)
	require.NotNil(t, u.TeamID)
	assert.Equal(t, billing.ID, *u.TeamID)
}

func TestRunPendingDeclinedLeavesUsers(t *testing.T) {
	a := newTestApp(t)
	ada, _ := seedUsers(t, a.Engine)
	res := dispatch.Resolve([]dispatch.Person{{ID: ada.ID, Name: "Ada", Delete: true}})

	cmd, out := promptCmd("n\n")
	require.NoError(t, runPending(context.Background(), cmd, a.Engine, res, false))
	assert.Contains(t, out.String(), "Cancelled.")

	_, err := a.Engine.GetUser(context.Background(), ada.ID)
	assert.NoError(t, err)
}

func TestRunPendingUnknownTargetTeam(t *testing.T) {
	a := newTestApp(t)
	ada, _ := seedUsers(t, a.Engine)
	res := dispatch.Resolve([]dispatch.Person{{ID: ada.ID, Reassign: true, TargetTeam: "Nowhere"}})

	cmd, _ := promptCmd("y\n")
	err := runPending(context.Background(), cmd, a.Engine, res, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `target team "Nowhere"`)
}
