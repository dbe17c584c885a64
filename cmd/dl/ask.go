package main

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deskline/internal/app"
	"deskline/internal/bulk"
	"deskline/internal/dispatch"
	"deskline/internal/engine"
)

func askCmd() *cobra.Command {
	var yes, showTrace bool
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Run a free-text command against the directory",
		Long: `Sends the request to the reasoning model, which answers by querying the
operator directory. Listings are printed; when the model proposes a delete or
a reassignment the affected users are shown and the action runs only after
confirmation.`,
		Example: `  dl ask "which agents on Support speak German?"
  dl ask "move the Billing team leads to Support"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Dispatcher(ctx)
				if err != nil {
					return err
				}
				resp, err := d.Dispatch(ctx, text)
				if showTrace {
					printTrace(resp.Trace)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(resp); err != nil {
						return err
					}
				} else {
					printResult(resp)
				}
				if resp.Result.Kind == dispatch.KindListing {
					return nil
				}
				return runPending(ctx, cmd, a.Engine, resp.Result, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm a proposed action without prompting")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the dispatch trace")
	return cmd
}

// runPending routes a proposed action through a bulk controller and confirms
// or cancels it.
func runPending(ctx context.Context, cmd *cobra.Command, e engine.Engine, res dispatch.CommandResult, yes bool) error {
	actor, err := resolveActor(ctx, e)
	if err != nil {
		return err
	}
	ctrl := bulk.New(engine.UserMutator{Engine: e, ActorID: actor})
	if err := dispatch.Route(ctx, res, ctrl, teamLookup(e)); err != nil {
		return err
	}
	state := ctrl.State()
	prompt := fmt.Sprintf("Reassign %d user(s) to %s?", len(state.Selected), res.TargetTeam)
	if state.Pending == bulk.ActionDelete {
		cons, err := ctrl.Consequences(ctx)
		if err != nil {
			return err
		}
		printConsequences(cons)
		prompt = fmt.Sprintf("Delete %d user(s)?", cons.Count)
	}
	if !yes {
		ok, err := confirm(cmd, prompt)
		if err != nil {
			return err
		}
		if !ok {
			ctrl.Cancel()
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}
	out, err := ctrl.ConfirmAction(ctx, state.Pending)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Done: %s %d user(s)\n", out.Action, len(out.IDs))
	return nil
}

func teamLookup(e engine.Engine) dispatch.TeamLookup {
	return func(ctx context.Context, name string) (string, error) {
		t, err := e.Repo.GetTeamByName(ctx, name)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	}
}

func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printResult(resp dispatch.Response) {
	if resp.Description != "" {
		fmt.Println(resp.Description)
	}
	res := resp.Result
	if len(res.Subjects) == 0 {
		if res.Text != "" {
			fmt.Println(res.Text)
		} else {
			fmt.Println("No matching users.")
		}
		return
	}
	rows := make([]table.Row, 0, len(res.Subjects))
	for _, p := range res.Subjects {
		lead := ""
		if p.IsTeamLead != nil && *p.IsTeamLead {
			lead = "yes"
		}
		skills := make([]string, 0, len(p.Skills))
		for _, s := range p.Skills {
			skills = append(skills, s.Skill+" ("+s.Proficiency+")")
		}
		action := ""
		switch {
		case p.Delete:
			action = "delete"
		case p.Reassign:
			action = "reassign to " + p.TargetTeam
		}
		rows = append(rows, table.Row{p.Name, p.Role, lead, p.Team, strings.Join(skills, ", "), action})
	}
	renderTable(table.Row{"Name", "Role", "Lead", "Team", "Skills", "Action"}, rows)
	if res.Ambiguous {
		fmt.Println("The answer mixes actions or target teams; nothing will be changed.")
	}
}

func printConsequences(c bulk.Consequences) {
	rows := []table.Row{{c.Entity, c.Count}}
	keys := make([]string, 0, len(c.Cascades))
	for k := range c.Cascades {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, table.Row{strings.ReplaceAll(k, "_", " "), c.Cascades[k]})
	}
	renderTable(table.Row{"Removed", "Count"}, rows)
}

func printTrace(entries []dispatch.TraceEntry) {
	rows := make([]table.Row, 0, len(entries))
	for _, t := range entries {
		detail := t.Arguments
		if t.Error != "" {
			detail = "error: " + t.Error
		} else if detail == "" && t.Result != nil {
			detail = fmt.Sprint(t.Result)
		}
		rows = append(rows, table.Row{t.Type, t.Name, detail})
	}
	renderTable(table.Row{"Step", "Function", "Detail"}, rows)
}
