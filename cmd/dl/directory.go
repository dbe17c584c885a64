package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/repo"
)

func fieldCmd() *cobra.Command {
	field := &cobra.Command{
		Use:   "field",
		Short: "Manage the ticket field catalog",
		Long:  "Fields are typed custom attributes on tickets. Deleting a field removes every value recorded for it.",
	}
	field.AddCommand(fieldListCmd(), fieldCreateCmd(), fieldDeleteCmd())
	return field
}

func fieldListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List field definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListFields(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, f := range items {
					rows = append(rows, table.Row{f.ID, f.Name, f.ValueKind, f.Description})
				}
				renderTable(table.Row{"ID", "Name", "Kind", "Description"}, rows)
				return nil
			})
		},
	}
}

func fieldCreateCmd() *cobra.Command {
	var name, kind, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a field definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				f, err := e.CreateField(ctx, name, domain.ValueKind(kind), description, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	kinds := make([]string, 0, len(domain.ValueKinds))
	for _, k := range domain.ValueKinds {
		kinds = append(kinds, string(k))
	}
	cmd.Flags().StringVar(&name, "name", "", "field name")
	cmd.Flags().StringVar(&kind, "kind", "", "value kind ("+strings.Join(kinds, ", ")+")")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func fieldDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a field definition and all of its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.GetField(ctx, args[0])
				if err != nil {
					return err
				}
				n, err := e.Repo.CountFieldValues(ctx, f.ID)
				if err != nil {
					return err
				}
				if !yes {
					ok, err := confirm(cmd, fmt.Sprintf("Delete field %q and %d recorded value(s)?", f.Name, n))
					if err != nil || !ok {
						return err
					}
				}
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				if err := e.DeleteField(ctx, f.ID, actor); err != nil {
					return err
				}
				fmt.Printf("Deleted field %s\n", f.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}
	team.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTeams(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Name, t.Description})
				}
				renderTable(table.Row{"ID", "Name", "Description"}, rows)
				return nil
			})
		},
	})

	var name, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CreateTeam(ctx, name, description, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "team name")
	create.Flags().StringVar(&description, "description", "", "description")
	_ = create.MarkFlagRequired("name")

	team.AddCommand(create, &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a team; members keep their accounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteTeam(ctx, args[0], actor)
			})
		},
	})
	return team
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userListCmd(), userCreateCmd(), userDeleteCmd())
	return user
}

func userListCmd() *cobra.Command {
	var f repo.UserFilters
	var leadsOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			if leadsOnly {
				lead := true
				f.IsTeamLead = &lead
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListUsers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, u := range items {
					rows = append(rows, table.Row{u.ID, u.Name, u.Email, u.Role, u.IsTeamLead, u.TeamName})
				}
				renderTable(table.Row{"ID", "Name", "Email", "Role", "Lead", "Team"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TeamID, "team", "", "team id")
	cmd.Flags().StringVar(&f.Role, "role", "", "role (admin, agent, customer)")
	cmd.Flags().StringVar(&f.Search, "search", "", "name or email substring")
	cmd.Flags().BoolVar(&leadsOnly, "leads", false, "team leads only")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				opts.ActorID = actor
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleAgent, "role (admin, agent, customer)")
	cmd.Flags().StringVar(&opts.TeamID, "team", "", "team id")
	cmd.Flags().BoolVar(&opts.IsTeamLead, "lead", false, "mark as team lead")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete users and everything they own",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fp, err := e.UserFootprint(ctx, args)
				if err != nil {
					return err
				}
				if !yes {
					printFootprint(len(args), fp)
					ok, err := confirm(cmd, fmt.Sprintf("Delete %d user(s)?", len(args)))
					if err != nil || !ok {
						return err
					}
				}
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				for _, id := range args {
					if err := e.DeleteUser(ctx, id, actor); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
				}
				fmt.Printf("Deleted %d user(s)\n", len(args))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func printFootprint(users int, fp repo.UserFootprint) {
	renderTable(table.Row{"Removed with", "Count"}, []table.Row{
		{"users", users},
		{"tickets", fp.Tickets},
		{"messages", fp.Messages},
		{"metadata values", fp.MetadataValues},
		{"skills", fp.Skills},
		{"team memberships", fp.TeamMember},
	})
}
