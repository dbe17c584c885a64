package engine

import (
	"context"

	"deskline/internal/bulk"
)

// UserMutator applies confirmed bulk actions to users. Rows are mutated one
// by one and the first failure stops the run; earlier rows stay mutated.
type UserMutator struct {
	Engine  Engine
	ActorID string
}

func (m UserMutator) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.Engine.DeleteUser(ctx, id, m.ActorID); err != nil {
			return err
		}
	}
	return nil
}

func (m UserMutator) Reassign(ctx context.Context, ids []string, teamID string) error {
	for _, id := range ids {
		if err := m.Engine.MoveUserToTeam(ctx, id, teamID, m.ActorID); err != nil {
			return err
		}
	}
	return nil
}

// DescribeDelete reports what deleting the users takes with them.
func (m UserMutator) DescribeDelete(ctx context.Context, ids []string) (bulk.Consequences, error) {
	fp, err := m.Engine.UserFootprint(ctx, ids)
	if err != nil {
		return bulk.Consequences{}, err
	}
	return bulk.Consequences{
		Entity: "users",
		Count:  len(ids),
		Cascades: map[string]int{
			"tickets":          fp.Tickets,
			"messages":         fp.Messages,
			"metadata_values":  fp.MetadataValues,
			"skills":           fp.Skills,
			"team_memberships": fp.TeamMember,
		},
	}, nil
}

// TicketMutator applies confirmed bulk actions to tickets; reassigning a
// ticket moves it to another team.
type TicketMutator struct {
	Engine  Engine
	ActorID string
}

func (m TicketMutator) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.Engine.DeleteTicket(ctx, id, m.ActorID); err != nil {
			return err
		}
	}
	return nil
}

func (m TicketMutator) Reassign(ctx context.Context, ids []string, teamID string) error {
	for _, id := range ids {
		if err := m.Engine.MoveTicketToTeam(ctx, id, teamID, m.ActorID); err != nil {
			return err
		}
	}
	return nil
}
