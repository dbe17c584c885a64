package engine

import (
	"context"
	"database/sql"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/repo"
)

// Teams

func (e Engine) CreateTeam(ctx context.Context, name, description, actorID string) (domain.Team, error) {
	if err := required("name", name); err != nil {
		return domain.Team{}, err
	}
	t := domain.Team{ID: uuid.NewString(), Name: strings.TrimSpace(name), Description: description, CreatedAt: e.timestamp()}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
			if repo.IsUniqueViolation(err) {
				return ConflictError{Entity: "team", Key: t.Name}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "teams", domain.OpInsert, t.ID, actorID, events.Payload{"name": t.Name})
	})
	return t, err
}

func (e Engine) ListTeams(ctx context.Context) ([]domain.Team, error) {
	return e.Repo.ListTeams(ctx)
}

// DeleteTeam removes the team; members and tickets keep existing without one.
func (e Engine) DeleteTeam(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTeam(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "teams", domain.OpDelete, id, actorID, nil)
	})
}

// Users

type UserCreateOptions struct {
	Name       string
	Email      string
	Role       string
	IsTeamLead bool
	TeamID     string
	ActorID    string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if err := required("name", opts.Name); err != nil {
		return domain.User{}, err
	}
	if _, err := mail.ParseAddress(opts.Email); err != nil {
		return domain.User{}, ValidationError{Field: "email", Message: "must be a valid address"}
	}
	if opts.Role == "" {
		opts.Role = domain.RoleAgent
	}
	if err := oneOf("role", opts.Role, domain.RoleAdmin, domain.RoleAgent, domain.RoleCustomer); err != nil {
		return domain.User{}, err
	}
	if opts.TeamID != "" {
		if _, err := e.Repo.GetTeam(ctx, opts.TeamID); err != nil {
			return domain.User{}, referenced("team_id", err)
		}
	}
	u := domain.User{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(opts.Name),
		Email:      strings.ToLower(strings.TrimSpace(opts.Email)),
		Role:       opts.Role,
		IsTeamLead: opts.IsTeamLead,
		TeamID:     optionalString(opts.TeamID),
		CreatedAt:  e.timestamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			if repo.IsUniqueViolation(err) {
				return ConflictError{Entity: "user", Key: u.Email}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "users", domain.OpInsert, u.ID, opts.ActorID, events.Payload{
			"role": u.Role, "team_id": opts.TeamID,
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, u.ID)
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) ListUsers(ctx context.Context, f repo.UserFilters) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, f)
}

type UserUpdateOptions struct {
	ID         string
	Name       *string
	Role       *string
	IsTeamLead *bool
	// TeamID set to "" removes the user from their team.
	TeamID  *string
	ActorID string
}

func (e Engine) UpdateUser(ctx context.Context, opts UserUpdateOptions) (domain.User, error) {
	if _, err := e.Repo.GetUser(ctx, opts.ID); err != nil {
		return domain.User{}, err
	}
	if opts.Name != nil {
		if err := required("name", *opts.Name); err != nil {
			return domain.User{}, err
		}
	}
	if opts.Role != nil {
		if err := oneOf("role", *opts.Role, domain.RoleAdmin, domain.RoleAgent, domain.RoleCustomer); err != nil {
			return domain.User{}, err
		}
	}
	clearTeam := false
	if opts.TeamID != nil {
		if *opts.TeamID == "" {
			clearTeam = true
		} else if _, err := e.Repo.GetTeam(ctx, *opts.TeamID); err != nil {
			return domain.User{}, referenced("team_id", err)
		}
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateUser(ctx, tx, opts.ID, opts.Name, opts.Role, opts.IsTeamLead, opts.TeamID, clearTeam); err != nil {
			return err
		}
		payload := events.Payload{}
		if opts.TeamID != nil {
			payload["team_id"] = *opts.TeamID
		}
		if opts.Role != nil {
			payload["role"] = *opts.Role
		}
		return e.Events.Append(ctx, tx, "users", domain.OpUpdate, opts.ID, opts.ActorID, payload)
	})
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, opts.ID)
}

// MoveUserToTeam is the per-row step of a bulk reassignment.
func (e Engine) MoveUserToTeam(ctx context.Context, id, teamID, actorID string) error {
	_, err := e.UpdateUser(ctx, UserUpdateOptions{ID: id, TeamID: &teamID, ActorID: actorID})
	return err
}

// DeleteUser removes a user. The schema cascades the delete to tickets they
// created, messages they sent, metadata values pointing at them, their skill
// rows and API keys; tickets assigned to them become unassigned.
func (e Engine) DeleteUser(ctx context.Context, id, actorID string) error {
	fp, err := e.Repo.UserFootprint(ctx, []string{id})
	if err != nil {
		return err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteUser(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "users", domain.OpDelete, id, actorID, events.Payload{
			"tickets": fp.Tickets, "messages": fp.Messages, "metadata_values": fp.MetadataValues, "skills": fp.Skills,
		})
	})
	if err != nil {
		return err
	}
	e.logger().Info("user deleted", zap.String("user_id", id), zap.Int("tickets", fp.Tickets), zap.Int("messages", fp.Messages))
	return nil
}

func (e Engine) UserFootprint(ctx context.Context, ids []string) (repo.UserFootprint, error) {
	return e.Repo.UserFootprint(ctx, ids)
}

// Skills

func (e Engine) CreateSkill(ctx context.Context, name, actorID string) (domain.Skill, error) {
	if err := required("name", name); err != nil {
		return domain.Skill{}, err
	}
	s := domain.Skill{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertSkill(ctx, tx, s); err != nil {
			if repo.IsUniqueViolation(err) {
				return ConflictError{Entity: "skill", Key: s.Name}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "skills", domain.OpInsert, s.ID, actorID, events.Payload{"name": s.Name})
	})
	return s, err
}

func (e Engine) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	return e.Repo.ListSkills(ctx)
}

func (e Engine) CreateProficiency(ctx context.Context, name string, rank int, actorID string) (domain.Proficiency, error) {
	if err := required("name", name); err != nil {
		return domain.Proficiency{}, err
	}
	p := domain.Proficiency{ID: uuid.NewString(), Name: strings.TrimSpace(name), Rank: rank}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProficiency(ctx, tx, p); err != nil {
			if repo.IsUniqueViolation(err) {
				return ConflictError{Entity: "proficiency", Key: p.Name}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "proficiencies", domain.OpInsert, p.ID, actorID, events.Payload{"name": p.Name, "rank": rank})
	})
	return p, err
}

func (e Engine) ListProficiencies(ctx context.Context) ([]domain.Proficiency, error) {
	return e.Repo.ListProficiencies(ctx)
}

// SetAgentSkill records the proficiency a user holds in a skill.
func (e Engine) SetAgentSkill(ctx context.Context, userID, skillID, proficiencyID, actorID string) (domain.AgentSkill, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.AgentSkill{}, err
	}
	skill, err := e.Repo.GetSkill(ctx, skillID)
	if err != nil {
		return domain.AgentSkill{}, referenced("skill_id", err)
	}
	prof, err := e.Repo.GetProficiency(ctx, proficiencyID)
	if err != nil {
		return domain.AgentSkill{}, referenced("proficiency_id", err)
	}
	s := domain.AgentSkill{UserID: userID, SkillID: skill.ID, SkillName: skill.Name, ProficiencyID: prof.ID, ProficiencyName: prof.Name}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertAgentSkill(ctx, tx, s); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "agent_skills", domain.OpUpdate, userID+"/"+skillID, actorID, events.Payload{
			"user_id": userID, "skill_id": skillID, "proficiency_id": proficiencyID,
		})
	})
	return s, err
}

func (e Engine) ListAgentSkills(ctx context.Context, userID string) ([]domain.AgentSkill, error) {
	return e.Repo.ListAgentSkills(ctx, userID)
}
