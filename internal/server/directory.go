package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/engine/auth"
	"deskline/internal/repo"
)

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List teams",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Team `json:"body"`
	}, error) {
		teams, err := e.ListTeams(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Team `json:"body"`
		}{Body: nonNilSlice(teams)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTeamRequest `json:"body"`
	}) (*struct {
		Body domain.Team `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTeamsManage)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTeam(ctx, input.Body.Name, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Team `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-team",
		Method:        http.MethodDelete,
		Path:          "/teams/{team_id}",
		Summary:       "Delete team",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTeamsManage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTeam(ctx, input.TeamID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		TeamID string `query:"team_id"`
		Role   string `query:"role" enum:"admin,agent,customer"`
		Search string `query:"q"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		users, err := e.ListUsers(ctx, repo.UserFilters{TeamID: input.TeamID, Role: input.Role, Search: input.Search})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNilSlice(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermUsersManage)
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			Name:       input.Body.Name,
			Email:      input.Body.Email,
			Role:       input.Body.Role,
			IsTeamLead: input.Body.IsTeamLead,
			TeamID:     stringOrEmpty(input.Body.TeamID),
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user with skills",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, err := e.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		skills, err := e.ListAgentSkills(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: UserResponse{User: u, Skills: nonNilSlice(skills)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{user_id}",
		Summary:     "Update user; team_id null removes the user from their team",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   UpdateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermUsersManage)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.UserUpdateOptions{
			ID:         input.UserID,
			Name:       input.Body.Name,
			Role:       input.Body.Role,
			IsTeamLead: input.Body.IsTeamLead,
			TeamID:     input.Body.TeamID,
			ActorID:    actorID,
		}
		if isNullRaw(rawBodyMap(ctx)["team_id"]) {
			empty := ""
			opts.TeamID = &empty
		}
		u, err := e.UpdateUser(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{user_id}",
		Summary:       "Delete user with their tickets, messages, references and skills",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermUsersDelete)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteUser(ctx, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-skill",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/skills/{skill_id}",
		Summary:     "Set a user's proficiency in a skill",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID  string               `path:"user_id"`
		SkillID string               `path:"skill_id"`
		Body    SetAgentSkillRequest `json:"body"`
	}) (*struct {
		Body domain.AgentSkill `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermUsersManage)
		if err != nil {
			return nil, handleError(err)
		}
		as, err := e.SetAgentSkill(ctx, input.UserID, input.SkillID, input.Body.ProficiencyID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AgentSkill `json:"body"`
		}{Body: as}, nil
	})
}

func registerSkills(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-skills",
		Method:      http.MethodGet,
		Path:        "/skills",
		Summary:     "List skills",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Skill `json:"body"`
	}, error) {
		items, err := e.ListSkills(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Skill `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-skill",
		Method:        http.MethodPost,
		Path:          "/skills",
		Summary:       "Create skill",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateSkillRequest `json:"body"`
	}) (*struct {
		Body domain.Skill `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermUsersManage)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateSkill(ctx, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Skill `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proficiencies",
		Method:      http.MethodGet,
		Path:        "/proficiencies",
		Summary:     "List proficiency levels by rank",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Proficiency `json:"body"`
	}, error) {
		items, err := e.ListProficiencies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Proficiency `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-proficiency",
		Method:        http.MethodPost,
		Path:          "/proficiencies",
		Summary:       "Create proficiency level",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProficiencyRequest `json:"body"`
	}) (*struct {
		Body domain.Proficiency `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermUsersManage)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProficiency(ctx, input.Body.Name, input.Body.Rank, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proficiency `json:"body"`
		}{Body: p}, nil
	})
}
