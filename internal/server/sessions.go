package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"deskline/internal/bulk"
	"deskline/internal/dispatch"
	"deskline/internal/engine"
	"deskline/internal/engine/auth"
	"deskline/internal/session"
)

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type scopePath struct {
	SessionID string `path:"session_id"`
	Scope     string `path:"scope" enum:"users,tickets"`
}

type sessionOutput struct {
	Body SessionResponse `json:"body"`
}

func registerSessions(api huma.API, cfg Config) {
	e := cfg.Engine
	store := cfg.Sessions

	load := func(ctx context.Context, id string) (*session.Session, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return store.Get(id, userID)
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open a console session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*sessionOutput, error) {
		userID, err := requirePermission(ctx, e, auth.PermCommandsRun)
		if err != nil {
			return nil, handleError(err)
		}
		s := store.Create(userID,
			engine.UserMutator{Engine: e, ActorID: userID},
			engine.TicketMutator{Engine: e, ActorID: userID},
		)
		cfg.Logger.Debug("session opened", zap.String("session", s.ID), zap.String("user", userID))
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Close a console session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := store.Delete(input.SessionID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	registerSessionFilters(api, e, load)
	registerSessionSelection(api, e, load)

	huma.Register(api, huma.Operation{
		OperationID: "run-session-command",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/command",
		Summary:     "Run a natural-language command in a session",
		Description: "Pending delete or reassign results become the users selection with the action requested; confirm applies it.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string         `path:"session_id"`
		Body      CommandRequest `json:"body"`
	}) (*struct {
		Body CommandResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCommandsRun); err != nil {
			return nil, handleError(err)
		}
		if cfg.Dispatcher == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "model_unavailable", "no model configured", nil)
		}
		s, err := load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := s.RunCommand(ctx, cfg.Dispatcher, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		lookup := func(ctx context.Context, name string) (string, error) {
			t, err := e.Repo.GetTeamByName(ctx, name)
			return t.ID, err
		}
		if err := dispatch.Route(ctx, resp.Result, s.Users, lookup); err != nil {
			return nil, withCommand(handleError(err), resp, s.Users.State())
		}
		return &struct {
			Body CommandResponse `json:"body"`
		}{Body: CommandResponse{Command: resp, Users: s.Users.State()}}, nil
	})
}

// withCommand keeps a dispatched command visible when routing its result
// fails.
func withCommand(err huma.StatusError, resp dispatch.Response, users bulk.State) huma.StatusError {
	ae, ok := err.(*apiError)
	if !ok {
		return err
	}
	if ae.Body.Details == nil {
		ae.Body.Details = map[string]any{}
	}
	ae.Body.Details["command"] = resp
	ae.Body.Details["users"] = users
	return ae
}

type sessionLoader func(ctx context.Context, id string) (*session.Session, error)

func registerSessionFilters(api huma.API, e engine.Engine, load sessionLoader) {
	huma.Register(api, huma.Operation{
		OperationID: "set-session-filter",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/filters/{field_id}",
		Summary:     "Set the filter value for a metadata field",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string          `path:"session_id"`
		FieldID   string          `path:"field_id"`
		Body      SetValueRequest `json:"body"`
	}) (*sessionOutput, error) {
		s, err := load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.GetField(ctx, input.FieldID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.Filters.SetPredicate(f, input.Body.Value); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": f.Name})
		}
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-session-filter",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/filters/{field_id}",
		Summary:     "Remove the filter on a metadata field",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		FieldID   string `path:"field_id"`
	}) (*sessionOutput, error) {
		s, err := load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		s.Filters.RemovePredicate(input.FieldID)
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-session-filters",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/filters",
		Summary:     "Clear every filter",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		s.Filters.ClearAll()
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-session-filters-enabled",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/filters-enabled",
		Summary:     "Turn metadata filtering on or off without losing the filters",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string                `path:"session_id"`
		Body      FiltersEnabledRequest `json:"body"`
	}) (*sessionOutput, error) {
		s, err := load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		s.Filters.SetEnabled(input.Body.Enabled)
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})
}

func registerSessionSelection(api huma.API, e engine.Engine, load sessionLoader) {
	controller := func(ctx context.Context, sessionID, scope string) (*bulk.Controller, *session.Session, error) {
		s, err := load(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		c, ok := s.Controller(scope)
		if !ok {
			return nil, nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown selection scope", map[string]any{"scope": scope})
		}
		return c, s, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "set-session-selection",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/selection/{scope}",
		Summary:     "Select all, toggle one or clear the selection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string           `path:"session_id"`
		Scope     string           `path:"scope" enum:"users,tickets"`
		Body      SelectionRequest `json:"body"`
	}) (*sessionOutput, error) {
		c, s, err := controller(ctx, input.SessionID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		switch input.Body.Mode {
		case "all":
			c.SelectAll(input.Body.IDs)
		case "one":
			if input.Body.ID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
			}
			included := true
			if input.Body.Included != nil {
				included = *input.Body.Included
			}
			c.SelectOne(input.Body.ID, included)
		case "clear":
			c.Clear()
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "mode must be all, one or clear", nil)
		}
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-session-action",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/selection/{scope}/request",
		Summary:     "Ask for confirmation of a delete or reassign over the selection",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Scope     string        `path:"scope" enum:"users,tickets"`
		Body      ActionRequest `json:"body"`
	}) (*sessionOutput, error) {
		c, s, err := controller(ctx, input.SessionID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		action := bulk.Action(input.Body.Action)
		if action == bulk.ActionDelete || action == bulk.ActionReassign {
			if _, err := requirePermission(ctx, e, confirmPermission(input.Scope, action)); err != nil {
				return nil, handleError(err)
			}
		}
		switch action {
		case bulk.ActionDelete:
			err = c.RequestDelete()
		case bulk.ActionReassign:
			if input.Body.TargetTeamID != "" {
				if _, terr := e.Repo.GetTeam(ctx, input.Body.TargetTeamID); terr != nil {
					return nil, handleError(terr)
				}
			}
			err = c.RequestReassign(input.Body.TargetTeamID)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action must be delete or reassign", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "describe-session-action",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/selection/{scope}/consequences",
		Summary:     "Describe what the pending delete removes",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *scopePath) (*struct {
		Body bulk.Consequences `json:"body"`
	}, error) {
		c, _, err := controller(ctx, input.SessionID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		cons, err := c.Consequences(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body bulk.Consequences `json:"body"`
		}{Body: cons}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-session-action",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/selection/{scope}/confirm",
		Summary:     "Apply the pending action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *scopePath) (*struct {
		Body ConfirmResponse `json:"body"`
	}, error) {
		c, _, err := controller(ctx, input.SessionID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		pending := c.State().Pending
		if pending == bulk.ActionNone {
			return nil, handleError(bulk.ErrNoPendingAction)
		}
		if _, err := requirePermission(ctx, e, confirmPermission(input.Scope, pending)); err != nil {
			return nil, handleError(err)
		}
		out, err := c.ConfirmAction(ctx, pending)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfirmResponse `json:"body"`
		}{Body: ConfirmResponse{Outcome: out, Selection: c.State()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-session-action",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/selection/{scope}/cancel",
		Summary:     "Drop the pending action and the selection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *scopePath) (*sessionOutput, error) {
		c, s, err := controller(ctx, input.SessionID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		c.Cancel()
		return &sessionOutput{Body: sessionResponse(s)}, nil
	})
}

func confirmPermission(scope string, action bulk.Action) string {
	switch {
	case scope == "users" && action == bulk.ActionDelete:
		return auth.PermUsersDelete
	case scope == "users":
		return auth.PermUsersManage
	case action == bulk.ActionDelete:
		return auth.PermTicketsDelete
	}
	return auth.PermTicketsWrite
}
