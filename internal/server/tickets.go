package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/engine/auth"
	"deskline/internal/filter"
	"deskline/internal/repo"
	"deskline/internal/session"
)

func registerTickets(api huma.API, e engine.Engine, sessions *session.Store) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Create ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTicket(ctx, engine.TicketCreateOptions{
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Priority:    stringOrEmpty(input.Body.Priority),
			AssigneeID:  stringOrEmpty(input.Body.AssigneeID),
			TeamID:      stringOrEmpty(input.Body.TeamID),
			Tags:        input.Body.Tags,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets, optionally through a session's metadata filters",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"open,pending,closed"`
		TeamID     string `query:"team_id"`
		AssigneeID string `query:"assignee_id"`
		Tag        string `query:"tag"`
		SessionID  string `query:"session_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTickets `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		f := repo.TicketFilters{
			Status:          input.Status,
			TeamID:          input.TeamID,
			AssigneeID:      input.AssigneeID,
			Tag:             input.Tag,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}
		var builder *filter.Builder
		if input.SessionID != "" {
			s, err := sessions.Get(input.SessionID, userID)
			if err != nil {
				return nil, handleError(err)
			}
			if err := forgetRemovedFields(ctx, e, s.Filters); err != nil {
				return nil, handleError(err)
			}
			builder = s.Filters
		}
		items, err := e.FilteredTickets(ctx, builder, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTickets{Items: []domain.Ticket{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedTickets `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Get ticket",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.GetTicket(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Update ticket",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string              `path:"ticket_id"`
		Body     UpdateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.TicketUpdateOptions{
			ID:          input.TicketID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			TeamID:      input.Body.TeamID,
			ActorID:     actorID,
		}
		raw := rawBodyMap(ctx)
		empty := ""
		if isNullRaw(raw["assignee_id"]) {
			opts.AssigneeID = &empty
		}
		if isNullRaw(raw["team_id"]) {
			opts.TeamID = &empty
		}
		t, err := e.UpdateTicket(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-ticket",
		Method:        http.MethodDelete,
		Path:          "/tickets/{ticket_id}",
		Summary:       "Delete ticket",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsDelete)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTicket(ctx, input.TicketID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	registerTicketMetadata(api, e)
	registerTicketTags(api, e)
	registerTicketMessages(api, e)
}

func registerTicketMetadata(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ticket-metadata",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/metadata",
		Summary:     "List metadata values of a ticket",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body []domain.MetadataValue `json:"body"`
	}, error) {
		values, err := e.TicketMetadata(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MetadataValue `json:"body"`
		}{Body: nonNilSlice(values)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-ticket-metadata",
		Method:      http.MethodPut,
		Path:        "/tickets/{ticket_id}/metadata/{field_id}",
		Summary:     "Set a metadata value",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string          `path:"ticket_id"`
		FieldID  string          `path:"field_id"`
		Body     SetValueRequest `json:"body"`
	}) (*struct {
		Body domain.MetadataValue `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.SetTicketMetadata(ctx, input.TicketID, input.FieldID, input.Body.Value, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MetadataValue `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-ticket-metadata",
		Method:        http.MethodDelete,
		Path:          "/tickets/{ticket_id}/metadata/{field_id}",
		Summary:       "Remove a metadata value",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
		FieldID  string `path:"field_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTicketMetadata(ctx, input.TicketID, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTicketTags(api huma.API, e engine.Engine) {
	type tagPath struct {
		TicketID string `path:"ticket_id"`
		TagID    string `path:"tag_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "tag-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets/{ticket_id}/tags/{tag_id}",
		Summary:       "Attach tag",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tagPath) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.TagTicket(ctx, input.TicketID, input.TagID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "untag-ticket",
		Method:        http.MethodDelete,
		Path:          "/tickets/{ticket_id}/tags/{tag_id}",
		Summary:       "Detach tag",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tagPath) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.UntagTicket(ctx, input.TicketID, input.TagID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTicketMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/messages",
		Summary:     "List ticket messages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body []domain.TicketMessage `json:"body"`
	}, error) {
		msgs, err := e.ListMessages(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TicketMessage `json:"body"`
		}{Body: nonNilSlice(msgs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/tickets/{ticket_id}/messages",
		Summary:       "Post a message on a ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string             `path:"ticket_id"`
		Body     PostMessageRequest `json:"body"`
	}) (*struct {
		Body domain.TicketMessage `json:"body"`
	}, error) {
		senderID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.PostMessage(ctx, input.TicketID, input.Body.Body, senderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TicketMessage `json:"body"`
		}{Body: m}, nil
	})
}

func registerTags(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tag-types",
		Method:      http.MethodGet,
		Path:        "/tag-types",
		Summary:     "List tag types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.TagType `json:"body"`
	}, error) {
		items, err := e.ListTagTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TagType `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-tag-type",
		Method:        http.MethodPost,
		Path:          "/tag-types",
		Summary:       "Create tag type",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTagTypeRequest `json:"body"`
	}) (*struct {
		Body domain.TagType `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermFieldsManage)
		if err != nil {
			return nil, handleError(err)
		}
		tt, err := e.CreateTagType(ctx, input.Body.Name, stringOrEmpty(input.Body.Color), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TagType `json:"body"`
		}{Body: tt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/tags",
		Summary:     "List tags",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Tag `json:"body"`
	}, error) {
		items, err := e.ListTags(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Tag `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/tags",
		Summary:       "Create tag",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTagRequest `json:"body"`
	}) (*struct {
		Body domain.Tag `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermTicketsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTag(ctx, input.Body.Name, stringOrEmpty(input.Body.TagTypeID), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tag `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-tag",
		Method:        http.MethodDelete,
		Path:          "/tags/{tag_id}",
		Summary:       "Delete tag",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TagID string `path:"tag_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermFieldsManage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTag(ctx, input.TagID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// forgetRemovedFields drops session predicates on fields deleted since they
// were set.
func forgetRemovedFields(ctx context.Context, e engine.Engine, b *filter.Builder) error {
	fields, err := e.ListFields(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.ID] = true
	}
	b.Forget(func(id string) bool { return known[id] })
	return nil
}
