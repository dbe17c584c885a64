package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/engine/auth"
)

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-fields",
		Method:      http.MethodGet,
		Path:        "/fields",
		Summary:     "List metadata field definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.FieldDefinition `json:"body"`
	}, error) {
		fields, err := e.ListFields(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.FieldDefinition `json:"body"`
		}{Body: nonNilSlice(fields)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-field",
		Method:        http.MethodPost,
		Path:          "/fields",
		Summary:       "Create metadata field",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateFieldRequest `json:"body"`
	}) (*struct {
		Body domain.FieldDefinition `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermFieldsManage)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.CreateField(ctx, input.Body.Name, input.Body.ValueKind, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FieldDefinition `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-field",
		Method:        http.MethodDelete,
		Path:          "/fields/{field_id}",
		Summary:       "Delete metadata field and every value stored for it",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FieldID string `path:"field_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, auth.PermFieldsManage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteField(ctx, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
