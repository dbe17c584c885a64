package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/repo"
)

func (e Engine) ListFields(ctx context.Context) ([]domain.FieldDefinition, error) {
	return e.Repo.ListFields(ctx)
}

func (e Engine) GetField(ctx context.Context, id string) (domain.FieldDefinition, error) {
	return e.Repo.GetField(ctx, id)
}

// CreateField adds a metadata field. The value kind is fixed from here on.
func (e Engine) CreateField(ctx context.Context, name string, kind domain.ValueKind, description, actorID string) (domain.FieldDefinition, error) {
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return domain.FieldDefinition{}, err
	}
	if !kind.Valid() {
		return domain.FieldDefinition{}, ValidationError{Field: "value_kind", Message: "unknown value kind " + string(kind)}
	}
	if _, err := e.Repo.GetFieldByName(ctx, name); err == nil {
		return domain.FieldDefinition{}, FieldExistsError{Name: name}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.FieldDefinition{}, err
	}
	f := domain.FieldDefinition{
		ID:          uuid.NewString(),
		Name:        name,
		ValueKind:   kind,
		Description: strings.TrimSpace(description),
		CreatedAt:   e.timestamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertField(ctx, tx, f); err != nil {
			if repo.IsUniqueViolation(err) {
				return FieldExistsError{Name: name}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "ticket_metadata_field_types", domain.OpInsert, f.ID, actorID, events.Payload{
			"name": f.Name, "value_kind": f.ValueKind,
		})
	})
	if err != nil {
		return domain.FieldDefinition{}, err
	}
	return f, nil
}

// DeleteField removes a field definition and every value stored for it.
func (e Engine) DeleteField(ctx context.Context, id, actorID string) error {
	f, err := e.Repo.GetField(ctx, id)
	if err != nil {
		return err
	}
	var removed int64
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		n, err := e.Repo.DeleteField(ctx, tx, id)
		if err != nil {
			return err
		}
		removed = n
		return e.Events.Append(ctx, tx, "ticket_metadata_field_types", domain.OpDelete, id, actorID, events.Payload{
			"name": f.Name, "values_removed": n,
		})
	})
	if err != nil {
		return err
	}
	e.logger().Info("field deleted", zap.String("field_id", id), zap.String("name", f.Name), zap.Int64("values_removed", removed))
	return nil
}

// SetTicketMetadata parses raw by the field's kind and stores it, replacing
// any earlier value for the same ticket and field.
func (e Engine) SetTicketMetadata(ctx context.Context, ticketID, fieldID string, raw any, actorID string) (domain.MetadataValue, error) {
	if _, err := e.Repo.GetTicket(ctx, ticketID); err != nil {
		return domain.MetadataValue{}, err
	}
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return domain.MetadataValue{}, referenced("field_id", err)
	}
	if raw == nil {
		return domain.MetadataValue{}, ValidationError{Field: "value", Message: "is required"}
	}
	v, err := domain.ParseValue(f.ValueKind, raw)
	if err != nil {
		return domain.MetadataValue{}, ValidationError{Field: "value", Message: err.Error()}
	}
	switch f.ValueKind {
	case domain.KindUserRef:
		if _, err := e.Repo.GetUser(ctx, *v.UserID); err != nil {
			return domain.MetadataValue{}, referenced("value", err)
		}
	case domain.KindTicketRef:
		if _, err := e.Repo.GetTicket(ctx, *v.TicketID); err != nil {
			return domain.MetadataValue{}, referenced("value", err)
		}
	}
	m := domain.MetadataValue{
		TicketID:  ticketID,
		FieldID:   f.ID,
		FieldName: f.Name,
		Kind:      f.ValueKind,
		Value:     v,
		UpdatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertMetadata(ctx, tx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "ticket_metadata", domain.OpUpdate, ticketID+"/"+f.ID, actorID, events.Payload{
			"ticket_id": ticketID, "field_id": f.ID, "value": v.String(),
		})
	})
	if err != nil {
		return domain.MetadataValue{}, err
	}
	return m, nil
}

func (e Engine) TicketMetadata(ctx context.Context, ticketID string) ([]domain.MetadataValue, error) {
	if _, err := e.Repo.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return e.Repo.ListMetadata(ctx, ticketID)
}

func (e Engine) DeleteTicketMetadata(ctx context.Context, ticketID, fieldID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteMetadata(ctx, tx, ticketID, fieldID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "ticket_metadata", domain.OpDelete, ticketID+"/"+fieldID, actorID, events.Payload{
			"ticket_id": ticketID, "field_id": fieldID,
		})
	})
}
