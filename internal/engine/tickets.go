package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/filter"
	"deskline/internal/repo"
)

var (
	ticketStatuses   = []string{"open", "pending", "closed"}
	ticketPriorities = []string{"low", "medium", "high"}
)

type TicketCreateOptions struct {
	Title       string
	Description string
	Priority    string
	AssigneeID  string
	TeamID      string
	Tags        []string
	ActorID     string
}

func (e Engine) CreateTicket(ctx context.Context, opts TicketCreateOptions) (domain.Ticket, error) {
	if err := required("title", opts.Title); err != nil {
		return domain.Ticket{}, err
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if err := oneOf("priority", opts.Priority, ticketPriorities...); err != nil {
		return domain.Ticket{}, err
	}
	if _, err := e.Repo.GetUser(ctx, opts.ActorID); err != nil {
		return domain.Ticket{}, referenced("created_by", err)
	}
	if opts.AssigneeID != "" {
		if _, err := e.Repo.GetUser(ctx, opts.AssigneeID); err != nil {
			return domain.Ticket{}, referenced("assignee_id", err)
		}
	}
	if opts.TeamID != "" {
		if _, err := e.Repo.GetTeam(ctx, opts.TeamID); err != nil {
			return domain.Ticket{}, referenced("team_id", err)
		}
	}
	now := e.timestamp()
	t := domain.Ticket{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Status:      "open",
		Priority:    opts.Priority,
		CreatedBy:   opts.ActorID,
		AssigneeID:  optionalString(opts.AssigneeID),
		TeamID:      optionalString(opts.TeamID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTicket(ctx, tx, t); err != nil {
			return err
		}
		for _, tagID := range opts.Tags {
			if err := e.Repo.AddTicketTag(ctx, tx, t.ID, tagID); err != nil {
				return referenced("tags", err)
			}
		}
		return e.Events.Append(ctx, tx, "tickets", domain.OpInsert, t.ID, opts.ActorID, events.Payload{
			"status": t.Status, "priority": t.Priority, "team_id": opts.TeamID,
		})
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return e.Repo.GetTicket(ctx, t.ID)
}

type TicketUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	AssigneeID  *string
	TeamID      *string
	ActorID     string
}

// UpdateTicket applies the non-nil fields. An empty AssigneeID or TeamID
// clears the link.
func (e Engine) UpdateTicket(ctx context.Context, opts TicketUpdateOptions) (domain.Ticket, error) {
	t, err := e.Repo.GetTicket(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	if opts.Title != nil {
		if err := required("title", *opts.Title); err != nil {
			return t, err
		}
		t.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		if err := oneOf("status", *opts.Status, ticketStatuses...); err != nil {
			return t, err
		}
		t.Status = *opts.Status
	}
	if opts.Priority != nil {
		if err := oneOf("priority", *opts.Priority, ticketPriorities...); err != nil {
			return t, err
		}
		t.Priority = *opts.Priority
	}
	if opts.AssigneeID != nil {
		if *opts.AssigneeID != "" {
			if _, err := e.Repo.GetUser(ctx, *opts.AssigneeID); err != nil {
				return t, referenced("assignee_id", err)
			}
		}
		t.AssigneeID = optionalString(*opts.AssigneeID)
	}
	if opts.TeamID != nil {
		if *opts.TeamID != "" {
			if _, err := e.Repo.GetTeam(ctx, *opts.TeamID); err != nil {
				return t, referenced("team_id", err)
			}
		}
		t.TeamID = optionalString(*opts.TeamID)
	}
	t.UpdatedAt = e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTicket(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "tickets", domain.OpUpdate, t.ID, opts.ActorID, events.Payload{
			"from_status": original.Status, "to_status": t.Status,
		})
	})
	if err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return e.Repo.GetTicket(ctx, id)
}

func (e Engine) ListTickets(ctx context.Context, f repo.TicketFilters) ([]domain.Ticket, error) {
	return e.Repo.ListTickets(ctx, f)
}

// FilteredTickets lists tickets with the builder's active clauses applied.
func (e Engine) FilteredTickets(ctx context.Context, b *filter.Builder, f repo.TicketFilters) ([]domain.Ticket, error) {
	if b != nil {
		f.Metadata = append(f.Metadata, b.ToQuery()...)
	}
	return e.Repo.ListTickets(ctx, f)
}

// DeleteTicket removes a ticket with its messages, tag links and metadata.
func (e Engine) DeleteTicket(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTicket(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "tickets", domain.OpDelete, id, actorID, nil)
	})
}

func (e Engine) MoveTicketToTeam(ctx context.Context, id, teamID, actorID string) error {
	if _, err := e.Repo.GetTeam(ctx, teamID); err != nil {
		return referenced("team_id", err)
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.MoveTicketToTeam(ctx, tx, id, teamID, e.timestamp()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "tickets", domain.OpUpdate, id, actorID, events.Payload{"team_id": teamID})
	})
}

// Tags

func (e Engine) CreateTagType(ctx context.Context, name, color, actorID string) (domain.TagType, error) {
	if err := required("name", name); err != nil {
		return domain.TagType{}, err
	}
	tt := domain.TagType{ID: uuid.NewString(), Name: strings.TrimSpace(name), Color: color}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTagType(ctx, tx, tt); err != nil {
			if repo.IsUniqueViolation(err) {
				return ConflictError{Entity: "tag type", Key: tt.Name}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "tag_types", domain.OpInsert, tt.ID, actorID, events.Payload{"name": tt.Name})
	})
	return tt, err
}

func (e Engine) ListTagTypes(ctx context.Context) ([]domain.TagType, error) {
	return e.Repo.ListTagTypes(ctx)
}

func (e Engine) CreateTag(ctx context.Context, name, tagTypeID, actorID string) (domain.Tag, error) {
	if err := required("name", name); err != nil {
		return domain.Tag{}, err
	}
	t := domain.Tag{ID: uuid.NewString(), Name: strings.TrimSpace(name), TagTypeID: optionalString(tagTypeID)}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTag(ctx, tx, t); err != nil {
			if repo.IsUniqueViolation(err) {
				return ConflictError{Entity: "tag", Key: t.Name}
			}
			return err
		}
		return e.Events.Append(ctx, tx, "tags", domain.OpInsert, t.ID, actorID, events.Payload{"name": t.Name})
	})
	return t, err
}

func (e Engine) ListTags(ctx context.Context) ([]domain.Tag, error) {
	return e.Repo.ListTags(ctx)
}

func (e Engine) DeleteTag(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTag(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "tags", domain.OpDelete, id, actorID, nil)
	})
}

func (e Engine) TagTicket(ctx context.Context, ticketID, tagID, actorID string) error {
	if _, err := e.Repo.GetTicket(ctx, ticketID); err != nil {
		return err
	}
	if _, err := e.Repo.GetTag(ctx, tagID); err != nil {
		return referenced("tag_id", err)
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.AddTicketTag(ctx, tx, ticketID, tagID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "ticket_tags", domain.OpInsert, ticketID+"/"+tagID, actorID, events.Payload{
			"ticket_id": ticketID, "tag_id": tagID,
		})
	})
}

func (e Engine) UntagTicket(ctx context.Context, ticketID, tagID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.RemoveTicketTag(ctx, tx, ticketID, tagID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "ticket_tags", domain.OpDelete, ticketID+"/"+tagID, actorID, events.Payload{
			"ticket_id": ticketID, "tag_id": tagID,
		})
	})
}

// Messages

func (e Engine) PostMessage(ctx context.Context, ticketID, body, senderID string) (domain.TicketMessage, error) {
	if err := required("body", body); err != nil {
		return domain.TicketMessage{}, err
	}
	if _, err := e.Repo.GetTicket(ctx, ticketID); err != nil {
		return domain.TicketMessage{}, err
	}
	if _, err := e.Repo.GetUser(ctx, senderID); err != nil {
		return domain.TicketMessage{}, referenced("sender_id", err)
	}
	m := domain.TicketMessage{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: e.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "ticket_messages", domain.OpInsert, m.ID, senderID, events.Payload{
			"ticket_id": ticketID, "sender_id": senderID,
		})
	})
	return m, err
}

func (e Engine) ListMessages(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	if _, err := e.Repo.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return e.Repo.ListMessages(ctx, ticketID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
