package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"deskline/internal/feed"
)

// registerChanges streams the change log as server-sent events. With
// ticket_id set, only changes about that ticket are sent.
func registerChanges(api huma.API, hub *feed.Hub) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-changes",
		Method:      http.MethodGet,
		Path:        "/changes",
		Summary:     "Stream change events",
	}, map[string]any{
		"change": ChangeResponse{},
	}, func(ctx context.Context, input *struct {
		Table    string `query:"table"`
		TicketID string `query:"ticket_id"`
	}, send sse.Sender) {
		ch, cancel := hub.Subscribe(changeMatch(input.Table, input.TicketID))
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := send.Data(changeResponse(evt)); err != nil {
					return
				}
			}
		}
	})
}

func changeMatch(table, ticketID string) feed.Match {
	m := feed.Match{Table: table}
	if ticketID == "" {
		return m
	}
	m.Value = ticketID
	if table == "tickets" {
		m.Field = "row_id"
	} else {
		m.Field = "ticket_id"
	}
	return m
}
