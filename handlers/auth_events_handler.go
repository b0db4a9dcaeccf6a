package handlers

import (
	"net/http"
	"strconv"

	"github.com/apexmotive/dashboard-backend/app"
	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/services"
	"github.com/apexmotive/dashboard-backend/utils"
)

const defaultAuthEventLimit = 50

type listAuthEventsParams struct {
	Limit   int    `validate:"gte=1,lte=500"`
	Subject string `validate:"omitempty,max=255"`
}

// ListAuthEventsHandler returns recent authentication events, newest first.
// Staff only; the route wiring applies RequireStaff.
func ListAuthEventsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := listAuthEventsParams{
			Limit:   defaultAuthEventLimit,
			Subject: r.URL.Query().Get("subject"),
		}

		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
				return
			}
			params.Limit = n
		}

		if err := utils.ValidateStruct(&params); err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		var (
			events []*models.AuthEvent
			err    error
		)
		if params.Subject != "" {
			events, err = deps.AuthEvents.ListBySubject(r.Context(), params.Subject, params.Limit)
		} else {
			events, err = deps.AuthEvents.ListRecent(r.Context(), params.Limit)
		}
		if err != nil {
			HandleServiceError(w, services.WrapInternal("failed to list auth events", err), deps.Logger)
			return
		}

		if events == nil {
			events = []*models.AuthEvent{}
		}
		_ = utils.WriteOK(w, events)
	}
}
