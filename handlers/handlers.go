package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/apexmotive/dashboard-backend/app"
	"github.com/apexmotive/dashboard-backend/middleware"
	"github.com/apexmotive/dashboard-backend/utils"
)

// CurrentUserResponse is the response body for GET /api/v1/users/me
type CurrentUserResponse struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsStaff   bool      `json:"is_staff"`
	CreatedAt time.Time `json:"created_at"`
}

// GetCurrentUserHandler returns the provisioned identity for the current
// request. The user is always present when RequireAuth ran; the nil check
// covers misconfigured routes.
func GetCurrentUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.GetUserFromContext(r.Context())
		if user == nil {
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		_ = utils.WriteOK(w, CurrentUserResponse{
			ID:        user.ID,
			Subject:   user.Subject,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			IsStaff:   user.IsStaff,
			CreatedAt: user.CreatedAt,
		})
	}
}
