package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/app"
	"github.com/apexmotive/dashboard-backend/middleware"
	"github.com/apexmotive/dashboard-backend/models"
)

func TestGetCurrentUserHandler(t *testing.T) {
	logger := zap.NewNop()
	deps := &app.Dependencies{Logger: logger}

	t.Run("returns 200 with the provisioned identity", func(t *testing.T) {
		user := models.NewUser("auth0.507f1f77bcf86cd799439011", "jreyes@apexmotive.io", "Julia", "Reyes")
		user.IsStaff = true

		handler := GetCurrentUserHandler(deps)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(middleware.WithUser(req.Context(), user))
		rec := httptest.NewRecorder()

		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Data CurrentUserResponse `json:"data"`
		}
		err := json.NewDecoder(rec.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, user.ID, body.Data.ID)
		assert.Equal(t, "auth0.507f1f77bcf86cd799439011", body.Data.Subject)
		assert.Equal(t, "jreyes@apexmotive.io", body.Data.Email)
		assert.Equal(t, "Julia", body.Data.FirstName)
		assert.Equal(t, "Reyes", body.Data.LastName)
		assert.True(t, body.Data.IsStaff)
	})

	t.Run("response does not expose the superuser flag", func(t *testing.T) {
		user := models.NewUser("auth0.root", "root@apexmotive.io", "Root", "User")
		user.IsSuperuser = true

		handler := GetCurrentUserHandler(deps)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(middleware.WithUser(req.Context(), user))
		rec := httptest.NewRecorder()

		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "is_superuser")
	})

	t.Run("returns 401 when user missing in context", func(t *testing.T) {
		handler := GetCurrentUserHandler(deps)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
