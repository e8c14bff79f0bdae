package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/services/users"
	"github.com/appforge-labs/appforge/internal/httputil"
	"github.com/appforge-labs/appforge/internal/middleware"
)

type authResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	u, token, err := h.app.Users.Signup(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, authResponse{Token: token, User: u})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	u, token, err := h.app.Users.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{
			"username": payload.Username,
			"remote":   r.RemoteAddr,
		})
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, authResponse{Token: token, User: u})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := h.app.Users.Logout(r.Context(), token); err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), users.ProfileInput{
		Username: payload.Username,
		Email:    payload.Email,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	rec, key, err := h.app.Users.CreateAPIKey(r.Context(), middleware.GetUserID(r.Context()), payload.Name)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	// The plaintext key is returned exactly once; only its hash is stored.
	httputil.WriteJSON(w, http.StatusCreated, struct {
		Key    string      `json:"key"`
		APIKey user.APIKey `json:"api_key"`
	}{Key: key, APIKey: rec})
}

func (h *handler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.app.Users.ListAPIKeys(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, keys)
}

func (h *handler) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["keyID"]
	if err := h.app.Users.RevokeAPIKey(r.Context(), middleware.GetUserID(r.Context()), keyID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the token from the Authorization header, if any.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
