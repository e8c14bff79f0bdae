package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/services/chat"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/internal/httputil"
	"github.com/appforge-labs/appforge/internal/middleware"
)

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.app.Chat.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, convs)
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    string `json:"title"`
		ModuleID string `json:"module_id"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	conv, err := h.app.Chat.CreateConversation(r.Context(), middleware.GetUserID(r.Context()), payload.Title, payload.ModuleID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, conv)
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := mux.Vars(r)["id"]

	conv, err := h.app.Chat.Get(r.Context(), userID, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	msgs, err := h.app.Chat.Messages(r.Context(), userID, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, struct {
		conversation.Conversation
		Messages []conversation.Message `json:"messages"`
	}{Conversation: conv, Messages: msgs})
}

func (h *handler) updateConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    *string `json:"title"`
		IsActive *bool   `json:"is_active"`
		ModuleID *string `json:"module_id"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	conv, err := h.app.Chat.Update(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], chat.UpdateInput{
		Title:    payload.Title,
		IsActive: payload.IsActive,
		ModuleID: payload.ModuleID,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conv)
}

func (h *handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Chat.Delete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.app.Chat.Messages(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, msgs)
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	reply, err := h.app.Chat.ProcessMessage(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.Content)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reply)
}

// conversationSocket upgrades the connection and subscribes it to the
// conversation's message events. Authentication happens here rather than in
// the middleware because websocket clients in browsers cannot set headers;
// the token may arrive as ?token= instead.
func (h *handler) conversationSocket(w http.ResponseWriter, r *http.Request) {
	u, err := h.authenticateSocket(r)
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "websocket_auth_failed", map[string]interface{}{
			"remote": r.RemoteAddr,
		})
		httputil.WriteServiceError(w, err)
		return
	}

	conv, err := h.app.Chat.Get(r.Context(), u.ID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.app.Hub.Serve(w, r, conv.ID)
}

func (h *handler) authenticateSocket(r *http.Request) (user.User, error) {
	if key := r.Header.Get(middleware.APIKeyHeader); key != "" {
		return h.app.Users.AuthenticateAPIKey(r.Context(), key)
	}
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return user.User{}, apperrors.Unauthorized("")
	}
	return h.app.Users.Authenticate(r.Context(), token)
}
