package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/services/modules"
	"github.com/appforge-labs/appforge/internal/app/storage"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/internal/httputil"
	"github.com/appforge-labs/appforge/internal/middleware"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

func (h *handler) listModules(w http.ResponseWriter, r *http.Request) {
	mods, err := h.app.Modules.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mods)
}

func (h *handler) createModule(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name           string        `json:"name"`
		Description    string        `json:"description"`
		ModuleType     string        `json:"module_type"`
		Schema         module.Schema `json:"schema"`
		GenerateSchema bool          `json:"generate_schema"`
		Seed           bool          `json:"seed"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	mod, created, err := h.app.Modules.Create(r.Context(), userID, modules.CreateInput{
		Name:           payload.Name,
		Description:    payload.Description,
		ModuleType:     payload.ModuleType,
		Schema:         payload.Schema,
		GenerateSchema: payload.GenerateSchema,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if created == nil {
		created = []string{}
	}

	resp := struct {
		module.Module
		TablesCreated []string       `json:"tables_created"`
		Seeded        map[string]int `json:"seeded,omitempty"`
	}{Module: mod, TablesCreated: created}

	if payload.Seed && len(created) > 0 {
		if counts, err := h.app.Modules.SeedModule(r.Context(), userID, mod.ID, 0); err != nil {
			h.log.WithContext(r.Context()).WithError(err).Warn("seeding new module failed")
		} else {
			resp.Seeded = counts
		}
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *handler) getModule(w http.ResponseWriter, r *http.Request) {
	detail, err := h.app.Modules.GetDetail(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *handler) updateModule(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		ModuleType  *string `json:"module_type"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	mod, err := h.app.Modules.Update(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], modules.UpdateInput{
		Name:        payload.Name,
		Description: payload.Description,
		ModuleType:  payload.ModuleType,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mod)
}

func (h *handler) deleteModule(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Modules.Delete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) generateUI(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description string `json:"description"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	mod, err := h.app.Modules.GenerateUI(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.Description)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		UIDefinition *module.UIDefinition `json:"ui_definition"`
		Message      string               `json:"message"`
	}{UIDefinition: mod.UIDefinition, Message: "UI generated successfully"})
}

func (h *handler) seedModule(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RowsPerTable int `json:"rows_per_table"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	counts, err := h.app.Modules.SeedModule(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.RowsPerTable)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"seeded": counts})
}

func (h *handler) queryRecords(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rows, err := h.app.Modules.QueryRecords(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["table"], rowQueryFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

func (h *handler) insertRecord(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload.Data) == 0 {
		httputil.WriteServiceError(w, apperrors.InvalidRequest("data is required"))
		return
	}

	vars := mux.Vars(r)
	id, err := h.app.Modules.InsertRecord(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["table"], payload.Data)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"row_id":  id,
		"message": "Data inserted successfully",
	})
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	recordID, err := parseRecordID(vars["recordID"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	row, err := h.app.Modules.GetRecord(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["table"], recordID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

func (h *handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload.Data) == 0 {
		httputil.WriteServiceError(w, apperrors.InvalidRequest("data is required"))
		return
	}

	vars := mux.Vars(r)
	recordID, err := parseRecordID(vars["recordID"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.app.Modules.UpdateRecord(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["table"], recordID, payload.Data); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rows_affected": 1,
		"message":       "Record updated successfully",
	})
}

func (h *handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	recordID, err := parseRecordID(vars["recordID"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.app.Modules.DeleteRecord(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["table"], recordID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rows_affected": 1,
		"message":       "Record deleted successfully",
	})
}

// rowQueryFromRequest builds a row query from the where/params/limit/order_by
// query parameters. params is a JSON array of bind values; a malformed value
// is ignored rather than rejected.
func rowQueryFromRequest(r *http.Request) storage.RowQuery {
	q := storage.RowQuery{
		Where:   r.URL.Query().Get("where"),
		OrderBy: r.URL.Query().Get("order_by"),
		Limit:   defaultQueryLimit,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxQueryLimit {
			q.Limit = l
		}
	}
	if raw := r.URL.Query().Get("params"); raw != "" {
		var params []interface{}
		if err := json.Unmarshal([]byte(raw), &params); err == nil {
			q.Params = params
		}
	}
	return q
}

func parseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidRequest("record id must be an integer")
	}
	return id, nil
}
