package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knxsync/internal/audit"
	"github.com/nerrad567/knxsync/internal/entity"
)

// entityResponse is returned by PUT and DELETE. Reloaded is false when the
// change was stored but the running engine could not be reloaded.
type entityResponse struct {
	Entity   *entity.Entity `json:"entity,omitempty"`
	Created  bool           `json:"created,omitempty"`
	Reloaded bool           `json:"reloaded"`
	Error    string         `json:"reload_error,omitempty"`
}

// handleListEntities returns every stored entity configuration.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list entities", "error", err)
		writeInternalError(w, "failed to list entities")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleGetEntity returns one entity configuration.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		s.logger.Error("failed to get entity", "error", err, "entity_id", id)
		writeInternalError(w, "failed to get entity")
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// handlePutEntity creates or replaces an entity and reloads the engine.
// The id in the path wins over any entity_id in the body.
func (s *Server) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var e entity.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	e.ID = id
	e.Normalize()

	if err := e.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}

	var created bool
	resp, err := s.applyChange(r.Context(), func(ctx context.Context) (err error) {
		created, err = s.store.Put(ctx, e)
		return err
	})
	if err != nil {
		s.logger.Error("failed to store entity", "error", err, "entity_id", id)
		writeInternalError(w, "failed to store entity")
		return
	}
	s.logger.Info("entity stored", "entity_id", id, "created", created, "reloaded", resp.Reloaded)
	resp.Entity = &e
	resp.Created = created

	action := audit.ActionUpdate
	if created {
		action = audit.ActionCreate
	}
	s.record(r, action, id, resp)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// handleDeleteEntity removes an entity and reloads the engine.
func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, err := s.applyChange(r.Context(), func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, entity.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		s.logger.Error("failed to delete entity", "error", err, "entity_id", id)
		writeInternalError(w, "failed to delete entity")
		return
	}
	s.logger.Info("entity deleted", "entity_id", id, "reloaded", resp.Reloaded)

	s.record(r, audit.ActionDelete, id, resp)
	writeJSON(w, http.StatusOK, resp)
}

// applyChange runs write and then reloads the engine, holding reconfigMu
// across both. A write error skips the reload.
func (s *Server) applyChange(ctx context.Context, write func(context.Context) error) (entityResponse, error) {
	s.reconfigMu.Lock()
	defer s.reconfigMu.Unlock()

	if err := write(ctx); err != nil {
		return entityResponse{}, err
	}
	return s.reload(ctx), nil
}

// reload pushes the full stored configuration to the engine. A failed reload
// is reported in the response; the stored change is kept.
func (s *Server) reload(ctx context.Context) entityResponse {
	set, err := s.store.Snapshot(ctx)
	if err == nil {
		err = s.syncer.Reload(ctx, set)
	}
	if err != nil {
		s.logger.Warn("entity change stored but reload failed", "error", err)
		return entityResponse{Reloaded: false, Error: err.Error()}
	}
	return entityResponse{Reloaded: true}
}

// record writes an audit entry for a stored change. Failures are logged;
// the change itself already succeeded.
func (s *Server) record(r *http.Request, action, id string, resp entityResponse) {
	if s.audit == nil {
		return
	}
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // set by requireToken
	details := map[string]any{"reloaded": resp.Reloaded}
	if resp.Error != "" {
		details["reload_error"] = resp.Error
	}
	if resp.Entity != nil {
		details["category"] = string(resp.Entity.Category())
	}

	entry := &audit.Entry{Action: action, EntityID: id, Subject: subject, Details: details}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("failed to record audit entry", "error", err, "entity_id", id, "action", action)
	}
}

// handleListAudit returns recorded entity changes, newest first.
// Query parameters: action, entity_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit log", "error", err)
		writeInternalError(w, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
