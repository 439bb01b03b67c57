package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tankwatch/internal/audit"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/supervisor"
	"github.com/nerrad567/tankwatch/internal/tank"
)

// tankRequest is the body of create and update requests.
type tankRequest struct {
	ID                  string `json:"id"`
	Address             string `json:"address"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

func (r tankRequest) tank() tank.Tank {
	return tank.Tank{ID: r.ID, Address: r.Address, PollIntervalSeconds: r.PollIntervalSeconds}
}

// replaceRequest is the body of PUT /tanks.
type replaceRequest struct {
	Tanks []tankRequest `json:"tanks"`
}

// tankStatusResponse combines connection and remote-access state.
type tankStatusResponse struct {
	Connection   supervisor.TankStatus `json:"connection"`
	RemoteAccess remoteaccess.State    `json:"remote_access"`
}

// handleListTanks returns every registered tank.
func (s *Server) handleListTanks(w http.ResponseWriter, _ *http.Request) {
	tanks := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"tanks": tanks,
		"count": len(tanks),
	})
}

// handleGetTank returns one tank.
func (s *Server) handleGetTank(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleCreateTank registers a tank and starts supervising it.
func (s *Server) handleCreateTank(w http.ResponseWriter, r *http.Request) {
	var req tankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created, err := s.registry.Create(r.Context(), req.tank())
	s.recordAudit(r, audit.ActionTankCreate, req.ID, err, map[string]any{"address": req.Address})
	if err != nil {
		s.logDomainError("creating tank", err, r)
		writeDomainError(w, err)
		return
	}

	if err := s.supervisor.Add(r.Context(), created); err != nil {
		s.logger.Error("tank stored but not supervised", "tank_id", created.ID, "error", err)
		writeDomainError(w, err)
		return
	}

	s.deviceListChanged()
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateTank edits a tank. A changed ID renames it; a changed
// address or interval reconnects it.
func (s *Server) handleUpdateTank(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req tankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = id
	}

	updated, err := s.registry.Update(r.Context(), id, req.tank())
	s.recordAudit(r, audit.ActionTankUpdate, id, err, map[string]any{"id": req.ID, "address": req.Address})
	if err != nil {
		s.logDomainError("updating tank", err, r)
		writeDomainError(w, err)
		return
	}

	if err := s.supervisor.Update(r.Context(), id, updated); err != nil {
		s.logger.Error("tank stored but supervisor not updated", "tank_id", updated.ID, "error", err)
		writeDomainError(w, err)
		return
	}

	s.deviceListChanged()
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteTank stops supervising a tank and removes it with its history.
func (s *Server) handleDeleteTank(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.supervisor.Remove(r.Context(), id); err != nil && !errors.Is(err, supervisor.ErrTankNotFound) {
		s.logger.Warn("removing tank from supervisor", "tank_id", id, "error", err)
	}
	err := s.registry.Delete(r.Context(), id)
	s.recordAudit(r, audit.ActionTankDelete, id, err, nil)
	if err != nil {
		s.logDomainError("deleting tank", err, r)
		writeDomainError(w, err)
		return
	}

	s.deviceListChanged()
	w.WriteHeader(http.StatusNoContent)
}

// handleReplaceTanks installs a whole new tank list and reconciles the
// supervisor with it.
func (s *Server) handleReplaceTanks(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	tanks := make([]tank.Tank, len(req.Tanks))
	for i, t := range req.Tanks {
		tanks[i] = t.tank()
	}

	previous := make(map[string]bool)
	for _, t := range s.registry.List() {
		previous[t.ID] = true
	}

	stored, err := s.registry.ReplaceAll(r.Context(), tanks)
	s.recordAudit(r, audit.ActionTankReplace, "", err, map[string]any{"count": len(tanks)})
	if err != nil {
		s.logDomainError("replacing tanks", err, r)
		writeDomainError(w, err)
		return
	}

	kept := make(map[string]bool, len(stored))
	for _, t := range stored {
		kept[t.ID] = true
	}
	for id := range previous {
		if kept[id] {
			continue
		}
		if err := s.supervisor.Remove(r.Context(), id); err != nil && !errors.Is(err, supervisor.ErrTankNotFound) {
			s.logger.Warn("removing replaced tank", "tank_id", id, "error", err)
		}
	}
	for _, t := range stored {
		var err error
		if previous[t.ID] {
			err = s.supervisor.Update(r.Context(), t.ID, t)
		} else {
			err = s.supervisor.Add(r.Context(), t)
		}
		if err != nil {
			s.logger.Warn("reconciling tank", "tank_id", t.ID, "error", err)
		}
	}

	s.deviceListChanged()
	writeJSON(w, http.StatusOK, map[string]any{
		"tanks": stored,
		"count": len(stored),
	})
}

// handleTankStatus returns one tank's connection and remote-access state.
func (s *Server) handleTankStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.supervisor.TankStatus(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tankStatusResponse{
		Connection:   status,
		RemoteAccess: s.arbiter.State(id),
	})
}

// handleListStatus returns the connection state of every supervised tank.
func (s *Server) handleListStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := s.supervisor.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"tanks": statuses,
		"count": len(statuses),
	})
}

// handleListHistory returns a tank's telemetry history, oldest first.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := s.history.List(r.Context(), id)
	if err != nil {
		s.logDomainError("listing history", err, r)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tank_id": id,
		"entries": entries,
		"count":   len(entries),
	})
}

// handleClearHistory empties a tank's telemetry history.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	removed, err := s.history.Clear(r.Context(), id)
	s.recordAudit(r, audit.ActionHistoryClear, id, err, map[string]any{"removed": removed})
	if err != nil {
		s.logDomainError("clearing history", err, r)
		writeDomainError(w, err)
		return
	}
	s.logger.Info("tank history cleared", "tank_id", id, "entries", removed, "by", subjectFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"tank_id": id,
		"removed": removed,
	})
}

func (s *Server) deviceListChanged() {
	if s.notifier != nil {
		s.notifier.DeviceListChanged()
	}
}

// logDomainError logs errors that map to 500.
func (s *Server) logDomainError(op string, err error, r *http.Request) {
	if status, _ := classify(err); status != http.StatusInternalServerError {
		return
	}
	s.logger.Error(op, "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
}
