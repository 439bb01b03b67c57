package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tankwatch/internal/audit"
	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/telemetry"
)

// accessResponse reports the remote-access state after an operation.
type accessResponse struct {
	TankID string             `json:"tank_id"`
	State  remoteaccess.State `json:"state"`
}

// pointResponse is the result of a single-point read.
type pointResponse struct {
	TankID string `json:"tank_id"`
	Point  string `json:"point"`
	Value  any    `json:"value"`
}

// knownTank resolves the {id} parameter and writes 404 for unknown tanks.
func (s *Server) knownTank(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(id); err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return id, true
}

// handleRequestAccess asks the tank for a remote-control session. The
// decision arrives later as a remote-access-granted event.
func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.knownTank(w, r)
	if !ok {
		return
	}
	err := s.arbiter.Request(r.Context(), id)
	s.recordAudit(r, audit.ActionAccessRequest, id, err, nil)
	if err != nil {
		s.logDomainError("requesting remote access", err, r)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accessResponse{TankID: id, State: s.arbiter.State(id)})
}

// handleCloseAccess ends the session from the operator side.
func (s *Server) handleCloseAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.knownTank(w, r)
	if !ok {
		return
	}
	err := s.arbiter.Close(r.Context(), id)
	s.recordAudit(r, audit.ActionAccessClose, id, err, nil)
	if err != nil {
		s.logDomainError("closing remote access", err, r)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{TankID: id, State: s.arbiter.State(id)})
}

// handleResetAccess returns the tank's arbitration to idle.
func (s *Server) handleResetAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.knownTank(w, r)
	if !ok {
		return
	}
	err := s.arbiter.Reinitialize(r.Context(), id)
	s.recordAudit(r, audit.ActionAccessReset, id, err, nil)
	if err != nil {
		s.logDomainError("resetting remote access", err, r)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{TankID: id, State: s.arbiter.State(id)})
}

// handleCommand triggers stop, cold, agitate or wash during a granted session.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := s.knownTank(w, r)
	if !ok {
		return
	}
	cmd, valid := opcua.ParseCommand(chi.URLParam(r, "command"))
	if !valid {
		writeError(w, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("unknown command %q", chi.URLParam(r, "command")))
		return
	}

	err := s.arbiter.Command(r.Context(), id, cmd)
	s.recordAudit(r, audit.ActionCommand, id, err, map[string]any{"command": string(cmd)})
	if err != nil {
		s.logDomainError("sending tank command", err, r)
		writeDomainError(w, err)
		return
	}
	s.logger.Info("tank command sent", "tank_id", id, "command", string(cmd), "by", subjectFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"tank_id":      id,
		"command":      cmd,
		"acknowledged": true,
	})
}

// handleReadTemperature reads the tank temperature directly from the controller.
func (s *Server) handleReadTemperature(w http.ResponseWriter, r *http.Request) {
	s.readPoint(w, r, telemetry.PointTemperature)
}

// handleReadMode reads the tank operating mode directly from the controller.
func (s *Server) handleReadMode(w http.ResponseWriter, r *http.Request) {
	s.readPoint(w, r, telemetry.PointState)
}

func (s *Server) readPoint(w http.ResponseWriter, r *http.Request, point string) {
	id, ok := s.knownTank(w, r)
	if !ok {
		return
	}

	var value opcua.Variant
	err := s.supervisor.WithSession(r.Context(), id, func(session opcua.Session) error {
		var err error
		value, err = session.Read(r.Context(), opcua.ReadNodeID(point))
		return err
	})
	if err != nil {
		s.logDomainError("reading point", err, r)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pointResponse{TankID: id, Point: point, Value: value.Value})
}
