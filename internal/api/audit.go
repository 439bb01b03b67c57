package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/tankwatch/internal/audit"
)

// AuditLog stores operator actions. audit.SQLiteRepository satisfies it.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

var _ AuditLog = (*audit.SQLiteRepository)(nil)

// recordAudit stores one action. A failed write is logged and never
// fails the request.
func (s *Server) recordAudit(r *http.Request, action, tankID string, err error, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{
		Action:  action,
		TankID:  tankID,
		Subject: subjectFrom(r.Context()),
		Outcome: audit.OutcomeSuccess,
		Details: details,
	}
	if err != nil {
		e.Outcome = audit.OutcomeFailure
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["error"] = err.Error()
	}
	// The request may already be cancelled; the record should still land.
	if werr := s.audit.Create(context.WithoutCancel(r.Context()), e); werr != nil {
		s.logger.Warn("writing audit entry", "action", action, "tank_id", tankID, "error", werr)
	}
}

// handleListAudit returns audit entries, newest first.
// Query parameters: action, tank_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, audit.ListResult{Entries: []audit.Entry{}})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Action: q.Get("action"), TankID: q.Get("tank_id")}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, name+" must be an integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logDomainError("listing audit entries", err, r)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
