package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/haasonsaas/nexus/internal/auth"
)

type abortRequest struct {
	RequestID string `json:"request_id"`
}

type abortResponse struct {
	Aborted bool `json:"aborted"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var body abortRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.RequestID == "" {
		writeErrorDetailed(w, http.StatusBadRequest, kindValidation, "request_id is required", "missing_required_field", "", nil)
		return
	}

	var userID *string
	if u, ok := auth.UserFromContext(r.Context()); ok {
		userID = &u.ID
	}

	aborted := s.aborts.Abort(body.RequestID, userID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(abortResponse{Aborted: aborted})
}
