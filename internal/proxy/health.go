package proxy

import (
	"encoding/json"
	"net/http"
	"time"
)

type persistenceHealth struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retentionDays"`
}

type healthResponse struct {
	Status      string            `json:"status"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	UptimeSecs  int64             `json:"uptime"`
	Persistence persistenceHealth `json:"persistence"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	facade, providerID, _ := s.facadeFor("")
	model := ""
	if facade != nil {
		model = facade.DefaultModel
	}

	resp := healthResponse{
		Status:     "ok",
		Provider:   providerID,
		Model:      model,
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
		Persistence: persistenceHealth{
			Enabled:       s.store != nil,
			RetentionDays: s.retentionDays,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
