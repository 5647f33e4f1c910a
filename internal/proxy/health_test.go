package proxy

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/nexus/internal/providers"
)

func TestHandleHealthzReportsDefaultProviderAndModel(t *testing.T) {
	facade := providers.NewFacade("openai", "key", "", nil)
	facade.DefaultModel = "gpt-5"

	s := NewServer(Config{
		Facades:         map[string]*providers.Facade{"openai": facade},
		DefaultProvider: "openai",
		RetentionDays:   30,
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	s.handleHealthz(w, req)

	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Provider != "openai" {
		t.Errorf("provider = %q, want openai", resp.Provider)
	}
	if resp.Model != "gpt-5" {
		t.Errorf("model = %q, want gpt-5", resp.Model)
	}
	if resp.Persistence.Enabled {
		t.Errorf("expected persistence disabled when store is nil")
	}
	if resp.Persistence.RetentionDays != 30 {
		t.Errorf("retentionDays = %d, want 30", resp.Persistence.RetentionDays)
	}
}
