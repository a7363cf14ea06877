package e2e

import (
	"net/http"
	"testing"
)

func TestHealth_OK(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %v", result["status"])
	}

	queueStats, ok := result["queue"].(map[string]interface{})
	if !ok {
		t.Fatal("expected queue stats in health response")
	}
	if queueStats["workers"].(float64) != 2 {
		t.Errorf("expected 2 workers, got %v", queueStats["workers"])
	}
}
