package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRun_WorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("ats", Static(StatusUp, "configured"))
	c.Register("redis", Ping(false, func(context.Context) error { return errors.New("refused") }))

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Components["redis"].Message != "refused" {
		t.Errorf("redis message = %q", report.Components["redis"].Message)
	}

	c.Register("postgres", Ping(true, nil))
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Errorf("status = %s, want down", got)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  int
	}{
		{"up", Static(StatusUp, ""), http.StatusOK},
		{"degraded stays ready", Static(StatusDegraded, "cache off"), http.StatusOK},
		{"down", Static(StatusDown, "db gone"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("dep", tt.check)
			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := report.Components["dep"]; !ok {
				t.Error("component missing from report")
			}
		})
	}
}
