package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"jobeconomy.ai/internal/sim/admission"
	"jobeconomy.ai/internal/sim/dedup"
	"jobeconomy.ai/internal/sim/economy"
	"jobeconomy.ai/internal/sim/queue"
)

func family(t *testing.T, fams []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestRegistry_ReadsSources(t *testing.T) {
	reg, err := NewRegistry(Sources{
		Queue:  func() queue.Stats { return queue.Stats{Workers: 4, Submitted: 10, Completed: 7, Failed: 1, Pending: 2} },
		Dedup:  func() dedup.Stats { return dedup.Stats{Actors: 3, Entries: 5} },
		Engine: func() economy.Stats { return economy.Stats{LevelUps: 2, InboxDepth: 9} },
		Gate: func() admission.Stats {
			return admission.Stats{Admitted: 6, Rejected: map[admission.Reason]uint64{admission.ReasonExcludedZone: 4}}
		},
		Sessions: func() int { return 1 },
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if v := family(t, fams, "jobecon_queue_completed_total").GetMetric()[0].GetCounter().GetValue(); v != 7 {
		t.Fatalf("completed: %v", v)
	}
	if v := family(t, fams, "jobecon_queue_pending").GetMetric()[0].GetGauge().GetValue(); v != 2 {
		t.Fatalf("pending: %v", v)
	}
	if v := family(t, fams, "jobecon_dedup_entries").GetMetric()[0].GetGauge().GetValue(); v != 5 {
		t.Fatalf("entries: %v", v)
	}
	if v := family(t, fams, "jobecon_engine_level_ups_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Fatalf("level ups: %v", v)
	}

	rejected := family(t, fams, "jobecon_gate_rejected_total")
	if len(rejected.GetMetric()) != len(admission.Reasons) {
		t.Fatalf("expected one series per reason, got %d", len(rejected.GetMetric()))
	}
	found := false
	for _, m := range rejected.GetMetric() {
		if m.GetLabel()[0].GetValue() == string(admission.ReasonExcludedZone) {
			found = m.GetCounter().GetValue() == 4
		}
	}
	if !found {
		t.Fatalf("excluded_zone series missing or wrong")
	}
}

func TestHandler_ServesText(t *testing.T) {
	reg, err := NewRegistry(Sources{Sessions: func() int { return 2 }})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "jobecon_transport_sessions 2") {
		t.Fatalf("body missing sessions gauge:\n%s", body)
	}
}
