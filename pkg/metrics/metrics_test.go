package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func TestNew_ContractNamesRegistered(t *testing.T) {
	m := New()
	byName := gather(t, m)

	names := []string{
		"notifications_received",
		"emails_processed",
		"emails_skipped",
		"attachments_extracted",
		"processing_errors",
		"ocr_calls",
		"ocr_errors",
		"webhook_duration_seconds",
		"ocr_duration_seconds",
		"ocr_confidence",
		"blob_put_duration_seconds",
		"active_watches",
	}
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestNew_ErrorTypesPreInitialized(t *testing.T) {
	m := New()
	byName := gather(t, m)

	fam, ok := byName["processing_errors"]
	if !ok {
		t.Fatal("processing_errors not registered")
	}

	seen := make(map[string]float64)
	for _, metric := range fam.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "type" {
				seen[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}

	for _, typ := range errorTypes {
		v, ok := seen[typ]
		if !ok {
			t.Errorf("processing_errors{type=%q} series missing", typ)
			continue
		}
		if v != 0 {
			t.Errorf("processing_errors{type=%q} = %v, want 0", typ, v)
		}
	}
}

func TestNew_CountersStartAtZero(t *testing.T) {
	m := New()
	byName := gather(t, m)

	for _, name := range []string{"notifications_received", "emails_processed", "ocr_calls"} {
		fam := byName[name]
		if fam == nil || len(fam.GetMetric()) == 0 {
			t.Errorf("metric %q has no series", name)
			continue
		}
		if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 0 {
			t.Errorf("%s = %v at startup, want 0", name, v)
		}
	}
}

func TestMetrics_HTTPRequestDurationLabels(t *testing.T) {
	m := New()
	m.HTTPRequestDuration.WithLabelValues("GET", "/api/health", "200").Observe(0.01)

	byName := gather(t, m)
	fam, ok := byName["http_request_duration_seconds"]
	if !ok {
		t.Fatal("http_request_duration_seconds not registered")
	}
	if got := fam.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}
