package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRecordingAndHandler(t *testing.T) {
	m := NewMetrics("test")

	m.RecordPageFetched(7)
	m.RecordPagePersisted(7, 42)
	m.RecordTokenRefresh("success")
	m.RecordMediaDownload("downloaded")
	m.AddMediaBytes(1024)
	m.ObserveSyncDuration(7, 1.5)
	m.RecordSyncError("transient")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "test_pages_fetched_total") {
		t.Fatalf("expected metrics output to contain pages fetched metric")
	}
	if !strings.Contains(body, "test_media_bytes_total") {
		t.Fatalf("expected metrics output to contain media bytes metric")
	}

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("expected gather to succeed: %v", err)
	}

	if !metricHasLabel(families, "test_pages_fetched_total", "group_id", "7") {
		t.Fatalf("expected pages fetched metric for group 7")
	}
	if !metricHasLabel(families, "test_token_refreshes_total", "outcome", "success") {
		t.Fatalf("expected token refresh metric with success outcome")
	}
	if counterValue(families, "test_messages_persisted_total") != 42 {
		t.Fatalf("expected 42 persisted messages, got %v", counterValue(families, "test_messages_persisted_total"))
	}
}

func metricHasLabel(families []*dto.MetricFamily, name, key, value string) bool {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == key && label.GetValue() == value {
					return true
				}
			}
		}
	}
	return false
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
