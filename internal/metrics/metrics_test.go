package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLogin_CountsByResult はログイン結果ごとにカウントされることを検証する。
func TestRecordLogin_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("success")
	c.RecordLogin("success")
	c.RecordLogin("role_mismatch")

	if v := findMetric(t, reg, "alumniportal_login_attempts_total", map[string]string{"result": "success"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}
	if v := findMetric(t, reg, "alumniportal_login_attempts_total", map[string]string{"result": "role_mismatch"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("role_mismatch = %v, want 1", v)
	}
}

func TestRecordRegistrationAndProfileFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration("confirmation_pending")
	c.RecordProfileInsertFailure()
	c.RecordProfileInsertFailure()

	if v := findMetric(t, reg, "alumniportal_registrations_total", map[string]string{"outcome": "confirmation_pending"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("registrations = %v, want 1", v)
	}
	if v := findMetric(t, reg, "alumniportal_profile_insert_failures_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("profile_insert_failures = %v, want 2", v)
	}
}

func TestRecordLogout_LabelsRemoteFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogout(false)
	c.RecordLogout(true)
	c.RecordLogout(true)

	if v := findMetric(t, reg, "alumniportal_logouts_total", map[string]string{"remote": "ok"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("ok = %v, want 1", v)
	}
	if v := findMetric(t, reg, "alumniportal_logouts_total", map[string]string{"remote": "failed"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("failed = %v, want 2", v)
	}
}

func TestRecordSessionEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionEvent("SIGNED_IN")

	if v := findMetric(t, reg, "alumniportal_session_events_total", map[string]string{"event": "SIGNED_IN"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("SIGNED_IN = %v, want 1", v)
	}
}

// TestRecordHTTPRequest はステータス別カウンタとレイテンシが記録されることを検証する。
func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest("POST", 303, 150*time.Millisecond)
	c.RecordHTTPRequest("POST", 303, 50*time.Millisecond)

	if v := findMetric(t, reg, "alumniportal_http_requests_total", map[string]string{"method": "POST", "status_code": "303"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("http_requests_total = %v, want 2", v)
	}
	h := findMetric(t, reg, "alumniportal_http_request_duration_seconds", map[string]string{"method": "POST"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.19 || h.GetSampleSum() > 0.21 {
		t.Errorf("sample sum = %v, want ~0.2", h.GetSampleSum())
	}
}

// TestRegisterActiveStores はゲージが関数の戻り値を反映することを検証する。
func TestRegisterActiveStores(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	RegisterActiveStores(reg, func() int { return n })

	if v := findMetric(t, reg, "alumniportal_active_session_stores", nil).GetGauge().GetValue(); v != 3 {
		t.Errorf("active_session_stores = %v, want 3", v)
	}
	n = 5
	if v := findMetric(t, reg, "alumniportal_active_session_stores", nil).GetGauge().GetValue(); v != 5 {
		t.Errorf("active_session_stores = %v, want 5", v)
	}
}
