package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定した名前とラベルを持つメトリクスを返す。
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
			if hasLabels(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return nil
}

func hasLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	if v := findMetric(t, reg, "eventboard_http_status_total", map[string]string{"status_code": "200"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("status 200 = %v, want 2", v)
	}
	if v := findMetric(t, reg, "eventboard_http_status_total", map[string]string{"status_code": "404"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("status 404 = %v, want 1", v)
	}
}

// TestRecordAuthAttempt_SeparatesResults は認証試行が操作と結果で分かれて記録されることを検証する。
func TestRecordAuthAttempt_SeparatesResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("signin", true)
	c.RecordAuthAttempt("signin", false)
	c.RecordAuthAttempt("signin", false)
	c.RecordAuthAttempt("signup", true)

	tests := []struct {
		op, result string
		want       float64
	}{
		{"signin", "success", 1},
		{"signin", "failure", 2},
		{"signup", "success", 1},
	}
	for _, tt := range tests {
		m := findMetric(t, reg, "eventboard_auth_attempts_total", map[string]string{"operation": tt.op, "result": tt.result})
		if v := m.GetCounter().GetValue(); v != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.op, tt.result, v, tt.want)
		}
	}
}

// TestRecordAttendanceToggle_LabelsByState は切り替え後の状態がラベルになることを検証する。
func TestRecordAttendanceToggle_LabelsByState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAttendanceToggle(true)
	c.RecordAttendanceToggle(false)
	c.RecordAttendanceToggle(true)

	if v := findMetric(t, reg, "eventboard_attendance_toggles_total", map[string]string{"attending": "true"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("attending=true = %v, want 2", v)
	}
	if v := findMetric(t, reg, "eventboard_attendance_toggles_total", map[string]string{"attending": "false"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("attending=false = %v, want 1", v)
	}
}

// TestRecordListingQuery_SupersededNotObserved は追い越された取得がヒストグラムに入らないことを検証する。
func TestRecordListingQuery_SupersededNotObserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordListingQuery(200*time.Millisecond, false)
	c.RecordListingQuery(5*time.Second, true)

	h := findMetric(t, reg, "eventboard_listing_query_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.19 || h.GetSampleSum() > 0.21 {
		t.Errorf("sample sum = %v, want ~0.2", h.GetSampleSum())
	}
	if v := findMetric(t, reg, "eventboard_listing_superseded_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("superseded = %v, want 1", v)
	}
}

// TestSetActiveClientSessions_SetsGauge はゲージが最後の値を保持することを検証する。
func TestSetActiveClientSessions_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveClientSessions(5)
	c.SetActiveClientSessions(3)

	if v := findMetric(t, reg, "eventboard_active_client_sessions", nil).GetGauge().GetValue(); v != 3 {
		t.Errorf("active sessions = %v, want 3", v)
	}
}

// TestRecordOrphanSignupsDeleted_AddsCount は削除件数が加算されることを検証する。
func TestRecordOrphanSignupsDeleted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOrphanSignupsDeleted(4)
	c.RecordOrphanSignupsDeleted(0)
	c.RecordOrphanSignupsDeleted(2)

	if v := findMetric(t, reg, "eventboard_orphan_signups_deleted_total", nil).GetCounter().GetValue(); v != 6 {
		t.Errorf("orphan signups = %v, want 6", v)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordEventMutation("create")
	c.RecordListingQuery(500*time.Millisecond, false)
	c.SetActiveClientSessions(1)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"eventboard_http_status_total",
		"eventboard_event_mutations_total",
		"eventboard_listing_query_seconds",
		"eventboard_active_client_sessions",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorとNopCollectorがMetricsCollectorを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
	var _ MetricsCollector = NopCollector{}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordEventMutation("delete")
	c2.RecordEventMutation("delete")
	c2.RecordEventMutation("delete")

	labels := map[string]string{"operation": "delete"}
	if v := findMetric(t, reg1, "eventboard_event_mutations_total", labels).GetCounter().GetValue(); v != 1 {
		t.Errorf("reg1 delete = %v, want 1", v)
	}
	if v := findMetric(t, reg2, "eventboard_event_mutations_total", labels).GetCounter().GetValue(); v != 2 {
		t.Errorf("reg2 delete = %v, want 2", v)
	}
}
