package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(WSConnections)
	m.Inc(WSConnections)
	m.Inc(FramesRelayed)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `aero_webrtc_signaling_events_total{event="ws_connections"} 2`) {
		t.Errorf("missing ws_connections counter:\n%s", body)
	}
	if !strings.Contains(body, `aero_webrtc_signaling_events_total{event="frames_relayed"} 1`) {
		t.Errorf("missing frames_relayed counter:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type=%q", ct)
	}
}

func TestMetrics_NilReceiverInc(t *testing.T) {
	var m *Metrics
	m.Inc(WSConnections) // must not panic
}
