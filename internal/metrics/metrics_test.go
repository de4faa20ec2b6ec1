package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestInitSucceeds verifies that Init() registers metrics without error
func TestInitSucceeds(t *testing.T) {
	// Don't run in parallel since we're testing global state
	reg := prometheus.NewRegistry()

	if err := Init(reg); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	RecordRequest("GET", "/api/servers", "200")
	RecordRequestDuration("GET", "/api/servers", "200", 0.05)
	RecordAuthFailure("invalid_token")
	RecordRemoteCall("admin", "ok", 0.01)
	RecordTokenIssued("ro")
	RecordConsoleMessage("ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	for _, want := range []string{
		"sqld_gateway_requests_total",
		"sqld_gateway_request_duration_seconds",
		"sqld_gateway_auth_failures_total",
		"sqld_gateway_remote_calls_total",
		"sqld_gateway_remote_call_duration_seconds",
		"sqld_gateway_scoped_tokens_issued_total",
		"sqld_gateway_console_messages_total",
		"sqld_gateway_info",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered; found %v", want, names)
		}
	}
}

// TestRecordFunctionsDoNotPanic verifies that record functions handle nil metrics gracefully
func TestRecordFunctionsDoNotPanic(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Record function panicked: %v", r)
		}
	}()

	RecordRequest("GET", "/test", "200")
	RecordRequestDuration("GET", "/test", "200", 0.1)
	RecordAuthFailure("test_reason")
	RecordRemoteCall("data", "unreachable", 0.2)
	RecordTokenIssued("rw")
	RecordConsoleMessage("error")
}

func TestHandlerReturnsHTTPHandler(t *testing.T) {
	t.Parallel()

	if Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}

// TestRemoteCallLabels checks plane and outcome labels reach the exposition
func TestRemoteCallLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	RecordRemoteCall("admin", "ok", 0.01)
	RecordRemoteCall("data", "rejected", 0.02)
	RecordRemoteCall("data", "rejected", 0.03)

	output, err := GetMetricsText(reg)
	if err != nil {
		t.Fatalf("GetMetricsText() error: %v", err)
	}

	for _, want := range []string{
		`sqld_gateway_remote_calls_total{outcome="ok",plane="admin"} 1`,
		`sqld_gateway_remote_calls_total{outcome="rejected",plane="data"} 2`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestGetMetricsTextFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	RecordTokenIssued("ro")

	output, err := GetMetricsText(reg)
	if err != nil {
		t.Fatalf("GetMetricsText() unexpected error: %v", err)
	}
	if !strings.Contains(output, "# TYPE") {
		t.Error("Expected Prometheus format in output")
	}
	if !strings.Contains(output, `sqld_gateway_scoped_tokens_issued_total{permission="ro"} 1`) {
		t.Errorf("token counter missing:\n%s", output)
	}
}

// TestInitRegistrationErrors tests that Init returns errors when metrics are already registered
func TestInitRegistrationErrors(t *testing.T) {
	reg := prometheus.NewRegistry()

	if err := Init(reg); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}

	if err := Init(reg); err == nil {
		t.Fatal("expected error on duplicate registration, got nil")
	}
}
