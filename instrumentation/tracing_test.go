package instrumentation

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

// The span helpers must tolerate nil spans so callers can skip nil checks.
func TestSpanHelpersNilSafe(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	RecordError(nil, nil)
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddFlowAttributes(nil, "client", "subject", "read")
	AddChainAttributes(nil, "chain-1", 2)
	AddStorageAttributes(nil, "save_client", "memory")
	AddHTTPAttributes(nil, "POST", "/token", 200)
	AddSecurityAttributes(nil, "203.0.113.5")
}

func TestSpanHelpersWithRealSpan(t *testing.T) {
	inst, err := New(Config{ServiceName: "oauth-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tracer := inst.Tracer("server")
	_, span := tracer.Start(t.Context(), "test")
	defer span.End()

	RecordError(span, errors.New("boom"))
	SetSpanSuccess(span)
	AddFlowAttributes(span, "client", "subject", "read")
	AddChainAttributes(span, "", 0)
	AddSecurityAttributes(span, "")
}
