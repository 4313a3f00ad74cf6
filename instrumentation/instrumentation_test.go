package instrumentation

import (
	"context"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Meter("server") == nil {
		t.Error("Meter() returned nil")
	}
	if inst.Tracer("server") == nil {
		t.Error("Tracer() returned nil")
	}
	if inst.Metrics() == nil {
		t.Error("Metrics() returned nil")
	}
	if inst.MeterProvider() == nil {
		t.Error("MeterProvider() returned nil")
	}
	if inst.TracerProvider() == nil {
		t.Error("TracerProvider() returned nil")
	}
}

func TestNewDisabledUsesNoop(t *testing.T) {
	inst, err := New(Config{
		ServiceName: "oauth-test",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Recording against no-op providers must not panic.
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordHTTPRequest(ctx, "POST", "/token", 200, 1.5)
	m.RecordCodeIssued(ctx, "client-1")
	m.RecordCodeExchange(ctx, "client-1", "S256")
	m.RecordTokenRefresh(ctx, "client-1", true)
	m.RecordTokenRevocation(ctx, "client-1")
	m.RecordClientRegistration(ctx, "confidential")
	m.RecordTokenValidation(ctx, "success")
	m.RecordRateLimitExceeded(ctx, "token")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)
	m.RecordAuditEvent(ctx, "token_issued")
	m.RecordStorageOperation(ctx, "save_client", "success", 0.2)
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{ServiceName: "oauth-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	// Nil callbacks are allowed.
	err = inst.RegisterStorageSizeCallbacks(nil, nil, nil)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks(nil) error = %v", err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{ServiceName: "oauth-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestShouldLogClientIPs(t *testing.T) {
	inst, err := New(Config{LogClientIPs: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}
}
