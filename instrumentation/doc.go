// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// All instruments are created through a single Instrumentation instance so
// the server, storage, and security layers share one pair of providers. When
// instrumentation is disabled the instance is backed by no-op providers and
// recording has no measurable cost, so callers never need nil checks around
// metric recording.
//
// Meters and tracers are scoped per layer:
//
//	inst.Tracer("storage")  // github.com/nimbusauth/oauth/storage
//	inst.Meter("server")    // github.com/nimbusauth/oauth/server
//
// Storage backends report their sizes through observable gauges registered
// with RegisterStorageSizeCallbacks; the callbacks must be lock-free.
package instrumentation
