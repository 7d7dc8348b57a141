/*
Package telemetry owns the lifecycle of the process-wide OpenTelemetry
backend: a no-op mode active from construction, a configured mode built by
Initialize, and safe transitions between them while spans are being created
on other goroutines.

The Provider hands out exactly one Tracer and one Meter for the life of the
process. Both are delegates: reconfiguration swaps their target atomically,
so code holding the handle keeps working across any number of Initialize,
InitializeNoOp and Shutdown calls without re-fetching it.

Configuration follows the otel.* property names (otel.traces.exporter,
otel.exporter.otlp.endpoint, ...) so existing collector deployments can be
pointed at without translation.
*/
package telemetry
