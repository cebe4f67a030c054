// Package telemetry provides OpenTelemetry tracing and Prometheus metrics
// for command processing, stream appends, projections and reminders.
//
// Tracing is a no-op until InitProvider installs an exporter:
//
//	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
//	    ServiceName: "orders",
//	    Protocol:    "grpc",
//	    Endpoint:    "localhost:4317",
//	    Insecure:    true,
//	})
//	defer p.Shutdown(ctx)
//
// Metrics register with the default Prometheus registry on package load.
package telemetry
