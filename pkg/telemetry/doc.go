// Package telemetry provides the observability plumbing of the converge agent.
//
// It integrates the eight-level log sink (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher.
//
// # Logging
//
// The log destination is resolved once when the logger is built:
//
//   - "console" writes "source (level): message" lines, colored by level.
//   - An absolute file path writes "timestamp source (level): message".
//   - "syslog" sends "message" to the system log, prefixed with "(source) "
//     when the source is not DefaultSource.
//
// Levels, from least to most severe: debug, info, notice, warning, err,
// alert, emerg, crit. Messages below the configured level are dropped.
//
//	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
//	    Level:       "info",
//	    Destination: telemetry.DestinationConsole,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithSource("file[/etc/motd]").Notice("mode changed")
//
// The logger owns the open file or syslog handle; Close must run on every
// exit path.
//
// # Tracing
//
// Runs, resource evaluations and state syncs each get a span:
//
//	ctx, span := tel.Tracer.StartResourceSpan(ctx, "/etc/motd")
//	defer telemetry.EndSpan(span, err)
//
// Exporters: stdout, otlp (gRPC) and none.
//
// # Metrics
//
// Reconciliation counters are kept on a private registry. Besides the
// optional HTTP endpoint served while watching, the registry can be written
// to a node-exporter textfile after every run with WriteTextfile.
package telemetry
