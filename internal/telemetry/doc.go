// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry
