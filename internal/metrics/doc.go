// Package metrics records agent lifecycle and interception counters through the
// OpenTelemetry metric API.
//
// The exporter is chosen by name: "none" keeps a meter provider without any
// output, "stdout" periodically prints the collected metrics, and "prometheus"
// exposes them through an http.Handler mounted by the server package.
package metrics
