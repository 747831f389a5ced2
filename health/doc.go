// Package health models the health reporting that backs the gateway's
// /healthz endpoint.
//
// Every component in the bridge (the OPC UA input, the Modbus input,
// the threshold monitor, the plant simulator) self-reports a
// component.HealthStatus. The service manager polls those on an
// interval, converts each one with [FromComponentHealth], and records
// it in a shared [Monitor]. The gateway answers /healthz with
// [Monitor.AggregateHealth], which is the worst state across all
// components plus the individual sub-statuses.
//
// States are ordered: healthy < degraded < unhealthy. A component that
// is still running but accumulating errors reports degraded, which
// keeps /healthz at 200 while making the problem visible. Only an
// unhealthy aggregate turns /healthz into a 503.
//
// Error messages that reach a Status are redacted first: endpoint
// URLs, file paths, IP addresses, ports, and credential-looking
// key=value pairs are replaced with placeholders, since /healthz may
// be reachable from outside the plant network.
package health
