// Package scaleagent is an in-process telemetry agent for autoscaling.
//
// The host application feeds it load signals:
//   - request queue time, read from the X-Request-Start header set by the
//     router or load balancer
//   - background job queue depth per queue
//   - requests in flight, application time and utilization
//
// Signals are aggregated in memory per metric and dimension set. A reporter
// goroutine drains the aggregates on a fixed interval and posts them, gzipped
// and optionally signed with HMAC-SHA256, to the control plane. Failed sends
// are retried with capped exponential backoff and then dropped; a rejected
// token switches reporting off for the life of the process. Collection never
// fails or blocks a request.
//
// The agent is configured with flags, SCALEAGENT_* environment variables and
// an optional YAML file. A configuration without a usable endpoint or token
// runs the agent in collection-only mode.
//
// The repository also ships a local report sink (cmd/sink) that stands in
// for the control plane during development, and a demo host (cmd/agent).
package scaleagent
