// Package fabric owns the worker's four ZeroMQ endpoints.
//
// A worker participates in the fabric through:
//   - Source: PULL socket on the upstream task queue
//   - Sink: ROUTER socket for identity-routed replies; sending to an
//     unknown peer identity is a hard error, never a silent drop
//   - Control: SUB socket subscribed to the kill topic only
//   - Fail: PUSH socket for failure reports, connected but reserved
//
// All endpoints are dialed once at startup and shared for the process
// lifetime. A dial failure on any configured endpoint is fatal; there is no
// reconnect logic above what the transport provides.
package fabric
