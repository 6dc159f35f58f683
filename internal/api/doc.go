// Package api provides the optional HTTP API and WebSocket stream for the
// action bridge.
//
// Endpoints:
//   - GET  /api/v1/health                 liveness and dependency checks
//   - GET  /api/v1/status                 dispatcher, runtime and connection stats
//   - GET  /api/v1/devices                configured devices (no keys)
//   - GET  /api/v1/devices/{name}         one device
//   - PUT  /api/v1/devices/{name}/state   {"on": bool}, queues a job, 202
//   - GET  /api/v1/commands               command log (needs the database)
//   - GET  /api/v1/commands/{id}          one command log entry
//   - GET  /api/v1/ws                     WebSocket stream of command outcomes
//   - GET  /metrics                       Prometheus exposition
//
// The server follows the same lifecycle as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
