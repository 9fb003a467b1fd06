// Package gateway serves the chat HTTP API.
//
// # Overview
//
// The gateway owns the HTTP server and translates requests into calls on the
// conversation service. Build wires every collaborator from configuration;
// New accepts prebuilt ones for tests and embedding.
//
// # HTTP API
//
//   - POST /api/messages/send - Record a user turn and the assistant's reply
//   - POST /api/messages/insert - Record an internal message (human agent, system)
//   - GET /api/conversations/{id}/messages - Read stored messages, oldest first
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (pings the store)
//   - GET /metrics - Prometheus metrics, when enabled
//
// Every API route answers OPTIONS with 204 and sets permissive CORS headers.
//
// # Request Bodies
//
// The message routes accept application/json or multipart/form-data. In
// multipart bodies, file parts may use any field name. Files are ordered by
// field name and read fully into memory.
//
// # Errors
//
// Errors are returned as {"error": "..."}. Malformed input and validation
// failures are 400; assistant, handoff and persistence failures are 500.
//
// # Idempotency
//
// A POST carrying an Idempotency-Key header is recorded on success. A repeat
// with the same key inside the TTL replays the recorded body with
// Idempotent-Replay: true instead of running again. A repeat while the first
// is still running gets 409.
//
// # Rate Limiting
//
// When limits.requests_per_second is set, each userId gets its own token
// bucket on the message routes. Exhausted buckets get 429.
package gateway
