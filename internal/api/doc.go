// Package api implements the HTTP reconfiguration API and live event feed
// for knxsync.
//
// This package provides:
//   - Entity configuration endpoints; every change is persisted and the
//     sync engine is reloaded with the full stored set
//   - API key (plaintext or Argon2id hash) to access token exchange (HS256 JWT)
//   - Status of the engine, the knxd connection and MQTT
//   - Group addresses recorded from bus traffic
//   - An audit log of entity changes
//   - A WebSocket hub relaying dispatcher events
//   - Prometheus metrics at /metrics
//
// # Routes
//
//	GET    /api/v1/health
//	POST   /api/v1/auth/token        {"api_key": "..."}
//	POST   /api/v1/auth/ws-ticket    bearer
//	GET    /api/v1/ws?ticket=...
//	GET    /api/v1/status            bearer
//	GET    /api/v1/bus/addresses     bearer
//	GET    /api/v1/audit             bearer  ?action=&entity_id=&limit=&offset=
//	GET    /api/v1/entities          bearer
//	GET    /api/v1/entities/{id}     bearer
//	PUT    /api/v1/entities/{id}     bearer
//	DELETE /api/v1/entities/{id}     bearer
//	GET    /metrics
//
// WebSocket connections use single-use tickets so access tokens never
// appear in URLs. Clients subscribe to "state_change", "telegram" and
// "reload" channels.
package api
