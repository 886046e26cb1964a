// Package api implements the gateway's HTTP REST surface and WebSocket
// broadcast channel.
//
// Routes:
//
//	POST /api/login?code=XXXXXX  redeem an enrollment code for a bearer token
//	GET  /api/login              always denied (code 4)
//	GET  /api/server             host snapshot (header _auth)
//	POST /api/codes              mint a code (admin roles)
//	GET  /api/audit              audit trail (admin roles)
//	GET  /api/health             liveness
//	GET  /ws/{token}             WebSocket upgrade, token in the path
//	GET  /metrics                Prometheus exposition, when enabled
//	GET  /*                      web client
//
// Every gateway route answers 200 with a JSON body. Failures carry
// {"error": ..., "code": n}; the code tells a client UI what to do next
// without saying why a credential was rejected.
//
// The Broadcast Hub holds authorized sessions. Host adapters publish
// events into it; Run fans each one out to every session in arrival order.
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
