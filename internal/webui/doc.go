// Package webui serves the gateway's browser client.
//
// The client is embedded into the binary with go:embed. A directory on
// disk can replace it (gateway.static_dir) so operators can ship their
// own UI without rebuilding. Unknown paths fall back to index.html so
// client-side routing works.
package webui
