// Package influxdb writes gateway usage statistics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. The gateway
// records two measurements:
//   - gateway_sessions: live WebSocket sessions and broadcast totals
//   - gateway_logins: login attempts tagged by result
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLogin("success")
//
// Write errors surface asynchronously through SetOnError. Connection and
// health check errors are returned directly.
package influxdb
